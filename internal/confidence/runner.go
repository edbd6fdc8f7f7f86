package confidence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/model"
	"github.com/sawpanic/edgerun/internal/split"
	"github.com/sawpanic/edgerun/internal/stats"
)

// Tuning records how the active thresholds were chosen
type Tuning struct {
	Mode               ThresholdMode `json:"mode"`
	UsedFallbackManual bool          `json:"used_fallback_manual"`
	Reason             string        `json:"reason,omitempty"`
	CalibrationEvents  int           `json:"calibration_events,omitempty"`
	SubtrainEvents     int           `json:"subtrain_events,omitempty"`
	Chosen             *Candidate    `json:"chosen,omitempty"`
}

// BucketStats summarizes the test picks falling in one bucket
type BucketStats struct {
	Bucket        Bucket  `json:"bucket"`
	N             int     `json:"n"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgEdge       float64 `json:"avg_edge"`
	HitRate       float64 `json:"hit_rate"`
}

// DataQuality counts the rows and events the final evaluation used
type DataQuality struct {
	TrainRows              int      `json:"train_rows"`
	TestRows               int      `json:"test_rows"`
	TestEventsRaw          int      `json:"test_events_raw"`
	TestEventsUsed         int      `json:"test_events_used"`
	SkippedMalformedEvents int      `json:"skipped_malformed_events"`
	SkippedMalformedIDs    []string `json:"skipped_malformed_event_ids"`
}

// Recommendation names the policy with the best test ROI
type Recommendation struct {
	BestPolicyByROI PolicyResult `json:"best_policy_by_roi"`
	Note            string       `json:"note"`
}

// ActiveThresholds is the threshold section read back by governance and policy publishing
type ActiveThresholds struct {
	Mode    ThresholdMode `json:"threshold_mode"`
	BucketA float64       `json:"bucket_a_active"`
	BucketB float64       `json:"bucket_b_active"`
}

// Report is the confidence policy artifact
type Report struct {
	CreatedAt      time.Time        `json:"created_at"`
	Input          string           `json:"input"`
	Config         Config           `json:"config"`
	Active         ActiveThresholds `json:"active_thresholds"`
	Tuning         Tuning           `json:"threshold_tuning"`
	DataQuality    DataQuality      `json:"data_quality"`
	Buckets        []BucketStats    `json:"confidence_buckets"`
	PolicyResults  []PolicyResult   `json:"policy_results"`
	Recommendation Recommendation   `json:"recommendation"`
	Picks          []backtest.Pick  `json:"picks"`
}

// Policy returns the named policy's result
func (r *Report) Policy(name PolicyName) (PolicyResult, bool) {
	for _, p := range r.PolicyResults {
		if p.Policy == name {
			return p, true
		}
	}
	return PolicyResult{}, false
}

// Run chooses thresholds (tuned on a calibration tail of the training window
// in hybrid mode), then trains on the full training window and reports
// bucket and policy performance on the test window.
func Run(ctx context.Context, records []*dataset.Record, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	part, err := cfg.Split.Apply(records)
	if err != nil {
		return nil, fmt.Errorf("confidence split: %w", err)
	}

	active := Thresholds{A: cfg.BucketA, B: cfg.BucketB}
	tuning := Tuning{Mode: ModeManual}
	if cfg.ThresholdMode == ModeHybrid {
		tuning, err = cfg.tuneOnCalibration(ctx, part.Train)
		if err != nil {
			return nil, err
		}
		if tuning.Chosen != nil {
			active = Thresholds{A: tuning.Chosen.BucketA, B: tuning.Chosen.BucketB}
		}
	}

	m, err := model.Fit(part.Train, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("confidence training: %w", err)
	}
	events, malformed := dataset.CleanEvents(part.Test)
	picks := cfg.BuildPicks(backtest.ScoreEvents(events, m))

	results := make([]PolicyResult, 0, len(Policies))
	for _, p := range Policies {
		results = append(results, cfg.Simulate(picks, p, active))
	}
	ranked := append([]PolicyResult(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ROIOnStaked > ranked[j].ROIOnStaked })

	report := &Report{
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		Active:    ActiveThresholds{Mode: cfg.ThresholdMode, BucketA: active.A, BucketB: active.B},
		Tuning:    tuning,
		DataQuality: DataQuality{
			TrainRows:              len(part.Train),
			TestRows:               len(part.Test),
			TestEventsRaw:          part.Audit.TestEvents,
			TestEventsUsed:         len(picks),
			SkippedMalformedEvents: len(malformed),
			SkippedMalformedIDs:    malformed,
		},
		Buckets:       bucketStats(picks, active),
		PolicyResults: results,
		Recommendation: Recommendation{
			BestPolicyByROI: ranked[0],
			Note:            "Prefer the best-ROI policy only when its bet count is an adequate sample.",
		},
		Picks: make([]backtest.Pick, 0, len(picks)),
	}
	for _, p := range picks {
		pick := backtest.NewPick(p.Side)
		score := p.Score
		pick.ConfidenceScore = &score
		pick.Bucket = string(active.BucketFor(p.Score))
		report.Picks = append(report.Picks, pick)
	}

	ab, _ := report.Policy(PolicyAB)
	log.Info().
		Float64("bucket_a", active.A).
		Float64("bucket_b", active.B).
		Bool("fallback_manual", tuning.UsedFallbackManual).
		Int("picks", len(picks)).
		Int("ab_bets", ab.NBets).
		Float64("ab_roi", ab.ROIOnStaked).
		Str("recommended", string(ranked[0].Policy)).
		Msg("Confidence policy backtest complete")

	return report, nil
}

func (c Config) tuneOnCalibration(ctx context.Context, train []*dataset.Record) (Tuning, error) {
	cal, err := split.CalibrationSplit(train, c.CalibrationRatio)
	if err != nil {
		return Tuning{}, err
	}
	tuning := Tuning{
		Mode:              ModeHybrid,
		CalibrationEvents: cal.CalibEvents,
		SubtrainEvents:    cal.SubtrainEvents,
	}
	if !cal.Sufficient(c.MinCalibEvents) {
		if c.StrictCalib {
			return Tuning{}, cal.InsufficientError(c.MinCalibEvents)
		}
		tuning.UsedFallbackManual = true
		tuning.Reason = fmt.Sprintf("Calibration event count too low (%d < %d).", cal.CalibEvents, c.MinCalibEvents)
		log.Warn().Int("calibration_events", cal.CalibEvents).Int("required", c.MinCalibEvents).Msg("Falling back to manual thresholds")
		return tuning, nil
	}
	if err := ctx.Err(); err != nil {
		return Tuning{}, err
	}

	m, err := model.Fit(cal.Subtrain, c.Model)
	if err != nil {
		return Tuning{}, fmt.Errorf("calibration training: %w", err)
	}
	events, _ := dataset.CleanEvents(cal.Calib)
	chosen := c.Tune(c.BuildPicks(backtest.ScoreEvents(events, m)))
	if chosen == nil {
		tuning.UsedFallbackManual = true
		tuning.Reason = FallbackNoPair
		log.Warn().Msg("No threshold pair met minimum-bet guardrails, using manual thresholds")
		return tuning, nil
	}
	tuning.Chosen = chosen
	return tuning, nil
}

func bucketStats(picks []ScoredPick, t Thresholds) []BucketStats {
	out := make([]BucketStats, 0, 3)
	for _, b := range []Bucket{BucketA, BucketB, BucketC} {
		var scores, edges, hits []float64
		for _, p := range picks {
			if t.BucketFor(p.Score) != b {
				continue
			}
			scores = append(scores, p.Score)
			edges = append(edges, p.Edge())
			hits = append(hits, float64(p.TeamWin))
		}
		out = append(out, BucketStats{
			Bucket:        b,
			N:             len(scores),
			AvgConfidence: stats.Mean(scores),
			AvgEdge:       stats.Mean(edges),
			HitRate:       stats.Mean(hits),
		})
	}
	return out
}
