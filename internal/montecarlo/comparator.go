package montecarlo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/model"
	"github.com/sawpanic/edgerun/internal/split"
	"github.com/sawpanic/edgerun/internal/stats"
)

// tieTolerance is the income difference treated as a tie
const tieTolerance = 1e-9

// Config configures the model-versus-coin comparison
type Config struct {
	Split            split.Window      `json:"split" yaml:"split"`
	Model            model.Hyperparams `json:"model" yaml:"model"`
	ModelEdgeMin     float64           `json:"model_edge_min" yaml:"model_edge_min"`
	Bankroll         float64           `json:"bankroll" yaml:"bankroll" validate:"gt=0"`
	FlatStake        float64           `json:"flat_stake" yaml:"flat_stake" validate:"gt=0"`
	CoinBetProb      float64           `json:"coin_bet_prob" yaml:"coin_bet_prob" validate:"gte=0,lte=1"`
	CoinFollowsModel bool              `json:"coin_follows_model" yaml:"coin_follows_model"`
	Seeds            int               `json:"seeds" yaml:"seeds" validate:"gt=0"`
	StartSeed        int64             `json:"start_seed" yaml:"start_seed"`
}

// DefaultConfig returns the comparison defaults
func DefaultConfig() Config {
	return Config{
		Split:            split.DefaultWindow(),
		Model:            model.DefaultHyperparams(),
		ModelEdgeMin:     -0.02,
		Bankroll:         10000,
		FlatStake:        100,
		CoinBetProb:      1,
		CoinFollowsModel: true,
		Seeds:            200,
		StartSeed:        1,
	}
}

// Validate checks the parameters that have no safe interpretation
func (c Config) Validate() error {
	if !(c.CoinBetProb >= 0 && c.CoinBetProb <= 1) {
		return errs.Invalid("coin_bet_prob", "must be in [0,1], got %g", c.CoinBetProb)
	}
	if c.Seeds <= 0 {
		return errs.Invalid("seeds", "must be > 0, got %d", c.Seeds)
	}
	if !(c.Bankroll > 0) {
		return errs.Invalid("bankroll", "must be > 0, got %g", c.Bankroll)
	}
	if !(c.FlatStake > 0) {
		return errs.Invalid("flat_stake", "must be > 0, got %g", c.FlatStake)
	}
	return c.Model.Validate()
}

// SplitAudit describes the data the comparison ran on
type SplitAudit struct {
	split.Audit
	TestEventsUsed        int      `json:"test_events_used"`
	MalformedTestEvents   int      `json:"malformed_test_events_skipped"`
	MalformedTestEventIDs []string `json:"malformed_test_event_ids"`
}

// SeedRun is one coin bettor's outcome against the fixed model run
type SeedRun struct {
	Seed              int64   `json:"seed"`
	CoinNBets         int     `json:"coin_n_bets"`
	CoinAccruedIncome float64 `json:"coin_accrued_income"`
	CoinROIOnStaked   float64 `json:"coin_roi_on_staked"`
	DeltaIncome       float64 `json:"delta_model_minus_coin_accrued_income"`
	DeltaROI          float64 `json:"delta_model_minus_coin_roi"`
}

// Summary aggregates model-minus-coin deltas over all seeds
type Summary struct {
	NRuns              int     `json:"n_runs"`
	ModelBeatsCoinRate float64 `json:"model_beats_coin_rate"`
	ModelTiesCoinRate  float64 `json:"model_ties_coin_rate"`
	DeltaIncomeMean    float64 `json:"delta_income_mean"`
	DeltaIncomeStd     float64 `json:"delta_income_std"`
	DeltaIncomeP05     float64 `json:"delta_income_p05"`
	DeltaIncomeP50     float64 `json:"delta_income_p50"`
	DeltaIncomeP95     float64 `json:"delta_income_p95"`
	DeltaROIMean       float64 `json:"delta_roi_mean"`
	DeltaROIP05        float64 `json:"delta_roi_p05"`
	DeltaROIP50        float64 `json:"delta_roi_p50"`
	DeltaROIP95        float64 `json:"delta_roi_p95"`
}

// Report is the model-versus-coin artifact
type Report struct {
	CreatedAt  time.Time                 `json:"created_at"`
	Input      string                    `json:"input"`
	Config     Config                    `json:"config"`
	SplitAudit SplitAudit                `json:"split_audit"`
	ModelRun   backtest.SimulationResult `json:"model_baseline_run"`
	Summary    Summary                   `json:"monte_carlo_summary"`
	SeedRuns   []SeedRun                 `json:"seed_runs"`
}

// Run trains on the train window, fixes the model's bets on the test window,
// then settles one coin bettor per seed over the same events. Both sides are
// priced at fair odds from the implied probability.
func Run(ctx context.Context, records []*dataset.Record, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	part, err := cfg.Split.Apply(records)
	if err != nil {
		return nil, fmt.Errorf("model vs coin split: %w", err)
	}

	m, err := model.Fit(part.Train, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("model vs coin training: %w", err)
	}

	events, malformed := dataset.CleanEvents(part.Test)
	scored := backtest.ScoreEvents(events, m)
	modelPicks, eligible := backtest.ModelPicks(scored, cfg.ModelEdgeMin)

	staking := backtest.Staking{Bankroll: cfg.Bankroll, FlatStake: cfg.FlatStake, MaxStakePct: 1}
	payout := backtest.ImpliedPayout()
	modelRun := backtest.SettleFlat(backtest.Records(modelPicks), staking, payout)

	coinEligible := eligible
	if !cfg.CoinFollowsModel {
		coinEligible = nil
	}

	runs := make([]SeedRun, 0, cfg.Seeds)
	for s := 0; s < cfg.Seeds; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seed := cfg.StartSeed + int64(s)
		rng := stats.NewMulberry32(seed)
		coin := backtest.SettleFlat(CoinBets(scored, coinEligible, rng, cfg.CoinBetProb), staking, payout)
		runs = append(runs, SeedRun{
			Seed:              seed,
			CoinNBets:         coin.NBets,
			CoinAccruedIncome: coin.AccruedIncome,
			CoinROIOnStaked:   coin.ROIOnStaked,
			DeltaIncome:       modelRun.AccruedIncome - coin.AccruedIncome,
			DeltaROI:          modelRun.ROIOnStaked - coin.ROIOnStaked,
		})
	}

	report := &Report{
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		SplitAudit: SplitAudit{
			Audit:                 part.Audit,
			TestEventsUsed:        len(events),
			MalformedTestEvents:   len(malformed),
			MalformedTestEventIDs: malformed,
		},
		ModelRun: modelRun,
		Summary:  Summarize(runs),
		SeedRuns: runs,
	}

	log.Info().
		Int("seeds", cfg.Seeds).
		Int("model_bets", modelRun.NBets).
		Float64("model_income", modelRun.AccruedIncome).
		Float64("beats_coin_rate", report.Summary.ModelBeatsCoinRate).
		Int("malformed_events", len(malformed)).
		Msg("Model vs coin Monte Carlo complete")

	return report, nil
}

// Summarize aggregates seed runs
func Summarize(runs []SeedRun) Summary {
	s := Summary{NRuns: len(runs)}
	if len(runs) == 0 {
		return s
	}
	deltas := make([]float64, len(runs))
	rois := make([]float64, len(runs))
	beats, ties := 0, 0
	for i, r := range runs {
		deltas[i] = r.DeltaIncome
		rois[i] = r.DeltaROI
		if r.DeltaIncome > 0 {
			beats++
		}
		if math.Abs(r.DeltaIncome) < tieTolerance {
			ties++
		}
	}
	n := float64(len(runs))
	s.ModelBeatsCoinRate = float64(beats) / n
	s.ModelTiesCoinRate = float64(ties) / n
	s.DeltaIncomeMean = stats.Mean(deltas)
	s.DeltaIncomeStd = stats.Std(deltas)
	s.DeltaIncomeP05 = stats.Percentile(deltas, 0.05)
	s.DeltaIncomeP50 = stats.Percentile(deltas, 0.5)
	s.DeltaIncomeP95 = stats.Percentile(deltas, 0.95)
	s.DeltaROIMean = stats.Mean(rois)
	s.DeltaROIP05 = stats.Percentile(rois, 0.05)
	s.DeltaROIP50 = stats.Percentile(rois, 0.5)
	s.DeltaROIP95 = stats.Percentile(rois, 0.95)
	return s
}
