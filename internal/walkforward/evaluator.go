package walkforward

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/model"
	"github.com/sawpanic/edgerun/internal/montecarlo"
	"github.com/sawpanic/edgerun/internal/split"
	"github.com/sawpanic/edgerun/internal/stats"
)

// ModelResult is the model's settled run with its bootstrap interval
type ModelResult struct {
	backtest.SimulationResult
	BootstrapCI *BootstrapCI `json:"bootstrap_ci"`
}

// CoinSummary aggregates the per-window coin bettors
type CoinSummary struct {
	Runs                     int      `json:"runs"`
	MeanIncome               float64  `json:"mean_income"`
	P05Income                float64  `json:"p05_income"`
	P50Income                float64  `json:"p50_income"`
	P95Income                float64  `json:"p95_income"`
	MeanROI                  float64  `json:"mean_roi"`
	ModelBeatsCoinRate       *float64 `json:"model_beats_coin_rate"`
	ModelMinusCoinIncomeMean float64  `json:"model_minus_coin_income_mean"`
	ModelMinusCoinIncomeP05  float64  `json:"model_minus_coin_income_p05"`
	ModelMinusCoinIncomeP95  float64  `json:"model_minus_coin_income_p95"`
}

// Baselines are the heuristic and random strategies over the model's events
type Baselines struct {
	Favorite      backtest.SimulationResult `json:"favorite"`
	Underdog      backtest.SimulationResult `json:"underdog"`
	MarketTopProb backtest.SimulationResult `json:"market_top_prob"`
	Coin          CoinSummary               `json:"coin_monte_carlo"`
}

// WindowQuality counts the test events a window used and skipped
type WindowQuality struct {
	TestRows              int      `json:"test_rows"`
	TestEventsRaw         int      `json:"test_events_raw"`
	TestEventsUsed        int      `json:"test_events_used"`
	MalformedTestEvents   int      `json:"malformed_test_events"`
	MalformedTestEventIDs []string `json:"malformed_test_event_ids"`
}

// WindowMetrics is the outcome of one walk-forward window
type WindowMetrics struct {
	Model         ModelResult   `json:"model"`
	Baselines     Baselines     `json:"baselines"`
	Quality       WindowQuality `json:"quality"`
	Scores        model.Scores  `json:"scores"`
	ModelBetCount int           `json:"model_bet_count"`
	ModelBetRate  float64       `json:"model_bet_rate_vs_events"`
}

// Window trains on all seasons before TestSeason and evaluates on TestSeason
type Window struct {
	TestSeason   string        `json:"test_season"`
	TrainSeasons []string      `json:"train_seasons"`
	TrainRows    int           `json:"train_rows"`
	TestRows     int           `json:"test_rows"`
	Metrics      WindowMetrics `json:"metrics"`
}

// Summary aggregates across windows
type Summary struct {
	NWindows               int      `json:"n_windows"`
	ModelIncomeMean        float64  `json:"model_income_mean"`
	ModelIncomeStd         float64  `json:"model_income_std"`
	ModelROIMean           float64  `json:"model_roi_mean"`
	ModelROIStd            float64  `json:"model_roi_std"`
	ModelBeatsCoinRateMean *float64 `json:"model_beats_coin_rate_mean"`
	ModelBetRateMean       float64  `json:"model_bet_rate_mean"`
	ModelBetRateStd        float64  `json:"model_bet_rate_std"`
}

// DataQuality describes the full input
type DataQuality struct {
	TotalRows          int      `json:"total_rows"`
	Seasons            []string `json:"seasons"`
	RowsMissingOddsAvg int      `json:"rows_missing_odds_american_avg"`
}

// Report is the walk-forward artifact
type Report struct {
	CreatedAt   time.Time   `json:"created_at"`
	Input       string      `json:"input"`
	Config      Config      `json:"config"`
	DataQuality DataQuality `json:"data_quality"`
	Windows     []Window    `json:"walk_forward_windows"`
	Summary     Summary     `json:"summary"`
}

// Run evaluates every season from index MinTrainSeasons onward with a model
// trained fresh on all earlier seasons.
func Run(ctx context.Context, records []*dataset.Record, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seasons := split.Seasons(records)
	if len(seasons) < cfg.MinTrainSeasons+1 {
		return nil, errs.InsufficientDataError{
			Reason:   errs.ReasonNotEnoughSeasons,
			Message:  "not enough seasons for walk-forward",
			Have:     len(seasons),
			Required: cfg.MinTrainSeasons + 1,
		}
	}

	bySeason := split.BySeason(records)
	report := &Report{
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		DataQuality: DataQuality{
			TotalRows: len(records),
			Seasons:   seasons,
		},
		Windows: []Window{},
	}
	for _, r := range records {
		if !r.HasOdds() {
			report.DataQuality.RowsMissingOddsAvg++
		}
	}

	for i := cfg.MinTrainSeasons; i < len(seasons); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trainSeasons := append([]string(nil), seasons[:i]...)
		var train []*dataset.Record
		for _, s := range trainSeasons {
			train = append(train, bySeason[s]...)
		}
		test := bySeason[seasons[i]]
		if len(train) == 0 || len(test) == 0 {
			continue
		}
		if shared := split.SharedEvents(dataset.EventIDs(train), dataset.EventIDs(test)); len(shared) > 0 {
			return nil, errs.LeakageError{
				Reason:       errs.ReasonSharedEvents,
				Message:      fmt.Sprintf("%d event ids appear in both train seasons and test season %s", len(shared), seasons[i]),
				SharedEvents: shared,
			}
		}

		start := time.Now()
		metrics, err := runWindow(train, test, cfg, cfg.BootstrapSeed+int64(len(report.Windows)))
		if err != nil {
			return nil, fmt.Errorf("walk-forward window %s: %w", seasons[i], err)
		}
		report.Windows = append(report.Windows, Window{
			TestSeason:   seasons[i],
			TrainSeasons: trainSeasons,
			TrainRows:    len(train),
			TestRows:     len(test),
			Metrics:      *metrics,
		})

		log.Info().
			Str("test_season", seasons[i]).
			Int("train_rows", len(train)).
			Int("bets", metrics.ModelBetCount).
			Float64("income", metrics.Model.AccruedIncome).
			Float64("roi", metrics.Model.ROIOnStaked).
			Dur("elapsed", time.Since(start)).
			Msg("Walk-forward window complete")
	}

	report.Summary = Summarize(report.Windows)
	return report, nil
}

func runWindow(train, test []*dataset.Record, cfg Config, bootstrapSeed int64) (*WindowMetrics, error) {
	m, err := model.Fit(train, cfg.Model)
	if err != nil {
		return nil, err
	}

	events, malformed := dataset.CleanEvents(test)
	if len(malformed) > 0 {
		log.Warn().Int("malformed_events", len(malformed)).Msg("Skipping test events without exactly two rows")
	}
	scored := backtest.ScoreEvents(events, m)
	modelPicks, eligible := backtest.ModelPicks(scored, cfg.EdgeMin)

	var favorite, underdog, marketTop []*dataset.Record
	for _, ev := range scored {
		if !eligible[ev.ID] {
			continue
		}
		favorite = append(favorite, ev.Favorite().Record)
		underdog = append(underdog, ev.Underdog().Record)
		marketTop = append(marketTop, ev.Favorite().Record)
	}

	staking := cfg.staking()
	payout := backtest.AmericanPayout(cfg.SlippageBps)
	modelRun := backtest.SettleFlat(backtest.Records(modelPicks), staking, payout)

	coinIncomes := make([]float64, 0, cfg.CoinSeeds)
	coinROIs := make([]float64, 0, cfg.CoinSeeds)
	deltas := make([]float64, 0, cfg.CoinSeeds)
	beats := 0
	for s := 1; s <= cfg.CoinSeeds; s++ {
		rng := stats.NewMulberry32(int64(s))
		coin := backtest.SettleFlat(montecarlo.FlipSides(scored, eligible, rng), staking, payout)
		coinIncomes = append(coinIncomes, coin.AccruedIncome)
		coinROIs = append(coinROIs, coin.ROIOnStaked)
		deltas = append(deltas, modelRun.AccruedIncome-coin.AccruedIncome)
		if modelRun.AccruedIncome > coin.AccruedIncome {
			beats++
		}
	}
	coin := CoinSummary{
		Runs:                     cfg.CoinSeeds,
		MeanIncome:               stats.Mean(coinIncomes),
		P05Income:                stats.Percentile(coinIncomes, 0.05),
		P50Income:                stats.Percentile(coinIncomes, 0.5),
		P95Income:                stats.Percentile(coinIncomes, 0.95),
		MeanROI:                  stats.Mean(coinROIs),
		ModelMinusCoinIncomeMean: stats.Mean(deltas),
		ModelMinusCoinIncomeP05:  stats.Percentile(deltas, 0.05),
		ModelMinusCoinIncomeP95:  stats.Percentile(deltas, 0.95),
	}
	if cfg.CoinSeeds > 0 {
		rate := float64(beats) / float64(cfg.CoinSeeds)
		coin.ModelBeatsCoinRate = &rate
	}

	metrics := &WindowMetrics{
		Model: ModelResult{
			SimulationResult: modelRun,
			BootstrapCI:      Bootstrap(modelPicks, cfg, bootstrapSeed),
		},
		Baselines: Baselines{
			Favorite:      backtest.SettleFlat(favorite, staking, payout),
			Underdog:      backtest.SettleFlat(underdog, staking, payout),
			MarketTopProb: backtest.SettleFlat(marketTop, staking, payout),
			Coin:          coin,
		},
		Quality: WindowQuality{
			TestRows:              len(test),
			TestEventsRaw:         len(dataset.GroupByEvent(test)),
			TestEventsUsed:        len(events),
			MalformedTestEvents:   len(malformed),
			MalformedTestEventIDs: malformed,
		},
		Scores:        m.Score(test),
		ModelBetCount: len(modelPicks),
	}
	if len(events) > 0 {
		metrics.ModelBetRate = float64(len(modelPicks)) / float64(len(events))
	}
	return metrics, nil
}

// Summarize aggregates window outcomes. The beat-coin mean is nil when no
// window ran a coin comparison.
func Summarize(windows []Window) Summary {
	incomes := make([]float64, len(windows))
	rois := make([]float64, len(windows))
	betRates := make([]float64, len(windows))
	var beatRates []float64
	for i, w := range windows {
		incomes[i] = w.Metrics.Model.AccruedIncome
		rois[i] = w.Metrics.Model.ROIOnStaked
		betRates[i] = w.Metrics.ModelBetRate
		if r := w.Metrics.Baselines.Coin.ModelBeatsCoinRate; r != nil && stats.IsFinite(*r) {
			beatRates = append(beatRates, *r)
		}
	}

	s := Summary{
		NWindows:         len(windows),
		ModelIncomeMean:  stats.Mean(incomes),
		ModelIncomeStd:   stats.Std(incomes),
		ModelROIMean:     stats.Mean(rois),
		ModelROIStd:      stats.Std(rois),
		ModelBetRateMean: stats.Mean(betRates),
		ModelBetRateStd:  stats.Std(betRates),
	}
	if len(beatRates) > 0 {
		m := stats.Mean(beatRates)
		s.ModelBeatsCoinRateMean = &m
	}
	return s
}
