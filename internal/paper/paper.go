package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/model"
	"github.com/sawpanic/edgerun/internal/split"
	"github.com/sawpanic/edgerun/internal/stats"
)

// SelectionMode chooses which sides of an event become bets
type SelectionMode string

const (
	SelectEdge    SelectionMode = "edge"
	SelectTopPick SelectionMode = "top_pick"
)

// StakeExamples are the flat stakes re-simulated for comparison
var StakeExamples = []float64{50, 100, 250, 500}

// Config configures the paper backtest
type Config struct {
	Split           split.Window      `json:"split" yaml:"split"`
	Model           model.Hyperparams `json:"model" yaml:"model"`
	SelectionMode   SelectionMode     `json:"selection_mode" yaml:"selection_mode" validate:"oneof=edge top_pick"`
	EdgeMin         float64           `json:"edge_min" yaml:"edge_min"`
	MaxBetsPerEvent int               `json:"max_bets_per_event" yaml:"max_bets_per_event" validate:"gte=0"`
	Bankroll        float64           `json:"bankroll_start" yaml:"bankroll" validate:"gt=0"`
	FlatStake       float64           `json:"flat_stake_default" yaml:"flat_stake" validate:"gt=0"`
	KellyFraction   float64           `json:"kelly_fraction" yaml:"kelly_fraction" validate:"gt=0,lte=1"`
	KellyCap        float64           `json:"kelly_cap" yaml:"kelly_cap" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the paper backtest defaults
func DefaultConfig() Config {
	return Config{
		Split:           split.DefaultWindow(),
		Model:           model.DefaultHyperparams(),
		SelectionMode:   SelectEdge,
		EdgeMin:         0.015,
		MaxBetsPerEvent: 1,
		Bankroll:        10000,
		FlatStake:       100,
		KellyFraction:   0.25,
		KellyCap:        0.03,
	}
}

// Validate checks the selection and staking parameters
func (c Config) Validate() error {
	if c.SelectionMode != SelectEdge && c.SelectionMode != SelectTopPick {
		return errs.Invalid("selection_mode", "unknown mode %q, use edge or top_pick", c.SelectionMode)
	}
	if !(c.Bankroll > 0) || !(c.FlatStake > 0) {
		return errs.Invalid("flat_stake", "bankroll and flat stake must be > 0")
	}
	if !(c.KellyFraction > 0) || !(c.KellyCap > 0) {
		return errs.Invalid("kelly_fraction", "kelly fraction and cap must be > 0")
	}
	return c.Model.Validate()
}

// Bet is a selected side priced at fair odds
type Bet struct {
	*backtest.Side
	Decimal float64
}

// Entry is one settled bet in a strategy's ledger
type Entry struct {
	Bet           *Bet
	Stake         float64
	Profit        float64
	BankrollAfter float64
}

// StrategyResult is a settled staking strategy
type StrategyResult struct {
	Strategy      string   `json:"strategy"`
	BankrollStart float64  `json:"bankroll_start"`
	BankrollEnd   float64  `json:"bankroll_end"`
	AccruedIncome float64  `json:"accrued_income"`
	TotalStaked   float64  `json:"total_staked"`
	ROIOnStaked   float64  `json:"roi_on_staked"`
	NBets         int      `json:"n_bets"`
	Wins          int      `json:"wins"`
	Losses        int      `json:"losses"`
	WinRate       float64  `json:"win_rate"`
	AvgEdge       float64  `json:"avg_edge"`
	KellyFraction *float64 `json:"kelly_fraction,omitempty"`
	KellyCap      *float64 `json:"kelly_cap,omitempty"`

	Ledger []Entry `json:"-"`
}

// StakeExample is a flat-stake re-run summary
type StakeExample struct {
	FlatStake     float64 `json:"flat_stake"`
	BankrollStart float64 `json:"bankroll_start"`
	BankrollEnd   float64 `json:"bankroll_end"`
	AccruedIncome float64 `json:"accrued_income"`
	TotalStaked   float64 `json:"total_staked"`
	ROIOnStaked   float64 `json:"roi_on_staked"`
	NBets         int     `json:"n_bets"`
}

// DatasetSummary counts what the backtest ran on
type DatasetSummary struct {
	TrainRows    int `json:"train_rows"`
	TestRows     int `json:"test_rows"`
	TestEvents   int `json:"test_events"`
	SelectedBets int `json:"selected_bets"`
}

// PnL groups the strategy outcomes
type PnL struct {
	FlatDefault     StrategyResult `json:"flat_default"`
	FractionalKelly StrategyResult `json:"fractional_kelly"`
	FlatExamples    []StakeExample `json:"flat_stake_examples"`
}

// Artifacts lists the files a paper run wrote
type Artifacts struct {
	PredictionsCSV string `json:"predictions_csv,omitempty"`
	ReportJSON     string `json:"report_json,omitempty"`
}

// Report is the paper backtest artifact
type Report struct {
	CreatedAt time.Time      `json:"created_at"`
	Input     string         `json:"input"`
	Config    Config         `json:"config"`
	Dataset   DatasetSummary `json:"dataset"`
	PnL       PnL            `json:"pnl"`
	Artifacts Artifacts      `json:"artifacts"`

	predictions []Prediction
}

// Predictions returns one row per test side with its bet outcomes
func (r *Report) Predictions() []Prediction { return r.predictions }

// Run trains on the training window, selects bets on the test window and
// settles them under flat and fractional-Kelly staking.
func Run(ctx context.Context, records []*dataset.Record, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	part, err := cfg.Split.Apply(records)
	if err != nil {
		return nil, fmt.Errorf("paper backtest split: %w", err)
	}
	m, err := model.Fit(part.Train, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("paper backtest training: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := dataset.GroupByEvent(part.Test)
	dataset.SortEvents(events)
	scored := backtest.ScoreEvents(events, m)
	bets := cfg.Select(scored)

	flat := SimulateFlat(bets, cfg.Bankroll, cfg.FlatStake)
	kelly := SimulateKelly(bets, cfg.Bankroll, cfg.KellyFraction, cfg.KellyCap)

	examples := make([]StakeExample, 0, len(StakeExamples))
	for _, stake := range StakeExamples {
		sim := SimulateFlat(bets, cfg.Bankroll, stake)
		examples = append(examples, StakeExample{
			FlatStake:     stake,
			BankrollStart: sim.BankrollStart,
			BankrollEnd:   sim.BankrollEnd,
			AccruedIncome: sim.AccruedIncome,
			TotalStaked:   sim.TotalStaked,
			ROIOnStaked:   sim.ROIOnStaked,
			NBets:         sim.NBets,
		})
	}

	report := &Report{
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		Dataset: DatasetSummary{
			TrainRows:    len(part.Train),
			TestRows:     len(part.Test),
			TestEvents:   len(events),
			SelectedBets: len(bets),
		},
		PnL: PnL{
			FlatDefault:     flat,
			FractionalKelly: kelly,
			FlatExamples:    examples,
		},
		predictions: buildPredictions(scored, bets, flat, kelly),
	}

	log.Info().
		Str("mode", string(cfg.SelectionMode)).
		Int("bets", len(bets)).
		Float64("flat_income", flat.AccruedIncome).
		Float64("kelly_income", kelly.AccruedIncome).
		Msg("Paper backtest complete")

	return report, nil
}

// Select picks bets per event: the best-edge sides in top_pick mode (at least
// one), or the sides with edge >= EdgeMin in edge mode, at most MaxBetsPerEvent.
func (c Config) Select(events []*backtest.ScoredEvent) []*Bet {
	var selected []*Bet
	for _, ev := range events {
		cands := make([]*Bet, 0, len(ev.Sides))
		for _, s := range ev.Sides {
			dec, ok := stats.ImpliedDecimal(s.ImpliedProb)
			if !ok {
				dec = math.NaN()
			}
			cands = append(cands, &Bet{Side: s, Decimal: dec})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].Edge() > cands[j].Edge() })

		if c.SelectionMode == SelectTopPick {
			n := c.MaxBetsPerEvent
			if n < 1 {
				n = 1
			}
			selected = append(selected, cands[:min(n, len(cands))]...)
			continue
		}
		taken := 0
		for _, b := range cands {
			if taken >= c.MaxBetsPerEvent {
				break
			}
			if b.Edge() >= c.EdgeMin && stats.IsFinite(b.Decimal) {
				selected = append(selected, b)
				taken++
			}
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if !selected[i].StartsAt.Equal(selected[j].StartsAt) {
			return selected[i].StartsAt.Before(selected[j].StartsAt)
		}
		return selected[i].EventID < selected[j].EventID
	})
	return selected
}

// SimulateFlat stakes min(flatStake, bankroll) per bet until the bankroll is exhausted
func SimulateFlat(bets []*Bet, bankroll, flatStake float64) StrategyResult {
	res := StrategyResult{Strategy: "flat", BankrollStart: bankroll}
	for _, b := range bets {
		stake := math.Min(flatStake, bankroll)
		if stake <= 0 {
			break
		}
		bankroll = res.book(b, stake, bankroll)
	}
	res.finish(bankroll)
	return res
}

// SimulateKelly stakes bankroll*clamp(kelly*fraction, 0, cap), where kelly is
// (b*p - q)/b at net odds b and model probability p. Bets with no positive
// stake are skipped.
func SimulateKelly(bets []*Bet, bankroll, fraction, kellyCap float64) StrategyResult {
	res := StrategyResult{Strategy: "fractional_kelly", BankrollStart: bankroll, KellyFraction: &fraction, KellyCap: &kellyCap}
	for _, bet := range bets {
		b := bet.Decimal - 1
		if !stats.IsFinite(b) || b <= 0 {
			continue
		}
		p := bet.PModel
		raw := (b*p - (1 - p)) / b
		frac := math.Max(0, math.Min(kellyCap, raw*fraction))
		if frac <= 0 {
			continue
		}
		stake := math.Min(bankroll, bankroll*frac)
		if stake <= 0 {
			break
		}
		bankroll = res.book(bet, stake, bankroll)
	}
	res.finish(bankroll)
	return res
}

func (r *StrategyResult) book(b *Bet, stake, bankroll float64) float64 {
	profit := -stake
	if b.Won() {
		profit = stake * (b.Decimal - 1)
		r.Wins++
	} else {
		r.Losses++
	}
	bankroll += profit
	r.TotalStaked += stake
	r.Ledger = append(r.Ledger, Entry{Bet: b, Stake: stake, Profit: profit, BankrollAfter: bankroll})
	return bankroll
}

func (r *StrategyResult) finish(bankroll float64) {
	r.BankrollEnd = bankroll
	r.AccruedIncome = bankroll - r.BankrollStart
	r.NBets = len(r.Ledger)
	if r.TotalStaked > 0 {
		r.ROIOnStaked = r.AccruedIncome / r.TotalStaked
	}
	if r.NBets > 0 {
		r.WinRate = float64(r.Wins) / float64(r.NBets)
		edges := make([]float64, r.NBets)
		for i, e := range r.Ledger {
			edges[i] = e.Bet.Edge()
		}
		r.AvgEdge = stats.Mean(edges)
	}
}
