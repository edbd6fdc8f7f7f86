package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/dataset"
)

type fixedPredictor map[string]float64

func (f fixedPredictor) Predict(r *dataset.Record) float64 { return f[r.TeamID] }

func side(team string, implied, odds float64, win int) *dataset.Record {
	return &dataset.Record{
		EventID:         "e1",
		TeamID:          team,
		StartsAt:        time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		ImpliedProb:     implied,
		OddsAmericanAvg: odds,
		BooksAggregated: 3,
		TeamWin:         win,
	}
}

func TestScoredEventSelection(t *testing.T) {
	ev := &dataset.Event{ID: "e1", Rows: []*dataset.Record{
		side("FAV", 0.7, -233, 0),
		side("DOG", 0.3, 233, 1),
	}}
	scored := ScoreEvents([]*dataset.Event{ev}, fixedPredictor{"FAV": 0.66, "DOG": 0.34})
	require.Len(t, scored, 1)

	se := scored[0]
	assert.Equal(t, "FAV", se.Top().TeamID)
	assert.Equal(t, "FAV", se.Favorite().TeamID)
	assert.Equal(t, "DOG", se.Underdog().TeamID)
	assert.InDelta(t, -0.04, se.Top().Edge(), 1e-12)
	assert.Equal(t, 6.0, se.BooksAggregated())

	picks, eligible := ModelPicks(scored, -0.02)
	assert.Empty(t, picks)
	assert.False(t, eligible["e1"])

	picks, eligible = ModelPicks(scored, -0.05)
	require.Len(t, picks, 1)
	assert.True(t, eligible["e1"])

	p := NewPick(picks[0])
	require.NotNil(t, p.OddsAmericanAvg)
	assert.Equal(t, -233.0, *p.OddsAmericanAvg)
	assert.False(t, p.Won)
}

func TestSettleFlat(t *testing.T) {
	picks := []*dataset.Record{
		side("A", 0.5, 100, 1),  // +100 at 2.0
		side("B", 0.5, 100, 0),  // -100
		side("C", 0.5, 0, 1),    // unpriceable, skipped
		side("D", 0.5, -200, 1), // +50 at 1.5
	}
	res := SettleFlat(picks, Staking{Bankroll: 10000, FlatStake: 100, MaxStakePct: 0.03}, AmericanPayout(0))

	assert.Equal(t, 3, res.NBets)
	assert.Equal(t, 2, res.Wins)
	assert.Equal(t, 1, res.Losses)
	assert.InDelta(t, 300, res.TotalStaked, 1e-9)
	assert.InDelta(t, 50, res.AccruedIncome, 1e-9)
	assert.InDelta(t, 50.0/300.0, res.ROIOnStaked, 1e-12)
	assert.InDelta(t, 100.0/10100.0, res.MaxDrawdown, 1e-12)
	assert.Equal(t, []float64{100, -100, 50}, res.Profits)
}

func TestSettleFlatStakeCap(t *testing.T) {
	picks := []*dataset.Record{side("A", 0.5, 100, 0), side("B", 0.5, 100, 0)}
	res := SettleFlat(picks, Staking{Bankroll: 1000, FlatStake: 100, MaxStakePct: 0.03}, AmericanPayout(0))

	// 3% of 1000, then 3% of 970
	assert.InDelta(t, 30+29.1, res.TotalStaked, 1e-9)
	assert.InDelta(t, 1000-59.1, res.BankrollEnd, 1e-9)
}

func TestSettleFlatStopsWhenBroke(t *testing.T) {
	picks := []*dataset.Record{side("A", 0.5, 100, 0), side("B", 0.5, 100, 1)}
	res := SettleFlat(picks, Staking{Bankroll: 50, FlatStake: 100, MaxStakePct: 1}, ImpliedPayout())

	assert.Equal(t, 1, res.NBets)
	assert.Equal(t, 0.0, res.BankrollEnd)
	assert.Equal(t, 1.0, res.MaxDrawdown)
}

func TestSettleFlatEmpty(t *testing.T) {
	res := SettleFlat(nil, Staking{Bankroll: 100, FlatStake: 10, MaxStakePct: 1}, ImpliedPayout())
	assert.Equal(t, 0, res.NBets)
	assert.Equal(t, 0.0, res.ROIOnStaked)
	assert.Equal(t, 0.0, res.WinRate)
}
