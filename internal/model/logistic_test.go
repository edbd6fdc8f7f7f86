package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
)

func rec(implied float64, win int, extra map[string]float64) *dataset.Record {
	if extra == nil {
		extra = map[string]float64{}
	}
	return &dataset.Record{
		EventID:     "e",
		StartsAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ImpliedProb: implied,
		TeamWin:     win,
		Features:    extra,
	}
}

func TestFitLearnsMonotoneRelation(t *testing.T) {
	var records []*dataset.Record
	for i := 0; i < 40; i++ {
		records = append(records, rec(0.8, 1, nil), rec(0.2, 0, nil))
	}
	records = append(records, rec(0.8, 0, nil), rec(0.2, 1, nil))

	m, err := Fit(records, Hyperparams{Features: []string{dataset.ImpliedLogitFeature}, Iters: 2000, LR: 0.05, L2: 0.001})
	require.NoError(t, err)

	assert.Greater(t, m.Weights[0], 0.0)
	assert.Greater(t, m.Predict(rec(0.8, 0, nil)), 0.5)
	assert.Less(t, m.Predict(rec(0.2, 0, nil)), 0.5)
}

func TestFitDeterministic(t *testing.T) {
	records := []*dataset.Record{
		rec(0.6, 1, map[string]float64{"rest_days_diff": 1}),
		rec(0.4, 0, map[string]float64{"rest_days_diff": -1}),
		rec(0.55, 0, map[string]float64{"rest_days_diff": 2}),
		rec(0.45, 1, map[string]float64{"rest_days_diff": math.NaN()}),
	}
	h := Hyperparams{Features: []string{dataset.ImpliedLogitFeature, "rest_days_diff"}, Iters: 500, LR: 0.01, L2: 0.01}

	a, err := Fit(records, h)
	require.NoError(t, err)
	b, err := Fit(records, h)
	require.NoError(t, err)
	assert.Equal(t, a.Weights, b.Weights)
	assert.Equal(t, a.Bias, b.Bias)
}

func TestStandardization(t *testing.T) {
	records := []*dataset.Record{
		rec(0.5, 1, map[string]float64{"flat": 3, "x": 1}),
		rec(0.5, 0, map[string]float64{"flat": 3, "x": 3}),
		rec(0.5, 1, map[string]float64{"flat": 3, "x": math.NaN()}),
	}
	m, err := Fit(records, Hyperparams{Features: []string{"flat", "x"}, Iters: 1, LR: 0.1})
	require.NoError(t, err)

	// zero-variance feature keeps unit scale
	assert.Equal(t, 3.0, m.Stats.Means[0])
	assert.Equal(t, 1.0, m.Stats.Stds[0])

	// missing values are ignored for the mean and sample std
	assert.InDelta(t, 2.0, m.Stats.Means[1], 1e-12)
	assert.InDelta(t, math.Sqrt2, m.Stats.Stds[1], 1e-12)
}

func TestPredictClipsAndFillsMissing(t *testing.T) {
	m := &Model{
		Features: []string{"x"},
		Weights:  []float64{1000},
		Bias:     0,
		Stats:    Standardization{Means: []float64{0}, Stds: []float64{1}},
	}
	assert.Equal(t, 1-1e-6, m.Predict(rec(0.5, 0, map[string]float64{"x": 5})))
	assert.Equal(t, 1e-6, m.Predict(rec(0.5, 0, map[string]float64{"x": -5})))
	assert.InDelta(t, 0.5, m.Predict(rec(0.5, 0, map[string]float64{"x": math.NaN()})), 1e-12)
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(nil, DefaultHyperparams())
	var ie errs.InsufficientDataError
	require.ErrorAs(t, err, &ie)

	_, err = Fit([]*dataset.Record{rec(0.5, 1, nil)}, Hyperparams{Features: []string{"x"}, Iters: 0, LR: 0.1})
	var ve errs.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "iters", ve.Field)
}

func TestTracks(t *testing.T) {
	a, err := LookupTrack("A")
	require.NoError(t, err)
	assert.Equal(t, 12000, a.Params.Iters)
	assert.Equal(t, []string{dataset.ImpliedLogitFeature}, a.Params.Features)

	c, err := LookupTrack("c")
	require.NoError(t, err)
	assert.Len(t, c.Params.Features, 4)
	assert.Equal(t, 0.003, c.Params.LR)

	_, err = LookupTrack("z")
	assert.Error(t, err)

	iters := 100
	h := a.Params.Override(Overrides{Iters: &iters})
	assert.Equal(t, 100, h.Iters)
	assert.Equal(t, a.Params.LR, h.LR)
}

func TestOverrideExplicitZero(t *testing.T) {
	b, err := LookupTrack("b")
	require.NoError(t, err)
	require.Equal(t, 0.015, b.Params.L2)

	zero := 0.0
	h := b.Params.Override(Overrides{L2: &zero})
	assert.Zero(t, h.L2)
	assert.Equal(t, b.Params.LR, h.LR)
	assert.Equal(t, b.Params.Iters, h.Iters)
	require.NoError(t, h.Validate())

	assert.Equal(t, 0.015, b.Params.Override(Overrides{}).L2)
}

func TestScore(t *testing.T) {
	m := &Model{
		Features: []string{dataset.ImpliedLogitFeature},
		Weights:  []float64{0},
		Bias:     0,
		Stats:    Standardization{Means: []float64{0}, Stds: []float64{1}},
	}
	s := m.Score([]*dataset.Record{rec(0.5, 1, nil), rec(0.5, 0, nil)})
	assert.Equal(t, 2, s.N)
	assert.InDelta(t, math.Log(2), s.ModelLogLoss, 1e-9)
	assert.InDelta(t, 0.25, s.ModelBrier, 1e-9)
	assert.InDelta(t, s.ModelBrier, s.MarketBrier, 1e-9)
}
