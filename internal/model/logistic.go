package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/stats"
)

// minStd is the standard deviation below which a feature is left unscaled
const minStd = 1e-8

// Hyperparams configures batch gradient descent
type Hyperparams struct {
	Features []string `json:"features" yaml:"features"`
	Iters    int      `json:"iters" yaml:"iters"`
	LR       float64  `json:"lr" yaml:"lr"`
	L2       float64  `json:"l2" yaml:"l2"`
}

// DefaultHyperparams returns the market-logit anchor configuration
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Features: []string{dataset.ImpliedLogitFeature},
		Iters:    12000,
		LR:       0.0025,
		L2:       0.01,
	}
}

// Validate checks ranges before training
func (h Hyperparams) Validate() error {
	if len(h.Features) == 0 {
		return errs.Invalid("features", "at least one feature is required")
	}
	if h.Iters <= 0 {
		return errs.Invalid("iters", "must be > 0, got %d", h.Iters)
	}
	if !(h.LR > 0) || !stats.IsFinite(h.LR) {
		return errs.Invalid("lr", "must be > 0, got %g", h.LR)
	}
	if h.L2 < 0 || !stats.IsFinite(h.L2) {
		return errs.Invalid("l2", "must be >= 0, got %g", h.L2)
	}
	return nil
}

// Standardization holds the training-set mean and sample std per feature
type Standardization struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Model is a fitted L2-regularized logistic regression. It is not modified after Fit.
type Model struct {
	Features []string        `json:"features"`
	Weights  []float64       `json:"weights"`
	Bias     float64         `json:"bias"`
	Stats    Standardization `json:"standardization"`
}

// Fit trains on records with a fixed number of full-batch gradient steps.
// The gradient is averaged over rows; the L2 penalty applies to weights only.
func Fit(records []*dataset.Record, h Hyperparams) (*Model, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errs.InsufficientDataError{
			Reason:   errs.ReasonEmptyPartition,
			Message:  "cannot fit model on empty training set",
			Required: 1,
		}
	}

	st := buildStandardization(records, h.Features)
	xs := make([][]float64, len(records))
	ys := make([]float64, len(records))
	for i, r := range records {
		xs[i] = st.vector(r, h.Features)
		ys[i] = float64(r.TeamWin)
	}

	nFeat := len(h.Features)
	w := make([]float64, nFeat)
	gradW := make([]float64, nFeat)
	b := 0.0
	n := float64(len(records))

	for iter := 0; iter < h.Iters; iter++ {
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0
		for i, x := range xs {
			p := stats.Sigmoid(b + floats.Dot(w, x))
			e := p - ys[i]
			floats.AddScaled(gradW, e, x)
			gradB += e
		}
		for j := range w {
			w[j] -= h.LR * (gradW[j]/n + h.L2*w[j])
		}
		b -= h.LR * gradB / n
	}

	for j, v := range w {
		if !stats.IsFinite(v) {
			return nil, fmt.Errorf("training diverged: weight for %s is %v", h.Features[j], v)
		}
	}

	return &Model{
		Features: append([]string(nil), h.Features...),
		Weights:  w,
		Bias:     b,
		Stats:    st,
	}, nil
}

// Predict returns the clipped win probability for one record; missing
// feature values take the training mean.
func (m *Model) Predict(r *dataset.Record) float64 {
	x := m.Stats.vector(r, m.Features)
	return stats.ClipProb(stats.Sigmoid(m.Bias + floats.Dot(m.Weights, x)))
}

func buildStandardization(records []*dataset.Record, features []string) Standardization {
	st := Standardization{
		Means: make([]float64, len(features)),
		Stds:  make([]float64, len(features)),
	}
	vals := make([]float64, 0, len(records))
	for j, f := range features {
		vals = vals[:0]
		for _, r := range records {
			if v := r.Feature(f); stats.IsFinite(v) {
				vals = append(vals, v)
			}
		}
		m := stats.Mean(vals)
		s := stats.Std(vals)
		if !stats.IsFinite(m) {
			m = 0
		}
		if !stats.IsFinite(s) || s <= minStd {
			s = 1
		}
		st.Means[j] = m
		st.Stds[j] = s
	}
	return st
}

func (st Standardization) vector(r *dataset.Record, features []string) []float64 {
	x := make([]float64, len(features))
	for j, f := range features {
		v := r.Feature(f)
		if !stats.IsFinite(v) {
			v = st.Means[j]
		}
		x[j] = (v - st.Means[j]) / st.Stds[j]
	}
	return x
}

// Scores summarizes probabilistic accuracy of model and market on a record set
type Scores struct {
	N             int     `json:"n"`
	ModelLogLoss  float64 `json:"model_logloss"`
	MarketLogLoss float64 `json:"market_logloss"`
	ModelBrier    float64 `json:"model_brier"`
	MarketBrier   float64 `json:"market_brier"`
}

// Score computes log loss and Brier score for the model and the market-implied probability
func (m *Model) Score(records []*dataset.Record) Scores {
	s := Scores{N: len(records)}
	if len(records) == 0 {
		return s
	}
	for _, r := range records {
		y := float64(r.TeamWin)
		pm := m.Predict(r)
		pk := stats.ClipProb(r.ImpliedProb)
		s.ModelLogLoss += -(y*math.Log(pm) + (1-y)*math.Log(1-pm))
		s.MarketLogLoss += -(y*math.Log(pk) + (1-y)*math.Log(1-pk))
		s.ModelBrier += (pm - y) * (pm - y)
		s.MarketBrier += (pk - y) * (pk - y)
	}
	n := float64(len(records))
	s.ModelLogLoss /= n
	s.MarketLogLoss /= n
	s.ModelBrier /= n
	s.MarketBrier /= n
	return s
}
