package model

import (
	"sort"
	"strings"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
)

// Track is a named hyperparameter preset
type Track struct {
	Key         string      `json:"key"`
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Params      Hyperparams `json:"params"`
}

var tracks = map[string]Track{
	"a": {
		Key:         "a",
		ID:          "track_a_anchor",
		Description: "Market-logit anchor with minimal transform of implied probability",
		Params:      DefaultHyperparams(),
	},
	"b": {
		Key:         "b",
		ID:          "track_b_regularized",
		Description: "Anchor variant with heavier regularization",
		Params: Hyperparams{
			Features: []string{dataset.ImpliedLogitFeature},
			Iters:    10000,
			LR:       0.003,
			L2:       0.015,
		},
	},
	"c": {
		Key:         "c",
		ID:          "track_c_optional_nonlinear",
		Description: "Anchor plus schedule, form and market-dispersion residuals",
		Params: Hyperparams{
			Features: []string{
				dataset.ImpliedLogitFeature,
				"rest_days_diff",
				"rolling_win_rate_diff_10",
				"market_dispersion_total",
			},
			Iters: 10000,
			LR:    0.003,
			L2:    0.01,
		},
	},
}

// LookupTrack returns the preset for key (case-insensitive)
func LookupTrack(key string) (Track, error) {
	t, ok := tracks[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Track{}, errs.Invalid("track", "unknown track %q, use one of: %s", key, strings.Join(TrackKeys(), ", "))
	}
	t.Params.Features = append([]string(nil), t.Params.Features...)
	return t, nil
}

// TrackKeys lists the known preset keys
func TrackKeys() []string {
	keys := make([]string, 0, len(tracks))
	for k := range tracks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Overrides holds explicitly set hyperparameters. A nil field keeps the
// preset, so an explicit zero (l2 of 0 for example) still applies.
type Overrides struct {
	Features []string
	Iters    *int
	LR       *float64
	L2       *float64
}

// Override replaces preset values with any explicitly set ones
func (h Hyperparams) Override(o Overrides) Hyperparams {
	if len(o.Features) > 0 {
		h.Features = append([]string(nil), o.Features...)
	}
	if o.Iters != nil {
		h.Iters = *o.Iters
	}
	if o.LR != nil {
		h.LR = *o.LR
	}
	if o.L2 != nil {
		h.L2 = *o.L2
	}
	return h
}
