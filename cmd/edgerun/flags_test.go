package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/model"
)

func TestApplyModelExplicitZeroL2(t *testing.T) {
	fs := modelFlags()
	require.NoError(t, fs.Parse([]string{"--track", "b", "--l2", "0"}))

	h := model.DefaultHyperparams()
	require.NoError(t, applyModel(fs, &h))

	b, err := model.LookupTrack("b")
	require.NoError(t, err)
	assert.Zero(t, h.L2)
	assert.Equal(t, b.Params.LR, h.LR)
	assert.Equal(t, b.Params.Iters, h.Iters)
}

func TestApplyModelKeepsTrackWhenUnset(t *testing.T) {
	fs := modelFlags()
	require.NoError(t, fs.Parse([]string{"--track", "b", "--iters", "50"}))

	var h model.Hyperparams
	require.NoError(t, applyModel(fs, &h))
	assert.Equal(t, 0.015, h.L2)
	assert.Equal(t, 50, h.Iters)
}
