package main

import (
	"github.com/spf13/pflag"

	"github.com/sawpanic/edgerun/internal/model"
	"github.com/sawpanic/edgerun/internal/split"
)

// Flags only override configuration values when set explicitly, so the
// flag sets below are declared without destinations and applied after the
// configuration file is loaded.

func inputFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("input", pflag.ContinueOnError)
	fs.String("input", "", "Feature table CSV (overrides paths.input)")
	return fs
}

func windowFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("window", pflag.ContinueOnError)
	fs.String("train-start", "", "Train window start (YYYY-MM-DD)")
	fs.String("train-end", "", "Train window end (YYYY-MM-DD)")
	fs.String("test-start", "", "Test window start (YYYY-MM-DD)")
	fs.String("test-end", "", "Test window end (YYYY-MM-DD)")
	return fs
}

func modelFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("model", pflag.ContinueOnError)
	fs.String("track", "", "Hyperparameter preset (a|b|c)")
	fs.StringSlice("features", nil, "Comma-separated feature columns")
	fs.Int("iters", 0, "Gradient descent iterations")
	fs.Float64("lr", 0, "Learning rate")
	fs.Float64("l2", 0, "L2 penalty")
	return fs
}

func stakingFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("staking", pflag.ContinueOnError)
	fs.Float64("bankroll", 0, "Starting bankroll")
	fs.Float64("flat-stake", 0, "Flat stake per bet")
	fs.Float64("slippage-bps", 0, "Slippage applied to decimal odds, in basis points")
	return fs
}

func (a *app) input(fs *pflag.FlagSet) string {
	overrideString(fs, "input", &a.cfg.Paths.Input)
	return a.cfg.Paths.Input
}

func applyWindow(fs *pflag.FlagSet, w *split.Window) {
	overrideString(fs, "train-start", &w.TrainStart)
	overrideString(fs, "train-end", &w.TrainEnd)
	overrideString(fs, "test-start", &w.TestStart)
	overrideString(fs, "test-end", &w.TestEnd)
}

// applyModel resolves --track first, then layers explicit hyperparameters on top
func applyModel(fs *pflag.FlagSet, h *model.Hyperparams) error {
	if fs.Changed("track") {
		key, _ := fs.GetString("track")
		track, err := model.LookupTrack(key)
		if err != nil {
			return err
		}
		*h = track.Params
	}
	var o model.Overrides
	if fs.Changed("features") {
		o.Features, _ = fs.GetStringSlice("features")
	}
	if fs.Changed("iters") {
		v, _ := fs.GetInt("iters")
		o.Iters = &v
	}
	if fs.Changed("lr") {
		v, _ := fs.GetFloat64("lr")
		o.LR = &v
	}
	if fs.Changed("l2") {
		v, _ := fs.GetFloat64("l2")
		o.L2 = &v
	}
	*h = h.Override(o)
	return nil
}

func applyStaking(fs *pflag.FlagSet, bankroll, flatStake, slippage *float64) {
	overrideFloat(fs, "bankroll", bankroll)
	overrideFloat(fs, "flat-stake", flatStake)
	if slippage != nil {
		overrideFloat(fs, "slippage-bps", slippage)
	}
}

func overrideString(fs *pflag.FlagSet, name string, dst *string) {
	if fs.Changed(name) {
		*dst, _ = fs.GetString(name)
	}
}

func overrideFloat(fs *pflag.FlagSet, name string, dst *float64) {
	if fs.Changed(name) {
		*dst, _ = fs.GetFloat64(name)
	}
}

func overrideInt(fs *pflag.FlagSet, name string, dst *int) {
	if fs.Changed(name) {
		*dst, _ = fs.GetInt(name)
	}
}

func overrideInt64(fs *pflag.FlagSet, name string, dst *int64) {
	if fs.Changed(name) {
		*dst, _ = fs.GetInt64(name)
	}
}

func overrideBool(fs *pflag.FlagSet, name string, dst *bool) {
	if fs.Changed(name) {
		*dst, _ = fs.GetBool(name)
	}
}
