package walkforward

import (
	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/model"
)

// Config configures a season-by-season walk-forward evaluation
type Config struct {
	Model            model.Hyperparams `json:"model" yaml:"model"`
	EdgeMin          float64           `json:"edge_min" yaml:"edge_min"`
	Bankroll         float64           `json:"bankroll" yaml:"bankroll" validate:"gt=0"`
	FlatStake        float64           `json:"flat_stake" yaml:"flat_stake" validate:"gt=0"`
	MaxStakePct      float64           `json:"max_stake_pct" yaml:"max_stake_pct" validate:"gt=0,lte=1"`
	SlippageBps      float64           `json:"slippage_bps" yaml:"slippage_bps" validate:"gte=0,lt=10000"`
	MinTrainSeasons  int               `json:"min_train_seasons" yaml:"min_train_seasons" validate:"gte=1"`
	CoinSeeds        int               `json:"coin_seeds" yaml:"coin_seeds" validate:"gte=0"`
	BootstrapSamples int               `json:"bootstrap_samples" yaml:"bootstrap_samples" validate:"gte=0"`
	BootstrapSeed    int64             `json:"bootstrap_seed" yaml:"bootstrap_seed"`
}

// DefaultConfig returns the walk-forward defaults
func DefaultConfig() Config {
	return Config{
		Model:            model.DefaultHyperparams(),
		EdgeMin:          -0.02,
		Bankroll:         10000,
		FlatStake:        100,
		MaxStakePct:      0.03,
		SlippageBps:      0,
		MinTrainSeasons:  2,
		CoinSeeds:        200,
		BootstrapSamples: 1000,
		BootstrapSeed:    1,
	}
}

// Validate checks ranges the evaluation depends on
func (c Config) Validate() error {
	if !(c.Bankroll > 0) {
		return errs.Invalid("bankroll", "must be > 0, got %g", c.Bankroll)
	}
	if !(c.FlatStake > 0) {
		return errs.Invalid("flat_stake", "must be > 0, got %g", c.FlatStake)
	}
	if !(c.MaxStakePct > 0 && c.MaxStakePct <= 1) {
		return errs.Invalid("max_stake_pct", "must be in (0,1], got %g", c.MaxStakePct)
	}
	if c.SlippageBps < 0 || c.SlippageBps >= 10000 {
		return errs.Invalid("slippage_bps", "must be in [0,10000), got %g", c.SlippageBps)
	}
	if c.MinTrainSeasons < 1 {
		return errs.Invalid("min_train_seasons", "must be >= 1, got %d", c.MinTrainSeasons)
	}
	if c.CoinSeeds < 0 || c.BootstrapSamples < 0 {
		return errs.Invalid("coin_seeds", "seed and sample counts must be >= 0")
	}
	return c.Model.Validate()
}

func (c Config) staking() backtest.Staking {
	return backtest.Staking{Bankroll: c.Bankroll, FlatStake: c.FlatStake, MaxStakePct: c.MaxStakePct}
}
