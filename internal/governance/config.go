package governance

import (
	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/montecarlo"
	"github.com/sawpanic/edgerun/internal/walkforward"
)

// Thresholds are the health gates a governance run must pass
type Thresholds struct {
	MinWalkForwardROIMean      float64 `json:"min_walk_forward_roi_mean" yaml:"min_walk_forward_roi_mean"`
	MinWalkForwardBeatCoinMean float64 `json:"min_walk_forward_beat_coin_mean" yaml:"min_walk_forward_beat_coin_mean" validate:"gte=0,lte=1"`
	MinConfidenceABROI         float64 `json:"min_confidence_ab_roi" yaml:"min_confidence_ab_roi"`
	MinConfidenceABBets        int     `json:"min_confidence_ab_bets" yaml:"min_confidence_ab_bets" validate:"gte=0"`
	MaxROIDriftDown            float64 `json:"max_roi_drift_down" yaml:"max_roi_drift_down" validate:"gte=0"`
}

// DefaultThresholds returns the standard promotion gates
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinWalkForwardROIMean:      0,
		MinWalkForwardBeatCoinMean: 0.9,
		MinConfidenceABROI:         0,
		MinConfidenceABBets:        20,
		MaxROIDriftDown:            0.02,
	}
}

// Config is the full governance run configuration. Each stage gets its own
// config so the sub-pipelines run exactly as they would standalone.
type Config struct {
	OutDir      string             `json:"out_dir" yaml:"out_dir"`
	Thresholds  Thresholds         `json:"thresholds" yaml:"thresholds"`
	WalkForward walkforward.Config `json:"walk_forward" yaml:"walk_forward"`
	Confidence  confidence.Config  `json:"confidence" yaml:"confidence"`
	MonteCarlo  montecarlo.Config  `json:"monte_carlo" yaml:"monte_carlo"`
}

// DefaultConfig returns the governance defaults: walk-forward with a 25bps
// slippage haircut, hybrid confidence thresholds and a 200-seed coin comparator
// that follows model eligibility.
func DefaultConfig() Config {
	wf := walkforward.DefaultConfig()
	wf.SlippageBps = 25

	conf := confidence.DefaultConfig()
	conf.ThresholdMode = confidence.ModeHybrid
	conf.SlippageBps = 25

	mc := montecarlo.DefaultConfig()
	mc.CoinBetProb = 1
	mc.CoinFollowsModel = true

	return Config{
		OutDir:      "data/reports/governance",
		Thresholds:  DefaultThresholds(),
		WalkForward: wf,
		Confidence:  conf,
		MonteCarlo:  mc,
	}
}

// Validate checks every stage config
func (c Config) Validate() error {
	if c.OutDir == "" {
		return errs.Invalid("out_dir", "governance output directory is required")
	}
	if c.Thresholds.MinConfidenceABBets < 0 {
		return errs.Invalid("min_confidence_ab_bets", "must be >= 0")
	}
	if err := c.WalkForward.Validate(); err != nil {
		return err
	}
	if err := c.Confidence.Validate(); err != nil {
		return err
	}
	return c.MonteCarlo.Validate()
}
