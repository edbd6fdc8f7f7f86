package confidence

import (
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/model"
	"github.com/sawpanic/edgerun/internal/split"
)

// ThresholdMode selects how bucket thresholds are chosen
type ThresholdMode string

const (
	ModeManual ThresholdMode = "manual"
	ModeHybrid ThresholdMode = "hybrid"
)

// Config configures confidence scoring, threshold tuning and policy backtests
type Config struct {
	Split       split.Window      `json:"split" yaml:"split"`
	Model       model.Hyperparams `json:"model" yaml:"model"`
	Bankroll    float64           `json:"bankroll" yaml:"bankroll" validate:"gt=0"`
	FlatStake   float64           `json:"flat_stake" yaml:"flat_stake" validate:"gt=0"`
	SlippageBps float64           `json:"slippage_bps" yaml:"slippage_bps" validate:"gte=0,lt=10000"`

	EdgeFloor float64 `json:"edge_floor" yaml:"edge_floor"`
	EdgeCeil  float64 `json:"edge_ceil" yaml:"edge_ceil" validate:"gtfield=EdgeFloor"`
	BucketA   float64 `json:"bucket_a_manual" yaml:"bucket_a" validate:"gte=0,lte=100"`
	BucketB   float64 `json:"bucket_b_manual" yaml:"bucket_b" validate:"gte=0,lte=100,ltfield=BucketA"`

	ThresholdMode    ThresholdMode `json:"threshold_mode" yaml:"threshold_mode" validate:"oneof=manual hybrid"`
	CalibrationRatio float64       `json:"calibration_ratio" yaml:"calibration_ratio" validate:"gt=0,lt=1"`
	MinCalibEvents   int           `json:"min_calib_events" yaml:"min_calib_events" validate:"gte=1"`
	StrictCalib      bool          `json:"strict_calibration" yaml:"strict_calibration"`
	Bounds           Bounds        `json:"auto_bounds" yaml:"auto_bounds"`
	MinBetsA         int           `json:"min_bets_a" yaml:"min_bets_a" validate:"gte=1"`
	MinBetsAB        int           `json:"min_bets_ab" yaml:"min_bets_ab" validate:"gte=1"`
	TargetPolicy     PolicyName    `json:"target_policy" yaml:"target_policy" validate:"oneof=A_only A_B"`
}

// Bounds limits the threshold search grid
type Bounds struct {
	AMin float64 `json:"a_min" yaml:"a_min"`
	AMax float64 `json:"a_max" yaml:"a_max"`
	BMin float64 `json:"b_min" yaml:"b_min"`
	BMax float64 `json:"b_max" yaml:"b_max"`
	Step float64 `json:"step" yaml:"step" validate:"gt=0"`
}

// DefaultConfig returns the confidence policy defaults
func DefaultConfig() Config {
	return Config{
		Split:            split.DefaultWindow(),
		Model:            model.DefaultHyperparams(),
		Bankroll:         10000,
		FlatStake:        100,
		SlippageBps:      25,
		EdgeFloor:        -0.03,
		EdgeCeil:         0.03,
		BucketA:          75,
		BucketB:          60,
		ThresholdMode:    ModeHybrid,
		CalibrationRatio: 0.2,
		MinCalibEvents:   40,
		Bounds:           Bounds{AMin: 20, AMax: 90, BMin: 10, BMax: 80, Step: 5},
		MinBetsA:         5,
		MinBetsAB:        10,
		TargetPolicy:     PolicyAB,
	}
}

// Validate checks the parameters the scoring and tuning rely on
func (c Config) Validate() error {
	if !(c.BucketA > c.BucketB) {
		return errs.ValidationError{
			Reason:  errs.ReasonInvalidThresholds,
			Field:   "bucket_a",
			Message: "bucket A threshold must be greater than bucket B threshold",
		}
	}
	if !(c.EdgeCeil > c.EdgeFloor) {
		return errs.Invalid("edge_ceil", "must be greater than edge_floor")
	}
	if c.ThresholdMode != ModeManual && c.ThresholdMode != ModeHybrid {
		return errs.Invalid("threshold_mode", "unknown mode %q", c.ThresholdMode)
	}
	if c.TargetPolicy != PolicyAOnly && c.TargetPolicy != PolicyAB {
		return errs.Invalid("target_policy", "must be A_only or A_B, got %q", c.TargetPolicy)
	}
	if !(c.CalibrationRatio > 0 && c.CalibrationRatio < 1) {
		return errs.Invalid("calibration_ratio", "must be in (0,1), got %g", c.CalibrationRatio)
	}
	if !(c.Bounds.Step > 0) {
		return errs.Invalid("auto_bounds.step", "must be > 0")
	}
	if !(c.Bankroll > 0) || !(c.FlatStake > 0) {
		return errs.Invalid("flat_stake", "bankroll and flat stake must be > 0")
	}
	return c.Model.Validate()
}
