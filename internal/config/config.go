// Package config builds the immutable run configuration from defaults, an
// optional YAML file and command-line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/governance"
	"github.com/sawpanic/edgerun/internal/ledger"
	"github.com/sawpanic/edgerun/internal/montecarlo"
	"github.com/sawpanic/edgerun/internal/paper"
	"github.com/sawpanic/edgerun/internal/policy"
	"github.com/sawpanic/edgerun/internal/walkforward"
)

// Paths locates inputs and outputs
type Paths struct {
	Input            string `yaml:"input" default:"data/nba_event_training_features.csv" validate:"required"`
	ReportsDir       string `yaml:"reports_dir" default:"data/reports" validate:"required"`
	ProvisionalState string `yaml:"provisional_state" default:"data/reports/provisional_policy_state.json" validate:"required"`
	RuntimeState     string `yaml:"runtime_state" default:"data/reports/runtime_policy_state.json" validate:"required"`
	MetricsTextfile  string `yaml:"metrics_textfile"`
}

// RedisConfig enables the redis policy store
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	DB      int    `yaml:"db" validate:"gte=0"`
	Prefix  string `yaml:"prefix" default:"edgerun:"`
}

// ServerConfig configures the read-only ops server
type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"required"`
	RequestsPerSec  float64       `yaml:"requests_per_sec" default:"20" validate:"gt=0"`
	Burst           int           `yaml:"burst" default:"40" validate:"gte=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"3" validate:"gte=1"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"30s"`
}

// Config is the full configuration of one edgerun invocation
type Config struct {
	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`

	Paths       Paths                `yaml:"paths"`
	WalkForward walkforward.Config   `yaml:"walk_forward"`
	Confidence  confidence.Config    `yaml:"confidence"`
	MonteCarlo  montecarlo.Config    `yaml:"monte_carlo"`
	Paper       paper.Config         `yaml:"paper"`
	Governance  governance.Config    `yaml:"governance"`
	Publish     policy.PublishConfig `yaml:"publish"`
	Runtime     policy.RuntimeConfig `yaml:"runtime"`
	Ledger      ledger.Config        `yaml:"ledger"`
	Redis       RedisConfig          `yaml:"redis"`
	Server      ServerConfig         `yaml:"server"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Default returns the configuration with every stage's defaults
func Default() Config {
	cfg := Config{
		WalkForward: walkforward.DefaultConfig(),
		Confidence:  confidence.DefaultConfig(),
		MonteCarlo:  montecarlo.DefaultConfig(),
		Paper:       paper.DefaultConfig(),
		Governance:  governance.DefaultConfig(),
		Publish:     policy.DefaultPublishConfig(),
		Runtime:     policy.DefaultRuntimeConfig(),
		Ledger:      ledger.DefaultConfig(),
	}
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load overlays the YAML file at path on the defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document leaves out
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errs.ValidationError{Reason: errs.ReasonSchema, Field: "config", Message: fmt.Sprintf("failed to parse config YAML: %v", err)}
	}
	return nil
}

// Validate applies struct tag rules, then the cross-field checks of each
// stage, including the temporal leakage guard on every split window.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fromValidator(err)
	}
	checks := []func() error{
		c.WalkForward.Validate,
		c.Confidence.Validate,
		c.MonteCarlo.Validate,
		c.Paper.Validate,
		c.Governance.Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	for _, w := range []struct {
		name   string
		ranges func() error
	}{
		{"confidence.split", func() error { _, _, err := c.Confidence.Split.Ranges(); return err }},
		{"monte_carlo.split", func() error { _, _, err := c.MonteCarlo.Split.Ranges(); return err }},
		{"paper.split", func() error { _, _, err := c.Paper.Split.Ranges(); return err }},
	} {
		if err := w.ranges(); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}
	return nil
}

func fromValidator(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return errs.ValidationError{Reason: errs.ReasonInvalidArgument, Message: err.Error()}
	}
	fe := ves[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	return errs.ValidationError{
		Reason:  errs.ReasonInvalidArgument,
		Field:   field,
		Message: message(field, fe),
	}
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "ltfield":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted as %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
