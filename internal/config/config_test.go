package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edgerun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "edgerun:", cfg.Redis.Prefix)
	assert.Equal(t, 10*time.Second, cfg.Ledger.QueryTimeout)
	assert.Equal(t, -0.02, cfg.WalkForward.EdgeMin)
	assert.Equal(t, 25.0, cfg.Governance.WalkForward.SlippageBps)
	assert.Equal(t, 0.0, cfg.WalkForward.SlippageBps)
	assert.Equal(t, confidence.PolicyAB, cfg.Publish.Policy)
	assert.Equal(t, 30, cfg.Publish.ValidDays)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
paths:
  input: features.csv
confidence:
  bucket_a: 80
  bucket_b: 65
  threshold_mode: manual
walk_forward:
  model:
    features: [implied_logit, rest_days_diff]
server:
  read_timeout: 3s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "features.csv", cfg.Paths.Input)
	assert.Equal(t, "data/reports", cfg.Paths.ReportsDir)
	assert.Equal(t, 80.0, cfg.Confidence.BucketA)
	assert.Equal(t, confidence.ModeManual, cfg.Confidence.ThresholdMode)
	assert.Equal(t, 100.0, cfg.Confidence.FlatStake)
	assert.Equal(t, []string{"implied_logit", "rest_days_diff"}, cfg.WalkForward.Model.Features)
	assert.Equal(t, 12000, cfg.WalkForward.Model.Iters)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Paths, cfg.Paths)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		exit   int
		reason errs.ReasonCode
		field  string
	}{
		{
			name:   "unknown key",
			body:   "walkforward:\n  edge_min: 0\n",
			exit:   errs.ExitValidation,
			reason: errs.ReasonSchema,
		},
		{
			name:   "bucket order",
			body:   "confidence:\n  bucket_a: 50\n  bucket_b: 60\n",
			exit:   errs.ExitValidation,
			reason: errs.ReasonInvalidArgument,
			field:  "confidence.bucket_b",
		},
		{
			name:   "bad log level",
			body:   "log_level: loud\n",
			exit:   errs.ExitValidation,
			reason: errs.ReasonInvalidArgument,
			field:  "log_level",
		},
		{
			name:   "coin probability",
			body:   "monte_carlo:\n  coin_bet_prob: 1.5\n",
			exit:   errs.ExitValidation,
			reason: errs.ReasonInvalidArgument,
			field:  "monte_carlo.coin_bet_prob",
		},
		{
			name:   "ledger without dsn",
			body:   "ledger:\n  enabled: true\n",
			exit:   errs.ExitValidation,
			reason: errs.ReasonInvalidArgument,
			field:  "ledger.dsn",
		},
		{
			name:   "bad date",
			body:   "paper:\n  split:\n    test_start: 2024/10/01\n",
			exit:   errs.ExitValidation,
			reason: errs.ReasonInvalidArgument,
			field:  "paper.split.test_start",
		},
		{
			name:   "overlapping window",
			body:   "monte_carlo:\n  split:\n    test_start: \"2024-01-01\"\n",
			exit:   errs.ExitLeakage,
			reason: errs.ReasonTemporalOverlap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.exit, errs.ExitCode(err))

			var ve errs.ValidationError
			if errors.As(err, &ve) {
				assert.Equal(t, tt.reason, ve.Reason)
				if tt.field != "" {
					assert.Equal(t, tt.field, ve.Field)
				}
				return
			}
			var le errs.LeakageError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.reason, le.Reason)
		})
	}
}
