package montecarlo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/dataset/datasettest"
	"github.com/sawpanic/edgerun/internal/errs"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Model.Iters = 300
	cfg.Model.LR = 0.05
	cfg.Seeds = 25
	return cfg
}

func TestRunReproducible(t *testing.T) {
	records := datasettest.Seasons(2021, 4, 60, 11)

	a, err := Run(context.Background(), records, testConfig())
	require.NoError(t, err)
	b, err := Run(context.Background(), records, testConfig())
	require.NoError(t, err)

	assert.Equal(t, a.SeedRuns, b.SeedRuns)
	assert.Equal(t, a.Summary, b.Summary)
	assert.Equal(t, 25, a.Summary.NRuns)
	assert.Equal(t, int64(1), a.SeedRuns[0].Seed)
	assert.Equal(t, int64(25), a.SeedRuns[24].Seed)
	assert.Equal(t, 60, a.SplitAudit.TestEventsUsed)
	assert.Equal(t, 0, a.SplitAudit.OverlapEvents)

	assert.GreaterOrEqual(t, a.Summary.ModelBeatsCoinRate, 0.0)
	assert.LessOrEqual(t, a.Summary.ModelBeatsCoinRate+a.Summary.ModelTiesCoinRate, 1.0)
	assert.LessOrEqual(t, a.Summary.DeltaIncomeP05, a.Summary.DeltaIncomeP50)
	assert.LessOrEqual(t, a.Summary.DeltaIncomeP50, a.Summary.DeltaIncomeP95)
}

func TestCoinFollowsModelBetCount(t *testing.T) {
	records := datasettest.Seasons(2021, 4, 60, 3)
	cfg := testConfig()

	rep, err := Run(context.Background(), records, cfg)
	require.NoError(t, err)
	for _, r := range rep.SeedRuns {
		// with bet probability 1 the coin bets every event the model bets
		assert.Equal(t, rep.ModelRun.NBets, r.CoinNBets)
	}

	cfg.CoinFollowsModel = false
	rep, err = Run(context.Background(), records, cfg)
	require.NoError(t, err)
	for _, r := range rep.SeedRuns {
		assert.Equal(t, rep.SplitAudit.TestEventsUsed, r.CoinNBets)
	}
}

func TestCoinNeverBets(t *testing.T) {
	records := datasettest.Seasons(2021, 4, 40, 5)
	cfg := testConfig()
	cfg.CoinBetProb = 0

	rep, err := Run(context.Background(), records, cfg)
	require.NoError(t, err)
	for _, r := range rep.SeedRuns {
		assert.Equal(t, 0, r.CoinNBets)
		assert.InDelta(t, rep.ModelRun.AccruedIncome, r.DeltaIncome, 1e-9)
	}
}

func TestRunValidation(t *testing.T) {
	records := datasettest.Seasons(2021, 4, 20, 5)

	tests := []struct {
		name   string
		mutate func(*Config)
		check  func(t *testing.T, err error)
	}{
		{"bet_prob_above_one", func(c *Config) { c.CoinBetProb = 1.5 }, func(t *testing.T, err error) {
			var ve errs.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "coin_bet_prob", ve.Field)
		}},
		{"zero_seeds", func(c *Config) { c.Seeds = 0 }, func(t *testing.T, err error) {
			var ve errs.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "seeds", ve.Field)
		}},
		{"overlapping_window", func(c *Config) { c.Split.TrainEnd = "2024-12-31" }, func(t *testing.T, err error) {
			var le errs.LeakageError
			require.ErrorAs(t, err, &le)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := Run(context.Background(), records, cfg)
			tt.check(t, err)
		})
	}
}

func TestSummarizeTies(t *testing.T) {
	s := Summarize([]SeedRun{
		{Seed: 1, DeltaIncome: 10},
		{Seed: 2, DeltaIncome: 0},
		{Seed: 3, DeltaIncome: -5},
		{Seed: 4, DeltaIncome: 1e-12},
	})
	assert.Equal(t, 4, s.NRuns)
	assert.InDelta(t, 0.5, s.ModelBeatsCoinRate, 1e-12)
	assert.InDelta(t, 0.5, s.ModelTiesCoinRate, 1e-12)
}
