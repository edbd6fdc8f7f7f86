package walkforward

import (
	"math"

	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/stats"
)

// BootstrapCI is a percentile interval on resampled per-bet profits
type BootstrapCI struct {
	Samples   int     `json:"samples"`
	Seed      int64   `json:"seed"`
	PnLLow95  float64 `json:"pnl_ci_95_low"`
	PnLHigh95 float64 `json:"pnl_ci_95_high"`
	ROILow95  float64 `json:"roi_ci_95_low"`
	ROIHigh95 float64 `json:"roi_ci_95_high"`
}

// Bootstrap resamples picks with replacement at a fixed nominal stake of
// min(flatStake, bankroll*maxStakePct). Unpriceable picks contribute zero
// profit but still count as staked. Returns nil when there are no picks.
func Bootstrap(picks []*backtest.Side, cfg Config, seed int64) *BootstrapCI {
	if len(picks) == 0 || cfg.BootstrapSamples <= 0 {
		return nil
	}
	stake := math.Min(cfg.FlatStake, cfg.Bankroll*cfg.MaxStakePct)
	payout := backtest.AmericanPayout(cfg.SlippageBps)

	profits := make([]float64, len(picks))
	for i, p := range picks {
		dec, ok := payout(p.Record)
		switch {
		case !ok:
			profits[i] = 0
		case p.Won():
			profits[i] = stake * (dec - 1)
		default:
			profits[i] = -stake
		}
	}

	rng := stats.NewMulberry32(seed)
	totals := make([]float64, cfg.BootstrapSamples)
	rois := make([]float64, cfg.BootstrapSamples)
	for i := range totals {
		total, staked := 0.0, 0.0
		for range profits {
			total += profits[rng.Intn(len(profits))]
			staked += stake
		}
		totals[i] = total
		if staked > 0 {
			rois[i] = total / staked
		}
	}

	return &BootstrapCI{
		Samples:   cfg.BootstrapSamples,
		Seed:      seed,
		PnLLow95:  stats.Percentile(totals, 0.025),
		PnLHigh95: stats.Percentile(totals, 0.975),
		ROILow95:  stats.Percentile(rois, 0.025),
		ROIHigh95: stats.Percentile(rois, 0.975),
	}
}
