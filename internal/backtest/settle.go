package backtest

import (
	"math"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/stats"
)

// Payout returns decimal odds for a bet on r, or false when the bet cannot be priced
type Payout func(r *dataset.Record) (float64, bool)

// AmericanPayout prices bets from the American odds average with a slippage haircut
func AmericanPayout(slippageBps float64) Payout {
	return func(r *dataset.Record) (float64, bool) {
		dec, ok := stats.AmericanToDecimal(r.OddsAmericanAvg)
		if !ok {
			return 0, false
		}
		return stats.ApplySlippage(dec, slippageBps)
	}
}

// ImpliedPayout prices bets at fair odds 1/implied_prob
func ImpliedPayout() Payout {
	return func(r *dataset.Record) (float64, bool) {
		return stats.ImpliedDecimal(r.ImpliedProb)
	}
}

// Staking bounds the flat stake by a fraction of the running bankroll
type Staking struct {
	Bankroll    float64 `json:"bankroll" yaml:"bankroll"`
	FlatStake   float64 `json:"flat_stake" yaml:"flat_stake"`
	MaxStakePct float64 `json:"max_stake_pct" yaml:"max_stake_pct"`
}

// Stake returns min(flat, bankroll*maxStakePct, bankroll)
func (s Staking) Stake(bankroll float64) float64 {
	return math.Min(s.FlatStake, math.Min(bankroll*s.MaxStakePct, bankroll))
}

// SimulationResult is the outcome of settling a sequence of bets
type SimulationResult struct {
	BankrollStart float64   `json:"bankroll_start"`
	BankrollEnd   float64   `json:"bankroll_end"`
	AccruedIncome float64   `json:"accrued_income"`
	TotalStaked   float64   `json:"total_staked"`
	ROIOnStaked   float64   `json:"roi_on_staked"`
	NBets         int       `json:"n_bets"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	WinRate       float64   `json:"win_rate"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	Profits       []float64 `json:"profits,omitempty"`
}

// Ledger accumulates bankroll, stakes, outcomes and peak-to-trough drawdown
type Ledger struct {
	start    float64
	bankroll float64
	staked   float64
	wins     int
	losses   int
	peak     float64
	maxDD    float64
	profits  []float64
}

// NewLedger starts a ledger at bankroll
func NewLedger(bankroll float64) *Ledger {
	return &Ledger{start: bankroll, bankroll: bankroll, peak: bankroll, profits: []float64{}}
}

// Bankroll is the current balance
func (l *Ledger) Bankroll() float64 { return l.bankroll }

// Settle books one bet of stake at decimal odds dec
func (l *Ledger) Settle(stake, dec float64, won bool) float64 {
	profit := -stake
	if won {
		profit = stake * (dec - 1)
		l.wins++
	} else {
		l.losses++
	}
	l.bankroll += profit
	l.staked += stake
	l.profits = append(l.profits, profit)

	if l.bankroll > l.peak {
		l.peak = l.bankroll
	}
	if l.peak > 0 {
		if dd := (l.peak - l.bankroll) / l.peak; dd > l.maxDD {
			l.maxDD = dd
		}
	}
	return profit
}

// Result summarizes the ledger
func (l *Ledger) Result() SimulationResult {
	n := l.wins + l.losses
	res := SimulationResult{
		BankrollStart: l.start,
		BankrollEnd:   l.bankroll,
		AccruedIncome: l.bankroll - l.start,
		TotalStaked:   l.staked,
		NBets:         n,
		Wins:          l.wins,
		Losses:        l.losses,
		MaxDrawdown:   l.maxDD,
		Profits:       l.profits,
	}
	if l.staked > 0 {
		res.ROIOnStaked = res.AccruedIncome / l.staked
	}
	if n > 0 {
		res.WinRate = float64(l.wins) / float64(n)
	}
	return res
}

// SettleFlat settles picks in order with capped flat staking. Settlement stops
// once the stake reaches zero; picks that cannot be priced are skipped.
func SettleFlat(picks []*dataset.Record, staking Staking, payout Payout) SimulationResult {
	l := NewLedger(staking.Bankroll)
	for _, r := range picks {
		stake := staking.Stake(l.Bankroll())
		if stake <= 0 {
			break
		}
		dec, ok := payout(r)
		if !ok || !stats.IsFinite(dec) {
			continue
		}
		l.Settle(stake, dec, r.Won())
	}
	return l.Result()
}

// Records unwraps sides to their underlying records
func Records(sides []*Side) []*dataset.Record {
	out := make([]*dataset.Record, len(sides))
	for i, s := range sides {
		out[i] = s.Record
	}
	return out
}
