package confidence

import (
	"math"

	"github.com/sawpanic/edgerun/internal/stats"
)

// PolicyName identifies a staking policy over buckets
type PolicyName string

const (
	PolicyAOnly PolicyName = "A_only"
	PolicyAB    PolicyName = "A_B"
	PolicyAll   PolicyName = "all"
)

// Policies lists every staking policy in report order
var Policies = []PolicyName{PolicyAOnly, PolicyAB, PolicyAll}

// Multiplier is the fraction of the flat stake the policy places on a bucket
func (p PolicyName) Multiplier(b Bucket) float64 {
	switch p {
	case PolicyAOnly:
		if b == BucketA {
			return 1
		}
	case PolicyAB:
		switch b {
		case BucketA:
			return 1
		case BucketB:
			return 0.5
		}
	case PolicyAll:
		switch b {
		case BucketA:
			return 1
		case BucketB:
			return 0.5
		case BucketC:
			return 0.25
		}
	}
	return 0
}

// PolicyResult is a policy's settled run
type PolicyResult struct {
	Policy        PolicyName `json:"policy"`
	BankrollStart float64    `json:"bankroll_start"`
	BankrollEnd   float64    `json:"bankroll_end"`
	AccruedIncome float64    `json:"accrued_income"`
	TotalStaked   float64    `json:"total_staked"`
	ROIOnStaked   float64    `json:"roi_on_staked"`
	NBets         int        `json:"n_bets"`
	WinRate       float64    `json:"win_rate"`
}

// Simulate settles picks under policy with stake min(bankroll, flatStake*multiplier).
// Zero-stake picks and unpriceable odds are skipped.
func (c Config) Simulate(picks []ScoredPick, policy PolicyName, t Thresholds) PolicyResult {
	bankroll := c.Bankroll
	staked := 0.0
	wins, losses := 0, 0
	for _, p := range picks {
		stake := math.Min(bankroll, c.FlatStake*policy.Multiplier(t.BucketFor(p.Score)))
		if stake <= 0 {
			continue
		}
		dec, ok := stats.AmericanToDecimal(p.OddsAmericanAvg)
		if !ok {
			continue
		}
		dec = stats.HaircutPayout(dec, c.SlippageBps)
		if dec < 1 {
			dec = 1
		}
		if p.Won() {
			bankroll += stake * (dec - 1)
			wins++
		} else {
			bankroll -= stake
			losses++
		}
		staked += stake
	}

	n := wins + losses
	res := PolicyResult{
		Policy:        policy,
		BankrollStart: c.Bankroll,
		BankrollEnd:   bankroll,
		AccruedIncome: bankroll - c.Bankroll,
		TotalStaked:   staked,
		NBets:         n,
	}
	if staked > 0 {
		res.ROIOnStaked = res.AccruedIncome / staked
	}
	if n > 0 {
		res.WinRate = float64(wins) / float64(n)
	}
	return res
}
