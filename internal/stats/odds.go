package stats

import "math"

// MinDecimalOdds is the payout floor after slippage
const MinDecimalOdds = 1.000001

// AmericanToDecimal converts American odds to decimal payout odds.
// Zero and non-finite input are not convertible.
func AmericanToDecimal(american float64) (float64, bool) {
	if !IsFinite(american) || american == 0 {
		return 0, false
	}
	if american > 0 {
		return 1 + american/100, true
	}
	return 1 + 100/math.Abs(american), true
}

// ApplySlippage haircuts the net payout (dec-1) by bps basis points,
// never returning less than MinDecimalOdds.
func ApplySlippage(dec, bps float64) (float64, bool) {
	if !IsFinite(dec) {
		return 0, false
	}
	factor := 1 - bps/10000
	adj := 1 + math.Max(0, (dec-1)*factor)
	return math.Max(MinDecimalOdds, adj), true
}

// HaircutPayout applies a bps haircut to net payout without the MinDecimalOdds floor
func HaircutPayout(dec, bps float64) float64 {
	return 1 + (dec-1)*(1-bps/10000)
}

// ImpliedDecimal returns fair decimal odds 1/p for a market probability
func ImpliedDecimal(p float64) (float64, bool) {
	c := ClipProb(p)
	if math.IsNaN(c) {
		return 0, false
	}
	return 1 / c, true
}
