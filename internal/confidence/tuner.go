package confidence

import (
	"math"
)

// FallbackNoPair is recorded when no threshold pair places enough bets
const FallbackNoPair = "No threshold pair met minimum-bet guardrails."

// Candidate is one evaluated (A, B) threshold pair
type Candidate struct {
	BucketA         float64      `json:"bucketA"`
	BucketB         float64      `json:"bucketB"`
	Objective       float64      `json:"objective"`
	Target          PolicyResult `json:"target"`
	AOnly           PolicyResult `json:"A_only"`
	AB              PolicyResult `json:"A_B"`
	MinBetsRequired int          `json:"min_bets_required"`
}

// Tune grid-searches thresholds on calibration picks, maximizing
// roi*sqrt(max(1, bets)) of the target policy. The grid is the configured
// bounds intersected with the observed score range rounded to the step, with
// B at least one step below A. The strict minimum-bet guardrail is relaxed to
// a single bet before giving up; nil means no pair qualified.
func (c Config) Tune(picks []ScoredPick) *Candidate {
	if len(picks) == 0 {
		return nil
	}
	step := c.Bounds.Step
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range picks {
		lo = math.Min(lo, p.Score)
		hi = math.Max(hi, p.Score)
	}
	minScore := math.Floor(lo/step) * step
	maxScore := math.Ceil(hi/step) * step

	aMin := math.Max(c.Bounds.AMin, minScore+step)
	aMax := math.Min(c.Bounds.AMax, maxScore)
	bMin := math.Max(c.Bounds.BMin, minScore)
	bMax := math.Min(c.Bounds.BMax, maxScore-step)

	search := func(minBets int) *Candidate {
		var best *Candidate
		for a := aMin; a <= aMax; a += step {
			for b := bMin; b <= math.Min(bMax, a-step); b += step {
				t := Thresholds{A: a, B: b}
				rA := c.Simulate(picks, PolicyAOnly, t)
				rAB := c.Simulate(picks, PolicyAB, t)
				target := rAB
				if c.TargetPolicy == PolicyAOnly {
					target = rA
				}
				if target.NBets < minBets {
					continue
				}
				objective := target.ROIOnStaked * math.Sqrt(math.Max(1, float64(target.NBets)))
				if best == nil || objective > best.Objective {
					best = &Candidate{
						BucketA:         a,
						BucketB:         b,
						Objective:       objective,
						Target:          target,
						AOnly:           rA,
						AB:              rAB,
						MinBetsRequired: minBets,
					}
				}
			}
		}
		return best
	}

	strictMin := c.MinBetsAB
	if c.TargetPolicy == PolicyAOnly {
		strictMin = c.MinBetsA
	}
	if best := search(strictMin); best != nil {
		return best
	}
	return search(1)
}
