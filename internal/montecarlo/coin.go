package montecarlo

import (
	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/stats"
)

// FlipSides picks a uniformly random side of each eligible event, one draw per
// event. A nil eligible set admits every event.
func FlipSides(events []*backtest.ScoredEvent, eligible map[string]bool, rng *stats.Mulberry32) []*dataset.Record {
	var picks []*dataset.Record
	for _, ev := range events {
		if eligible != nil && !eligible[ev.ID] {
			continue
		}
		picks = append(picks, ev.Sides[rng.Intn(len(ev.Sides))].Record)
	}
	return picks
}

// CoinBets first draws whether to bet at all (skipping when the draw exceeds
// betProb), then draws the side.
func CoinBets(events []*backtest.ScoredEvent, eligible map[string]bool, rng *stats.Mulberry32, betProb float64) []*dataset.Record {
	var picks []*dataset.Record
	for _, ev := range events {
		if eligible != nil && !eligible[ev.ID] {
			continue
		}
		if rng.Float64() > betProb {
			continue
		}
		picks = append(picks, ev.Sides[rng.Intn(len(ev.Sides))].Record)
	}
	return picks
}
