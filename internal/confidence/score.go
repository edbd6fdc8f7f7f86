package confidence

import (
	"math"

	"github.com/sawpanic/edgerun/internal/backtest"
	"github.com/sawpanic/edgerun/internal/stats"
)

// Component weights of the confidence score
const (
	edgeWeight    = 0.60
	qualityWeight = 0.25
	dataWeight    = 0.15

	// booksForFullQuality is the combined book count that saturates the quality term
	booksForFullQuality = 8.0
	missingGroupCount   = 3.0
)

// Bucket is a confidence tier
type Bucket string

const (
	BucketA Bucket = "A"
	BucketB Bucket = "B"
	BucketC Bucket = "C"
)

// Score rates the top side of an event on a 0-100 scale from its edge,
// the market depth behind both sides, and the completeness of its features.
func (c Config) Score(top *backtest.Side, ev *backtest.ScoredEvent) float64 {
	edgeS := stats.Clamp01((top.Edge() - c.EdgeFloor) / math.Max(1e-9, c.EdgeCeil-c.EdgeFloor))
	qualityS := stats.Clamp01(ev.BooksAggregated() / booksForFullQuality)
	dataS := stats.Clamp01(1 - top.MissingGroups()/missingGroupCount)
	return 100 * (edgeWeight*edgeS + qualityWeight*qualityS + dataWeight*dataS)
}

// Thresholds are the active bucket cut-offs
type Thresholds struct {
	A float64 `json:"bucket_a"`
	B float64 `json:"bucket_b"`
}

// BucketFor maps a score to its tier
func (t Thresholds) BucketFor(score float64) Bucket {
	switch {
	case score >= t.A:
		return BucketA
	case score >= t.B:
		return BucketB
	default:
		return BucketC
	}
}

// ScoredPick is a top-side pick with its confidence score
type ScoredPick struct {
	*backtest.Side
	Score float64
}

// BuildPicks takes the model's preferred side of every event, scored. Events
// are expected clean and in chronological order.
func (c Config) BuildPicks(events []*backtest.ScoredEvent) []ScoredPick {
	picks := make([]ScoredPick, 0, len(events))
	for _, ev := range events {
		top := ev.Top()
		picks = append(picks, ScoredPick{Side: top, Score: c.Score(top, ev)})
	}
	return picks
}
