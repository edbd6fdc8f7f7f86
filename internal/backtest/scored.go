package backtest

import (
	"math"
	"time"

	"github.com/sawpanic/edgerun/internal/dataset"
)

// Side is one team's row with the model's win probability attached
type Side struct {
	*dataset.Record
	PModel float64
}

// Edge is the model probability minus the market-implied probability
func (s *Side) Edge() float64 { return s.PModel - s.ImpliedProb }

// ScoredEvent is a clean two-sided event with predictions
type ScoredEvent struct {
	ID       string
	StartsAt time.Time
	Sides    []*Side
}

// Predictor maps a record to a win probability
type Predictor interface {
	Predict(r *dataset.Record) float64
}

// ScoreEvents attaches predictions to every side of every event
func ScoreEvents(events []*dataset.Event, p Predictor) []*ScoredEvent {
	out := make([]*ScoredEvent, 0, len(events))
	for _, ev := range events {
		se := &ScoredEvent{ID: ev.ID, StartsAt: ev.StartsAt, Sides: make([]*Side, len(ev.Rows))}
		for i, r := range ev.Rows {
			se.Sides[i] = &Side{Record: r, PModel: p.Predict(r)}
		}
		out = append(out, se)
	}
	return out
}

// Top returns the side the model rates most likely to win; ties keep row order
func (e *ScoredEvent) Top() *Side {
	best := e.Sides[0]
	for _, s := range e.Sides[1:] {
		if s.PModel > best.PModel {
			best = s
		}
	}
	return best
}

// Favorite returns the side with the highest implied probability
func (e *ScoredEvent) Favorite() *Side {
	best := e.Sides[0]
	for _, s := range e.Sides[1:] {
		if s.ImpliedProb > best.ImpliedProb {
			best = s
		}
	}
	return best
}

// Underdog returns the side with the lowest implied probability
func (e *ScoredEvent) Underdog() *Side {
	best := e.Sides[0]
	for _, s := range e.Sides[1:] {
		if s.ImpliedProb < best.ImpliedProb {
			best = s
		}
	}
	return best
}

// BooksAggregated sums the book count over both sides
func (e *ScoredEvent) BooksAggregated() float64 {
	total := 0.0
	for _, s := range e.Sides {
		if !math.IsNaN(s.BooksAggregated) {
			total += s.BooksAggregated
		}
	}
	return total
}

// ModelPicks selects the top side of every event whose edge is at least edgeMin
func ModelPicks(events []*ScoredEvent, edgeMin float64) ([]*Side, map[string]bool) {
	var picks []*Side
	eligible := make(map[string]bool)
	for _, ev := range events {
		top := ev.Top()
		if top.Edge() >= edgeMin {
			picks = append(picks, top)
			eligible[ev.ID] = true
		}
	}
	return picks, eligible
}

// Pick is the reported form of a selected side
type Pick struct {
	EventID         string    `json:"event_id"`
	StartsAt        time.Time `json:"starts_at"`
	TeamID          string    `json:"team_id"`
	TeamName        string    `json:"team_name"`
	OddsAmericanAvg *float64  `json:"odds_american_avg"`
	Won             bool      `json:"won"`
	PModel          float64   `json:"p_model"`
	PMarket         float64   `json:"p_market"`
	Edge            float64   `json:"edge"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty"`
	Bucket          string    `json:"bucket,omitempty"`
}

// NewPick builds the reported form of a side
func NewPick(s *Side) Pick {
	p := Pick{
		EventID:  s.EventID,
		StartsAt: s.StartsAt,
		TeamID:   s.TeamID,
		TeamName: s.TeamName,
		Won:      s.Won(),
		PModel:   s.PModel,
		PMarket:  s.ImpliedProb,
		Edge:     s.Edge(),
	}
	if s.HasOdds() {
		v := s.OddsAmericanAvg
		p.OddsAmericanAvg = &v
	}
	return p
}
