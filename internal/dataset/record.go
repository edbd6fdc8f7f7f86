package dataset

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/edgerun/internal/stats"
)

// ImpliedLogitFeature is derived from implied_prob rather than read from a column
const ImpliedLogitFeature = "implied_logit"

// Record is one team's side of one event. Numeric fields that were blank or
// unparseable in the source hold NaN.
type Record struct {
	EventID          string
	ExternalKey      string
	Sport            string
	League           string
	TeamID           string
	TeamName         string
	OpponentTeamID   string
	OpponentTeamName string
	IsHome           bool
	StartsAt         time.Time
	StartsAtRaw      string

	BooksAggregated   float64
	ImpliedProb       float64
	ImpliedProbStddev float64
	OddsAmericanAvg   float64
	OddsAmericanMin   float64
	OddsAmericanMax   float64

	MissingFormFeatures     float64
	MissingScheduleFeatures float64
	MissingMarketFeatures   float64

	TeamWin int

	// Features holds every other numeric column, keyed by header name
	Features map[string]float64
}

// Feature returns the named numeric feature, NaN when absent or missing
func (r *Record) Feature(name string) float64 {
	if name == ImpliedLogitFeature {
		return stats.Logit(r.ImpliedProb)
	}
	v, ok := r.Features[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Won reports whether this side won the event
func (r *Record) Won() bool { return r.TeamWin == 1 }

// HasOdds reports whether a usable American odds average is present
func (r *Record) HasOdds() bool {
	_, ok := stats.AmericanToDecimal(r.OddsAmericanAvg)
	return ok
}

// MissingGroups sums the three missing-feature-group flags
func (r *Record) MissingGroups() float64 {
	return zeroIfNaN(r.MissingFormFeatures) + zeroIfNaN(r.MissingScheduleFeatures) + zeroIfNaN(r.MissingMarketFeatures)
}

// Event groups the records sharing an event id
type Event struct {
	ID       string
	StartsAt time.Time
	Rows     []*Record
}

// GroupByEvent groups records by event id in first-appearance order
func GroupByEvent(records []*Record) []*Event {
	index := make(map[string]*Event)
	var events []*Event
	for _, r := range records {
		ev, ok := index[r.EventID]
		if !ok {
			ev = &Event{ID: r.EventID, StartsAt: r.StartsAt}
			index[r.EventID] = ev
			events = append(events, ev)
		}
		ev.Rows = append(ev.Rows, r)
	}
	return events
}

// CleanEvents keeps two-sided events sorted by (start, event id) and returns the
// ids of the events dropped for having a row count other than two.
func CleanEvents(records []*Record) ([]*Event, []string) {
	var clean []*Event
	malformed := []string{}
	for _, ev := range GroupByEvent(records) {
		if ev.ID == "" {
			continue
		}
		if len(ev.Rows) != 2 {
			malformed = append(malformed, ev.ID)
			continue
		}
		clean = append(clean, ev)
	}
	SortEvents(clean)
	return clean, malformed
}

// SortEvents orders events chronologically with event id as tiebreak
func SortEvents(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartsAt.Equal(events[j].StartsAt) {
			return events[i].StartsAt.Before(events[j].StartsAt)
		}
		return events[i].ID < events[j].ID
	})
}

// EventIDs returns the distinct event ids of records
func EventIDs(records []*Record) map[string]struct{} {
	ids := make(map[string]struct{}, len(records)/2+1)
	for _, r := range records {
		ids[r.EventID] = struct{}{}
	}
	return ids
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
