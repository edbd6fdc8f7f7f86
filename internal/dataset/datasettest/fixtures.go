// Package datasettest builds deterministic synthetic feature tables for tests.
package datasettest

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/stats"
)

// Header is the column order written by WriteCSV
var Header = []string{
	"event_id", "starts_at", "team_id", "team_name", "opponent_team_id", "opponent_team_name",
	"is_home", "books_aggregated", "implied_prob", "odds_american_avg", "team_win",
	"rest_days_diff", "rolling_win_rate_diff_10", "market_dispersion_total",
	"missing_form_features", "missing_schedule_features", "missing_market_features",
}

// Events builds n two-sided events, one per day from start. The home side's
// implied probability is drawn in [0.25, 0.8) and it wins with that
// probability, so the market is calibrated.
func Events(prefix string, start time.Time, n int, seed int64) []*dataset.Record {
	rng := stats.NewMulberry32(seed)
	records := make([]*dataset.Record, 0, 2*n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%04d", prefix, i)
		ts := start.AddDate(0, 0, i).UTC()
		p := 0.25 + 0.55*rng.Float64()
		homeWin := 0
		if rng.Float64() < p {
			homeWin = 1
		}
		books := float64(2 + rng.Intn(5))
		rest := float64(rng.Intn(5) - 2)
		form := rng.Float64() - 0.5

		home := side(id, ts, "H"+strconv.Itoa(i%7), "A"+strconv.Itoa(i%5), true, p, homeWin, books, rest, form)
		away := side(id, ts, "A"+strconv.Itoa(i%5), "H"+strconv.Itoa(i%7), false, 1-p, 1-homeWin, books, -rest, -form)
		records = append(records, home, away)
	}
	return records
}

// Seasons builds perSeason events in each season starting from firstSeason's October
func Seasons(firstSeason, count, perSeason int, seed int64) []*dataset.Record {
	var records []*dataset.Record
	for s := 0; s < count; s++ {
		start := time.Date(firstSeason+s, time.October, 20, 0, 0, 0, 0, time.UTC)
		records = append(records, Events(fmt.Sprintf("s%d", firstSeason+s), start, perSeason, seed+int64(s))...)
	}
	return records
}

func side(id string, ts time.Time, team, opp string, home bool, p float64, win int, books, rest, form float64) *dataset.Record {
	isHome := 0.0
	if home {
		isHome = 1
	}
	return &dataset.Record{
		EventID:         id,
		StartsAt:        ts,
		StartsAtRaw:     ts.Format(time.RFC3339),
		TeamID:          team,
		TeamName:        "Team " + team,
		OpponentTeamID:  opp,
		IsHome:          home,
		BooksAggregated: books,
		ImpliedProb:     p,
		OddsAmericanAvg: American(p),
		TeamWin:         win,
		Features: map[string]float64{
			"is_home":                   isHome,
			"books_aggregated":          books,
			"implied_prob":              p,
			"rest_days_diff":            rest,
			"rolling_win_rate_diff_10":  form,
			"market_dispersion_total":   0.01 * books,
			"missing_form_features":     0,
			"missing_schedule_features": 0,
			"missing_market_features":   0,
		},
	}
}

// American converts a fair probability to American odds
func American(p float64) float64 {
	if p >= 0.5 {
		return math.Round(-100 * p / (1 - p))
	}
	return math.Round(100 * (1 - p) / p)
}

// WriteCSV writes records as a feature table under dir and returns its path
func WriteCSV(t testing.TB, dir string, records []*dataset.Record) string {
	t.Helper()
	path := filepath.Join(dir, "features.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create feature table: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, r := range records {
		row := []string{
			r.EventID, r.StartsAt.Format(time.RFC3339), r.TeamID, r.TeamName, r.OpponentTeamID, "Team " + r.OpponentTeamID,
			boolCell(r.IsHome), num(r.BooksAggregated), num(r.ImpliedProb), num(r.OddsAmericanAvg), strconv.Itoa(r.TeamWin),
			num(r.Feature("rest_days_diff")), num(r.Feature("rolling_win_rate_diff_10")), num(r.Feature("market_dispersion_total")),
			"0", "0", "0",
		}
		if err := w.Write(row); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("flush feature table: %v", err)
	}
	return path
}

func num(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolCell(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
