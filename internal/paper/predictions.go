package paper

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sawpanic/edgerun/internal/backtest"
	atomicio "github.com/sawpanic/edgerun/internal/io"
)

// PredictionHeader is the column order of the predictions CSV
var PredictionHeader = []string{
	"event_id", "starts_at", "team_id", "team_name", "p_model", "p_market", "edge", "team_win",
	"selected_bet", "flat_stake", "flat_profit", "flat_bankroll_after",
	"kelly_stake", "kelly_profit", "kelly_bankroll_after",
}

// Prediction is one test side with its flat and Kelly outcomes. Bankroll
// fields are nil when the strategy placed no bet on the side.
type Prediction struct {
	EventID            string
	StartsAt           time.Time
	TeamID             string
	TeamName           string
	PModel             float64
	PMarket            float64
	Edge               float64
	TeamWin            int
	Selected           bool
	FlatStake          float64
	FlatProfit         float64
	FlatBankrollAfter  *float64
	KellyStake         float64
	KellyProfit        float64
	KellyBankrollAfter *float64
}

func sideKey(s *backtest.Side) string { return s.EventID + ":" + s.TeamID }

func buildPredictions(events []*backtest.ScoredEvent, bets []*Bet, flat, kelly StrategyResult) []Prediction {
	selected := make(map[string]bool, len(bets))
	for _, b := range bets {
		selected[sideKey(b.Side)] = true
	}
	flatByKey := entriesByKey(flat.Ledger)
	kellyByKey := entriesByKey(kelly.Ledger)

	var out []Prediction
	for _, ev := range events {
		for _, s := range ev.Sides {
			key := sideKey(s)
			p := Prediction{
				EventID:  s.EventID,
				StartsAt: s.StartsAt,
				TeamID:   s.TeamID,
				TeamName: s.TeamName,
				PModel:   s.PModel,
				PMarket:  s.ImpliedProb,
				Edge:     s.Edge(),
				TeamWin:  s.TeamWin,
				Selected: selected[key],
			}
			if e, ok := flatByKey[key]; ok {
				after := e.BankrollAfter
				p.FlatStake, p.FlatProfit, p.FlatBankrollAfter = e.Stake, e.Profit, &after
			}
			if e, ok := kellyByKey[key]; ok {
				after := e.BankrollAfter
				p.KellyStake, p.KellyProfit, p.KellyBankrollAfter = e.Stake, e.Profit, &after
			}
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

func entriesByKey(ledger []Entry) map[string]Entry {
	m := make(map[string]Entry, len(ledger))
	for _, e := range ledger {
		m[sideKey(e.Bet.Side)] = e
	}
	return m
}

// WritePredictionsCSV writes the predictions atomically to path
func WritePredictionsCSV(path string, preds []Prediction) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(PredictionHeader); err != nil {
		return err
	}
	for _, p := range preds {
		selected := "0"
		if p.Selected {
			selected = "1"
		}
		row := []string{
			p.EventID,
			p.StartsAt.UTC().Format(time.RFC3339),
			p.TeamID,
			p.TeamName,
			num(p.PModel),
			num(p.PMarket),
			num(p.Edge),
			strconv.Itoa(p.TeamWin),
			selected,
			num(p.FlatStake),
			num(p.FlatProfit),
			optNum(p.FlatBankrollAfter),
			num(p.KellyStake),
			num(p.KellyProfit),
			optNum(p.KellyBankrollAfter),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode predictions: %w", err)
	}
	return atomicio.WriteFileAtomic(path, buf.Bytes())
}

// WriteArtifacts writes the predictions CSV and the report JSON and records
// both paths on the report.
func WriteArtifacts(report *Report, reportPath, predictionsPath string) error {
	if err := WritePredictionsCSV(predictionsPath, report.predictions); err != nil {
		return fmt.Errorf("write predictions: %w", err)
	}
	report.Artifacts = Artifacts{PredictionsCSV: predictionsPath, ReportJSON: reportPath}
	return atomicio.WriteJSONAtomic(reportPath, report)
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func optNum(v *float64) string {
	if v == nil {
		return ""
	}
	return num(*v)
}
