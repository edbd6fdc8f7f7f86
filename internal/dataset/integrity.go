package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/errs"
)

// IssueKind names one structural check on an event's pair of rows
type IssueKind string

const (
	IssueMalformedEventSize   IssueKind = "malformed_event_size"
	IssueStartsAtMismatch     IssueKind = "starts_at_mismatch"
	IssueNonComplementTeamWin IssueKind = "non_complement_team_win"
	IssueOpponentIDMismatch   IssueKind = "opponent_id_mismatch"
	IssueMissingCoreFields    IssueKind = "missing_core_fields"
)

// IssueKinds lists the checks in report order
var IssueKinds = []IssueKind{
	IssueMalformedEventSize,
	IssueStartsAtMismatch,
	IssueNonComplementTeamWin,
	IssueOpponentIDMismatch,
	IssueMissingCoreFields,
}

var coreFields = []string{ColTeamID, ColOpponentTeamID, ColImpliedProb, ColOddsAmericanAvg}

// IntegrityReport is the dataset integrity artifact
type IntegrityReport struct {
	CreatedAt       time.Time              `json:"created_at"`
	Input           string                 `json:"input"`
	Rows            int                    `json:"rows"`
	Events          int                    `json:"events"`
	IssueCounts     map[IssueKind]int      `json:"issue_counts"`
	TotalIssueCount int                    `json:"total_issue_count"`
	Issues          map[IssueKind][]string `json:"issues"`
}

// Clean reports whether no check found an issue
func (r *IntegrityReport) Clean() bool { return r.TotalIssueCount == 0 }

// CheckIntegrity validates every event in the raw table. Events with a row
// count other than two are only reported as malformed_event_size.
func CheckIntegrity(t *Table, now time.Time) *IntegrityReport {
	report := &IntegrityReport{
		CreatedAt:   now.UTC(),
		Input:       t.Source,
		Rows:        len(t.Rows),
		IssueCounts: make(map[IssueKind]int, len(IssueKinds)),
		Issues:      make(map[IssueKind][]string, len(IssueKinds)),
	}
	for _, k := range IssueKinds {
		report.Issues[k] = []string{}
	}

	order := []string{}
	byEvent := make(map[string][]Row)
	for _, row := range t.Rows {
		id := strings.TrimSpace(row[ColEventID])
		if _, ok := byEvent[id]; !ok {
			order = append(order, id)
		}
		byEvent[id] = append(byEvent[id], row)
	}
	report.Events = len(order)

	for _, id := range order {
		rows := byEvent[id]
		if len(rows) != 2 {
			report.Issues[IssueMalformedEventSize] = append(report.Issues[IssueMalformedEventSize], id)
			continue
		}
		a, b := rows[0], rows[1]

		if a[ColStartsAt] != b[ColStartsAt] {
			report.Issues[IssueStartsAtMismatch] = append(report.Issues[IssueStartsAtMismatch], id)
		}

		// A blank label is not read as a loss.
		aw, bw := parseNum(a[ColTeamWin]), parseNum(b[ColTeamWin])
		if math.IsNaN(aw) || math.IsNaN(bw) || aw+bw != 1 {
			report.Issues[IssueNonComplementTeamWin] = append(report.Issues[IssueNonComplementTeamWin], id)
		}

		if a[ColOpponentTeamID] != b[ColTeamID] || b[ColOpponentTeamID] != a[ColTeamID] {
			report.Issues[IssueOpponentIDMismatch] = append(report.Issues[IssueOpponentIDMismatch], id)
		}

		if missingCore(a) || missingCore(b) {
			report.Issues[IssueMissingCoreFields] = append(report.Issues[IssueMissingCoreFields], id)
		}
	}

	for _, k := range IssueKinds {
		report.IssueCounts[k] = len(report.Issues[k])
		report.TotalIssueCount += report.IssueCounts[k]
	}

	log.Info().
		Str("input", t.Source).
		Int("rows", report.Rows).
		Int("events", report.Events).
		Int("issues", report.TotalIssueCount).
		Msg("Dataset integrity check complete")

	return report
}

// StrictError returns a DataIntegrityError when the report has any issue
func (r *IntegrityReport) StrictError() error {
	if r.Clean() {
		return nil
	}
	details := make(map[string]interface{}, len(r.IssueCounts))
	for k, v := range r.IssueCounts {
		details[string(k)] = v
	}
	return errs.DataIntegrityError{
		Reason:     errs.ReasonIntegrityIssues,
		Message:    fmt.Sprintf("feature table %s failed integrity checks", r.Input),
		IssueCount: r.TotalIssueCount,
		Details:    details,
	}
}

func missingCore(row Row) bool {
	for _, f := range coreFields {
		if row[f] == "" {
			return true
		}
	}
	return false
}
