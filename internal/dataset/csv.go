package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/errs"
)

// Core column names of the feature table
const (
	ColEventID          = "event_id"
	ColExternalKey      = "external_key"
	ColStartsAt         = "starts_at"
	ColSport            = "sport"
	ColLeague           = "league"
	ColTeamID           = "team_id"
	ColTeamName         = "team_name"
	ColOpponentTeamID   = "opponent_team_id"
	ColOpponentTeamName = "opponent_team_name"
	ColIsHome           = "is_home"
	ColBooksAggregated  = "books_aggregated"
	ColImpliedProb      = "implied_prob"
	ColImpliedProbStd   = "implied_prob_stddev"
	ColOddsAmericanAvg  = "odds_american_avg"
	ColOddsAmericanMin  = "odds_american_min"
	ColOddsAmericanMax  = "odds_american_max"
	ColTeamWin          = "team_win"
	ColMissingForm      = "missing_form_features"
	ColMissingSchedule  = "missing_schedule_features"
	ColMissingMarket    = "missing_market_features"
)

var textColumns = map[string]bool{
	ColEventID: true, ColExternalKey: true, ColStartsAt: true, ColSport: true, ColLeague: true,
	ColTeamID: true, ColTeamName: true, ColOpponentTeamID: true, ColOpponentTeamName: true,
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Row is one raw CSV line keyed by header
type Row map[string]string

// Table is the feature table exactly as read, before coercion
type Table struct {
	Source string
	Header []string
	Rows   []Row
}

// ReadTable loads a feature table CSV from disk
func ReadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature table: %w", err)
	}
	defer file.Close()

	table, err := ParseTable(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	table.Source = path
	return table, nil
}

// ParseTable reads a header line followed by data rows. Short rows are padded
// with empty cells; blank lines are skipped.
func ParseTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = normalizeColumnName(header[i])
	}

	table := &Table{Header: header}
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		row := make(Row, len(header))
		for j, col := range header {
			if j < len(cells) {
				row[col] = cells[j]
			} else {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// LoadQuality counts rows rejected during coercion
type LoadQuality struct {
	RowsRead        int `json:"rows_read"`
	RowsAccepted    int `json:"rows_accepted"`
	BadTimestamp    int `json:"bad_timestamp"`
	BadImpliedProb  int `json:"bad_implied_prob"`
	BadLabel        int `json:"bad_label"`
	MissingOddsRows int `json:"rows_missing_odds_american_avg"`
}

// Records coerces raw rows into typed records. Rows without a parseable start
// time, a finite implied probability, or a 0/1 label are dropped and counted.
func (t *Table) Records() ([]*Record, LoadQuality) {
	q := LoadQuality{RowsRead: len(t.Rows)}
	records := make([]*Record, 0, len(t.Rows))

	for _, row := range t.Rows {
		rec, reason := coerce(row, t.Header)
		switch reason {
		case "":
		case ColStartsAt:
			q.BadTimestamp++
			continue
		case ColImpliedProb:
			q.BadImpliedProb++
			continue
		case ColTeamWin:
			q.BadLabel++
			continue
		}
		if !rec.HasOdds() {
			q.MissingOddsRows++
		}
		records = append(records, rec)
	}
	q.RowsAccepted = len(records)

	if dropped := q.RowsRead - q.RowsAccepted; dropped > 0 {
		log.Warn().
			Str("source", t.Source).
			Int("dropped", dropped).
			Int("bad_timestamp", q.BadTimestamp).
			Int("bad_implied_prob", q.BadImpliedProb).
			Int("bad_label", q.BadLabel).
			Msg("Rows rejected during coercion")
	}
	return records, q
}

// LoadRecords reads and coerces a feature table; an empty result is an error
func LoadRecords(path string) ([]*Record, LoadQuality, error) {
	table, err := ReadTable(path)
	if err != nil {
		return nil, LoadQuality{}, err
	}
	records, q := table.Records()
	if len(records) == 0 {
		return nil, q, errs.InsufficientDataError{
			Reason:   errs.ReasonEmptyPartition,
			Message:  fmt.Sprintf("no usable rows parsed from %s", path),
			Have:     0,
			Required: 1,
		}
	}
	return records, q, nil
}

// RequireColumns fails with a schema error when any named column is absent
func (t *Table) RequireColumns(cols ...string) error {
	present := make(map[string]bool, len(t.Header))
	for _, h := range t.Header {
		present[h] = true
	}
	var missing []string
	for _, c := range cols {
		if c == ImpliedLogitFeature {
			c = ColImpliedProb
		}
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errs.ValidationError{
			Reason:  errs.ReasonSchema,
			Field:   strings.Join(missing, ","),
			Message: "feature table is missing required columns",
		}
	}
	return nil
}

func coerce(row Row, header []string) (*Record, string) {
	startsAt, ok := parseTime(row[ColStartsAt])
	if !ok {
		return nil, ColStartsAt
	}
	implied := parseNum(row[ColImpliedProb])
	if math.IsNaN(implied) {
		return nil, ColImpliedProb
	}
	label := parseNum(row[ColTeamWin])
	if label != 0 && label != 1 {
		return nil, ColTeamWin
	}

	rec := &Record{
		EventID:                 strings.TrimSpace(row[ColEventID]),
		ExternalKey:             row[ColExternalKey],
		Sport:                   row[ColSport],
		League:                  row[ColLeague],
		TeamID:                  strings.TrimSpace(row[ColTeamID]),
		TeamName:                row[ColTeamName],
		OpponentTeamID:          strings.TrimSpace(row[ColOpponentTeamID]),
		OpponentTeamName:        row[ColOpponentTeamName],
		IsHome:                  strings.TrimSpace(row[ColIsHome]) == "1",
		StartsAt:                startsAt,
		StartsAtRaw:             row[ColStartsAt],
		BooksAggregated:         parseNum(row[ColBooksAggregated]),
		ImpliedProb:             implied,
		ImpliedProbStddev:       parseNum(row[ColImpliedProbStd]),
		OddsAmericanAvg:         parseNum(row[ColOddsAmericanAvg]),
		OddsAmericanMin:         parseNum(row[ColOddsAmericanMin]),
		OddsAmericanMax:         parseNum(row[ColOddsAmericanMax]),
		MissingFormFeatures:     parseNum(row[ColMissingForm]),
		MissingScheduleFeatures: parseNum(row[ColMissingSchedule]),
		MissingMarketFeatures:   parseNum(row[ColMissingMarket]),
		TeamWin:                 int(label),
		Features:                make(map[string]float64),
	}
	for _, col := range header {
		if textColumns[col] {
			continue
		}
		rec.Features[col] = parseNum(row[col])
	}
	return rec, ""
}

// parseNum returns NaN for blank or non-finite cells
func parseNum(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizeColumnName(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}
