package split

import (
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of whole UTC days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange builds a range from YYYY-MM-DD bounds, covering Start 00:00:00
// through End 23:59:59 UTC.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return DateRange{}, errs.Invalid("start", "invalid date %q: %v", start, err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return DateRange{}, errs.Invalid("end", "invalid date %q: %v", end, err)
	}
	r := DateRange{
		Start: s.UTC(),
		End:   e.UTC().Add(23*time.Hour + 59*time.Minute + 59*time.Second),
	}
	if r.End.Before(r.Start) {
		return DateRange{}, errs.Invalid("end", "range end %s precedes start %s", end, start)
	}
	return r, nil
}

// Contains reports whether ts falls inside the range
func (r DateRange) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && !ts.After(r.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(dateLayout), r.End.Format(dateLayout))
}

// Filter returns the records whose start time falls in the range
func (r DateRange) Filter(records []*dataset.Record) []*dataset.Record {
	var out []*dataset.Record
	for _, rec := range records {
		if r.Contains(rec.StartsAt) {
			out = append(out, rec)
		}
	}
	return out
}

// Audit describes a train/test partition
type Audit struct {
	TrainRows     int `json:"train_rows"`
	TestRows      int `json:"test_rows"`
	TrainEvents   int `json:"train_events"`
	TestEvents    int `json:"test_events_raw"`
	OverlapEvents int `json:"overlap_events"`
}

// Partition is a leakage-checked train/test split
type Partition struct {
	Train      []*dataset.Record
	Test       []*dataset.Record
	TrainRange DateRange
	TestRange  DateRange
	Audit      Audit
}

// Temporal partitions records by date range and enforces the leakage guard.
// Either partition being empty is an InsufficientDataError.
func Temporal(records []*dataset.Record, train, test DateRange) (*Partition, error) {
	if err := GuardRanges(train, test); err != nil {
		return nil, err
	}

	p := &Partition{
		Train:      train.Filter(records),
		Test:       test.Filter(records),
		TrainRange: train,
		TestRange:  test,
	}
	if len(p.Train) == 0 || len(p.Test) == 0 {
		return nil, errs.InsufficientDataError{
			Reason:   errs.ReasonEmptyPartition,
			Message:  fmt.Sprintf("no rows for train %s / test %s", train, test),
			Have:     min(len(p.Train), len(p.Test)),
			Required: 1,
		}
	}

	trainIDs := dataset.EventIDs(p.Train)
	testIDs := dataset.EventIDs(p.Test)
	shared := SharedEvents(trainIDs, testIDs)
	p.Audit = Audit{
		TrainRows:     len(p.Train),
		TestRows:      len(p.Test),
		TrainEvents:   len(trainIDs),
		TestEvents:    len(testIDs),
		OverlapEvents: len(shared),
	}
	if len(shared) > 0 {
		return nil, errs.LeakageError{
			Reason:       errs.ReasonSharedEvents,
			Message:      fmt.Sprintf("%d event ids appear in both train and test", len(shared)),
			SharedEvents: shared,
		}
	}
	return p, nil
}

// GuardRanges requires the training range to end strictly before the test range starts
func GuardRanges(train, test DateRange) error {
	if !train.End.Before(test.Start) {
		return errs.LeakageError{
			Reason:  errs.ReasonTemporalOverlap,
			Message: fmt.Sprintf("train range %s must end before test range %s starts", train, test),
		}
	}
	return nil
}

// SharedEvents returns the sorted ids present in both sets
func SharedEvents(a, b map[string]struct{}) []string {
	var shared []string
	for id := range a {
		if _, ok := b[id]; ok {
			shared = append(shared, id)
		}
	}
	sort.Strings(shared)
	return shared
}
