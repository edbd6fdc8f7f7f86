package split

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
)

func pair(id string, ts time.Time) []*dataset.Record {
	return []*dataset.Record{
		{EventID: id, StartsAt: ts, TeamID: "A", OpponentTeamID: "B", ImpliedProb: 0.6, TeamWin: 1},
		{EventID: id, StartsAt: ts, TeamID: "B", OpponentTeamID: "A", ImpliedProb: 0.4, TeamWin: 0},
	}
}

func mustRange(t *testing.T, start, end string) DateRange {
	t.Helper()
	r, err := ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func TestDateRangeInclusive(t *testing.T) {
	r := mustRange(t, "2024-10-01", "2025-06-30")
	assert.True(t, r.Contains(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC)))

	_, err := ParseDateRange("2024-13-01", "2025-01-01")
	assert.Error(t, err)
	_, err = ParseDateRange("2025-01-02", "2025-01-01")
	assert.Error(t, err)
}

func TestTemporalSplit(t *testing.T) {
	var records []*dataset.Record
	records = append(records, pair("old", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC))...)
	records = append(records, pair("new", time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC))...)

	p, err := Temporal(records, mustRange(t, "2021-10-01", "2024-06-30"), mustRange(t, "2024-10-01", "2025-06-30"))
	require.NoError(t, err)
	assert.Len(t, p.Train, 2)
	assert.Len(t, p.Test, 2)
	assert.Equal(t, 1, p.Audit.TrainEvents)
	assert.Equal(t, 0, p.Audit.OverlapEvents)
}

func TestLeakageGuard(t *testing.T) {
	t.Run("overlapping_ranges", func(t *testing.T) {
		_, err := Temporal(nil, mustRange(t, "2024-01-01", "2024-10-01"), mustRange(t, "2024-10-01", "2025-06-30"))
		var le errs.LeakageError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, errs.ReasonTemporalOverlap, le.Reason)
	})

	t.Run("shared_event_ids", func(t *testing.T) {
		var records []*dataset.Record
		records = append(records, pair("dup", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))...)
		records = append(records, pair("dup", time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC))...)

		_, err := Temporal(records, mustRange(t, "2024-01-01", "2024-06-30"), mustRange(t, "2024-10-01", "2025-06-30"))
		var le errs.LeakageError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, errs.ReasonSharedEvents, le.Reason)
		assert.Equal(t, []string{"dup"}, le.SharedEvents)
	})

	t.Run("empty_partition", func(t *testing.T) {
		records := pair("only", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
		_, err := Temporal(records, mustRange(t, "2024-01-01", "2024-06-30"), mustRange(t, "2024-10-01", "2025-06-30"))
		var ie errs.InsufficientDataError
		require.ErrorAs(t, err, &ie)
	})
}

func TestCalibrationSplit(t *testing.T) {
	var records []*dataset.Record
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	// inserted newest first to confirm chronological ordering
	for i := 9; i >= 0; i-- {
		records = append(records, pair(fmt.Sprintf("e%02d", i), base.AddDate(0, 0, i))...)
	}

	c, err := CalibrationSplit(records, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 8, c.SubtrainEvents)
	assert.Equal(t, 2, c.CalibEvents)
	assert.Len(t, c.Calib, 4)
	assert.Equal(t, "e08", c.Calib[0].EventID)
	assert.Equal(t, "e09", c.Calib[2].EventID)
	for _, r := range c.Subtrain {
		assert.True(t, r.StartsAt.Before(c.Calib[0].StartsAt))
	}

	assert.False(t, c.Sufficient(40))
	var ie errs.InsufficientDataError
	require.ErrorAs(t, c.InsufficientError(40), &ie)
	assert.Equal(t, 2, ie.Have)

	// tiny sets keep one event for sub-training
	c, err = CalibrationSplit(pair("solo", base), 0.2)
	require.NoError(t, err)
	assert.Equal(t, 1, c.SubtrainEvents)
	assert.Equal(t, 0, c.CalibEvents)

	_, err = CalibrationSplit(records, 1.5)
	assert.Error(t, err)
}

func TestSeasonLabel(t *testing.T) {
	tests := []struct {
		ts   time.Time
		want string
	}{
		{time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC), "2023-2024"},
		{time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), "2023-2024"},
		{time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC), "2023-2024"},
		{time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), "2024-2025"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SeasonLabel(tt.ts))
		})
	}

	var records []*dataset.Record
	records = append(records, pair("b", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC))...)
	records = append(records, pair("a", time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC))...)
	assert.Equal(t, []string{"2022-2023", "2024-2025"}, Seasons(records))
	assert.Len(t, BySeason(records)["2022-2023"], 2)
}

func TestWindow(t *testing.T) {
	w := DefaultWindow()
	train, test, err := w.Ranges()
	require.NoError(t, err)
	assert.True(t, train.End.Before(test.Start))

	w.TrainEnd = "2024-10-05"
	_, _, err = w.Ranges()
	var le errs.LeakageError
	require.ErrorAs(t, err, &le)
}
