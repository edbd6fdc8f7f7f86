package split

import (
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/edgerun/internal/dataset"
)

// seasonStartMonth is the month a season label rolls over
const seasonStartMonth = time.October

// SeasonLabel names the season containing ts, e.g. "2023-2024" for any UTC
// instant from October 2023 through September 2024.
func SeasonLabel(ts time.Time) string {
	ts = ts.UTC()
	start := ts.Year()
	if ts.Month() < seasonStartMonth {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// Seasons returns the distinct season labels of records in ascending order
func Seasons(records []*dataset.Record) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, r := range records {
		l := SeasonLabel(r.StartsAt)
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)
	return labels
}

// BySeason buckets records by season label
func BySeason(records []*dataset.Record) map[string][]*dataset.Record {
	out := make(map[string][]*dataset.Record)
	for _, r := range records {
		l := SeasonLabel(r.StartsAt)
		out[l] = append(out[l], r)
	}
	return out
}
