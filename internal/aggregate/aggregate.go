// Package aggregate groups dated records into year/month buckets for display.
package aggregate

import (
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"piggysaving/internal/core"
)

// Record is satisfied by core.SavingRecord and core.CostRecord.
type Record interface {
	RecordDate() core.Date
	RecordAmount() decimal.Decimal
}

// Bucket holds every record of one calendar month.
type Bucket[R Record] struct {
	Year     int
	Month    int // 1-12
	Records  []R
	Subtotal decimal.Decimal
	// Expanded is display state only; it never affects contents or subtotal.
	Expanded bool
}

// Key returns the "YYYY-MM" identity used to carry expanded state across passes.
func (b Bucket[R]) Key() string {
	return Key(b.Year, b.Month)
}

// Key formats a year and month as "YYYY-MM".
func Key(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// ByYearMonth builds buckets sorted descending by (year, month). Records inside
// a bucket are ordered by date descending; records sharing a date keep their
// input order. expanded carries state from a previous pass keyed by Key; keys
// missing from it start collapsed. The input slice is not modified.
func ByYearMonth[R Record](records []R, expanded map[string]bool) []Bucket[R] {
	if len(records) == 0 {
		return nil
	}

	sorted := slices.Clone(records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[j].RecordDate().Before(sorted[i].RecordDate())
	})

	var buckets []Bucket[R]
	for _, r := range sorted {
		d := r.RecordDate()
		n := len(buckets)
		if n == 0 || buckets[n-1].Year != d.Year() || buckets[n-1].Month != d.Month() {
			buckets = append(buckets, Bucket[R]{
				Year:     d.Year(),
				Month:    d.Month(),
				Subtotal: decimal.Zero,
				Expanded: expanded[Key(d.Year(), d.Month())],
			})
			n++
		}
		b := &buckets[n-1]
		b.Records = append(b.Records, r)
		b.Subtotal = b.Subtotal.Add(r.RecordAmount())
	}
	return buckets
}

// Flatten returns the records of all buckets in bucket order.
func Flatten[R Record](buckets []Bucket[R]) []R {
	var out []R
	for _, b := range buckets {
		out = append(out, b.Records...)
	}
	return out
}

// ExpandedState extracts the expanded flags of a previous pass.
func ExpandedState[R Record](buckets []Bucket[R]) map[string]bool {
	state := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		if b.Expanded {
			state[b.Key()] = true
		}
	}
	return state
}
