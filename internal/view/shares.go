// Package view projects aggregates into the shapes the dashboard renders:
// shares, sorted and searched tables, trend series and paged lists.
// Nothing here mutates its inputs.
package view

import (
	"math"
	"sort"

	"github.com/pbaille/lens/internal/domain"
)

// Share is a distribution entry with its percentage of the displayed total.
type Share struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// Shares keeps the first limit entries (all when limit <= 0) and computes each
// one's percentage of their total, in tenths. Remainders are distributed so the
// percentages sum to exactly 100 when the total is positive.
func Shares(entries []domain.NamedValue, limit int) []Share {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]Share, len(entries))
	var total float64
	for i, e := range entries {
		out[i] = Share{Name: e.Name, Value: e.Value}
		total += e.Value
	}
	if total <= 0 {
		return out
	}

	const units = 1000
	tenths := make([]int, len(entries))
	rem := make([]float64, len(entries))
	assigned := 0
	for i, e := range entries {
		exact := e.Value / total * units
		tenths[i] = int(math.Floor(exact))
		rem[i] = exact - float64(tenths[i])
		assigned += tenths[i]
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rem[order[a]] > rem[order[b]]
	})
	for k := 0; assigned < units && k < len(order); k++ {
		tenths[order[k]]++
		assigned++
	}

	for i := range out {
		out[i].Percent = float64(tenths[i]) / 10
	}
	return out
}
