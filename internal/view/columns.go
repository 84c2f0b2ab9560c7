package view

import "sync"

// Market table columns, in display order.
const (
	ColumnPrice      = "price"
	Column24h        = "24h"
	ColumnMarketCap  = "market_cap"
	ColumnVolume     = "volume"
	ColumnSupply     = "supply"
	ColumnRPoints    = "rpoints"
	ColumnCategories = "categories"
)

// AllColumns lists every optional market column.
var AllColumns = []string{
	ColumnPrice, Column24h, ColumnMarketCap, ColumnVolume, ColumnSupply, ColumnRPoints, ColumnCategories,
}

// DefaultColumns are shown until a selection is applied. Supply is hidden.
var DefaultColumns = []string{
	ColumnPrice, Column24h, ColumnMarketCap, ColumnVolume, ColumnRPoints, ColumnCategories,
}

// ColumnSelection edits a tentative column set that only takes effect on Apply.
// Discard resets the tentative set to what is committed.
type ColumnSelection struct {
	mu        sync.Mutex
	committed map[string]bool
	tentative map[string]bool
}

// NewColumnSelection starts from initial, or DefaultColumns when empty.
// Unknown column names are ignored.
func NewColumnSelection(initial []string) *ColumnSelection {
	if len(initial) == 0 {
		initial = DefaultColumns
	}
	s := &ColumnSelection{committed: columnSet(initial)}
	s.tentative = clone(s.committed)
	return s
}

// Toggle flips one column in the tentative set.
func (s *ColumnSelection) Toggle(col string) {
	if !knownColumn(col) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tentative[col] = !s.tentative[col]
}

// SelectAll marks every column in the tentative set.
func (s *ColumnSelection) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tentative = columnSet(AllColumns)
}

// DeselectAll clears the tentative set.
func (s *ColumnSelection) DeselectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tentative = map[string]bool{}
}

// Apply commits the tentative set.
func (s *ColumnSelection) Apply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = clone(s.tentative)
}

// Discard drops tentative edits.
func (s *ColumnSelection) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tentative = clone(s.committed)
}

// Committed returns the rendered columns in display order.
func (s *ColumnSelection) Committed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ordered(s.committed)
}

// Tentative returns the columns being edited in display order.
func (s *ColumnSelection) Tentative() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ordered(s.tentative)
}

func knownColumn(col string) bool {
	for _, c := range AllColumns {
		if c == col {
			return true
		}
	}
	return false
}

func columnSet(cols []string) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		if knownColumn(c) {
			set[c] = true
		}
	}
	return set
}

func clone(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func ordered(set map[string]bool) []string {
	out := []string{}
	for _, c := range AllColumns {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}
