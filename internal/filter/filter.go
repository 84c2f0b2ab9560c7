// Package filter holds the pure predicates that narrow a record set before aggregation.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/pbaille/lens/internal/domain"
)

// Window is a relative date range ending now
type Window string

const (
	WindowAll   Window = "all"
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

// ParseWindow maps a query value to a Window, defaulting to WindowAll.
func ParseWindow(s string) Window {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case WindowToday, WindowWeek, WindowMonth, WindowYear:
		return w
	default:
		return WindowAll
	}
}

// Since returns the earliest instant the window admits, measured from the start
// of now's UTC day. ok is false for WindowAll.
func (w Window) Since(now time.Time) (since time.Time, ok bool) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch w {
	case WindowToday:
		return start, true
	case WindowWeek:
		return start.AddDate(0, 0, -7), true
	case WindowMonth:
		return start.AddDate(0, -1, 0), true
	case WindowYear:
		return start.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// ByChannels keeps records whose channel is selected.
// An empty selection means no restriction and returns records as is.
func ByChannels(records []domain.KnowledgeRecord, selected []string) []domain.KnowledgeRecord {
	if len(selected) == 0 {
		return records
	}
	want := make(map[string]bool, len(selected))
	for _, s := range selected {
		want[s] = true
	}

	out := make([]domain.KnowledgeRecord, 0, len(records))
	for _, r := range records {
		if want[r.ChannelName] {
			out = append(out, r)
		}
	}
	return out
}

// ByWindow keeps records dated within w.
func ByWindow(records []domain.KnowledgeRecord, w Window, now time.Time) []domain.KnowledgeRecord {
	since, ok := w.Since(now)
	if !ok {
		return records
	}
	out := make([]domain.KnowledgeRecord, 0, len(records))
	for _, r := range records {
		if !r.Date.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

// Channels returns the sorted distinct channel names of records.
func Channels(records []domain.KnowledgeRecord) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range records {
		if r.ChannelName == "" || seen[r.ChannelName] {
			continue
		}
		seen[r.ChannelName] = true
		out = append(out, r.ChannelName)
	}
	sort.Strings(out)
	return out
}

// HasCategory reports whether categories contains any selected tag.
// An empty selection always passes.
func HasCategory(categories, selected []string) bool {
	if len(selected) == 0 {
		return true
	}
	for _, c := range categories {
		for _, s := range selected {
			if c == s {
				return true
			}
		}
	}
	return false
}

// IsNFT reports whether any tag mentions NFTs.
func IsNFT(categories []string) bool {
	for _, c := range categories {
		if strings.Contains(strings.ToLower(c), "nft") {
			return true
		}
	}
	return false
}

// MatchesSearch is a case-insensitive substring match on the name or any tag.
// A blank term matches everything.
func MatchesSearch(name string, categories []string, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(name), term) {
		return true
	}
	for _, c := range categories {
		if strings.Contains(strings.ToLower(c), term) {
			return true
		}
	}
	return false
}

// SplitList parses a comma separated query value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
