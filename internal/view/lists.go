package view

import (
	"strings"
	"time"

	"github.com/pbaille/lens/internal/aggregate"
	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/filter"
)

// DefaultListPageSize is the knowledge list page size
const DefaultListPageSize = 9

// ListQuery narrows, orders and pages the knowledge list
type ListQuery struct {
	Search   string // matched against video titles
	Channel  string // "" or "all" for every channel
	Window   filter.Window
	SortBy   string // date | title | channel
	Page     int
	PageSize int
}

// KnowledgeList returns one page of records matching q. Dates sort newest
// first; titles and channels sort ascending.
func KnowledgeList(records []domain.KnowledgeRecord, q ListQuery, now time.Time) Page[domain.KnowledgeRecord] {
	var channels []string
	if q.Channel != "" && q.Channel != "all" {
		channels = []string{q.Channel}
	}
	matched := filter.ByWindow(filter.ByChannels(records, channels), q.Window, now)

	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]domain.KnowledgeRecord, 0, len(matched))
	for _, r := range matched {
		if term == "" || strings.Contains(strings.ToLower(r.VideoTitle), term) {
			out = append(out, r)
		}
	}

	switch q.SortBy {
	case "title":
		sortStable(out, Asc, func(a, b domain.KnowledgeRecord) bool { return a.VideoTitle < b.VideoTitle })
	case "channel":
		sortStable(out, Asc, func(a, b domain.KnowledgeRecord) bool { return a.ChannelName < b.ChannelName })
	default:
		sortStable(out, Desc, func(a, b domain.KnowledgeRecord) bool { return a.Date.Before(b.Date) })
	}

	size := q.PageSize
	if size <= 0 {
		size = DefaultListPageSize
	}
	return Paginate(out, q.Page, size)
}

// CategoryQuery narrows and orders the categories overview
type CategoryQuery struct {
	// Search is split on whitespace; every term must match the category name or one of its coins.
	Search   string
	Selected []string
	SortBy   string // rpoints | mentions | coins | recent
}

// CategoryList filters and orders category stats. Every ordering is descending.
func CategoryList(stats []aggregate.CategoryStats, q CategoryQuery) []aggregate.CategoryStats {
	terms := strings.Fields(strings.ToLower(q.Search))

	out := make([]aggregate.CategoryStats, 0, len(stats))
	for _, s := range stats {
		if len(q.Selected) > 0 && !filter.HasCategory([]string{s.Name}, q.Selected) {
			continue
		}
		if !matchesAllTerms(s, terms) {
			continue
		}
		out = append(out, s)
	}

	var key func(aggregate.CategoryStats) float64
	switch q.SortBy {
	case "mentions":
		key = func(s aggregate.CategoryStats) float64 { return float64(s.Mentions) }
	case "coins":
		key = func(s aggregate.CategoryStats) float64 { return float64(len(s.Coins)) }
	case "recent":
		key = func(s aggregate.CategoryStats) float64 { return float64(s.RecentActivity) }
	default:
		key = func(s aggregate.CategoryStats) float64 { return s.TotalRPoints }
	}
	sortStable(out, Desc, func(a, b aggregate.CategoryStats) bool { return key(a) < key(b) })
	return out
}

func matchesAllTerms(s aggregate.CategoryStats, terms []string) bool {
	for _, term := range terms {
		if !filter.MatchesSearch(s.Name, s.Coins, term) {
			return false
		}
	}
	return true
}
