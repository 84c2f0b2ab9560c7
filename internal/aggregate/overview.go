package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pbaille/lens/internal/domain"
)

// RecentWindow is how far back a mention counts as recent activity
const RecentWindow = 7 * 24 * time.Hour

// Summary is the headline numbers shown above the charts
type Summary struct {
	TotalEntries     int     `json:"total_entries"`
	TotalMentions    int     `json:"total_mentions"`
	TotalRPoints     float64 `json:"total_rpoints"`
	UniqueCoins      int     `json:"unique_coins"`
	UniqueCategories int     `json:"unique_categories"`
	TopCoin          string  `json:"top_coin"`
	TopCategory      string  `json:"top_category"`
}

// Summarize derives headline numbers from records and their aggregate.
func Summarize(records []domain.KnowledgeRecord, res Result) Summary {
	s := Summary{
		TotalEntries:     len(records),
		UniqueCoins:      len(res.ProjectDistribution),
		UniqueCategories: len(res.CategoryDistribution),
		TopCoin:          "N/A",
		TopCategory:      "N/A",
	}
	for _, rec := range records {
		s.TotalMentions += len(rec.ProjectMentions)
		for _, m := range rec.ProjectMentions {
			s.TotalRPoints += m.RPoints
		}
	}
	if len(res.ProjectDistribution) > 0 {
		s.TopCoin = res.ProjectDistribution[0].Name
	}
	if len(res.CategoryDistribution) > 0 {
		s.TopCategory = res.CategoryDistribution[0].Name
	}
	return s
}

// MarketCapSpread counts mentions per marketcap bucket
type MarketCapSpread struct {
	Large  int `json:"large"`
	Medium int `json:"medium"`
	Small  int `json:"small"`
	Micro  int `json:"micro"`
}

func (s *MarketCapSpread) add(bucket string) {
	switch bucket {
	case domain.MarketcapLarge:
		s.Large++
	case domain.MarketcapMedium:
		s.Medium++
	case domain.MarketcapSmall:
		s.Small++
	case domain.MarketcapMicro:
		s.Micro++
	}
}

// CategoryStats is the per-category rollup of the categories overview
type CategoryStats struct {
	Name           string          `json:"name"`
	Coins          []string        `json:"coins"`
	TotalRPoints   float64         `json:"total_rpoints"`
	Mentions       int             `json:"mentions"`
	MarketCap      MarketCapSpread `json:"marketcap_distribution"`
	RecentActivity int             `json:"recent_activity"`
}

// CategoryOverview rolls every mention up under each of its categories.
// A mention is recent when its record is at most RecentWindow older than now.
func CategoryOverview(records []domain.KnowledgeRecord, now time.Time, opts Options) []CategoryStats {
	type acc struct {
		stats    CategoryStats
		coinSeen map[string]bool
	}
	byName := make(map[string]*acc)
	var order []*acc

	for _, rec := range records {
		recent := now.Sub(rec.Date) <= RecentWindow

		for _, m := range rec.ProjectMentions {
			coinKey := opts.key(m.CoinOrProject)
			for _, c := range m.Categories {
				if c == "" {
					continue
				}
				a, ok := byName[c]
				if !ok {
					a = &acc{stats: CategoryStats{Name: c}, coinSeen: make(map[string]bool)}
					byName[c] = a
					order = append(order, a)
				}
				if coinKey != "" && !a.coinSeen[coinKey] {
					a.coinSeen[coinKey] = true
					a.stats.Coins = append(a.stats.Coins, strings.TrimSpace(m.CoinOrProject))
				}
				a.stats.TotalRPoints += m.RPoints
				a.stats.Mentions++
				a.stats.MarketCap.add(m.MarketcapBucket)
				if recent {
					a.stats.RecentActivity++
				}
			}
		}
	}

	out := make([]CategoryStats, 0, len(order))
	for _, a := range order {
		if len(a.stats.Coins) == 0 {
			continue
		}
		a.stats.TotalRPoints = math.Round(a.stats.TotalRPoints*100) / 100
		out = append(out, a.stats)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalRPoints > out[j].TotalRPoints
	})
	return out
}

// CoinRollup is one coin's totals within a channel selection
type CoinRollup struct {
	Coin       string   `json:"coin"`
	RPoints    float64  `json:"rpoints"`
	Categories []string `json:"categories"`
	Mentions   int      `json:"mentions"`
}

// ChannelRollup totals rpoints, categories and mention counts per coin,
// ordered by rpoints descending.
func ChannelRollup(records []domain.KnowledgeRecord, opts Options) []CoinRollup {
	type acc struct {
		rollup CoinRollup
		seen   map[string]bool
	}
	byKey := make(map[string]*acc)
	var order []*acc

	for _, rec := range records {
		for _, m := range rec.ProjectMentions {
			key := opts.key(m.CoinOrProject)
			if key == "" {
				continue
			}
			a, ok := byKey[key]
			if !ok {
				a = &acc{
					rollup: CoinRollup{Coin: strings.TrimSpace(m.CoinOrProject), Categories: []string{}},
					seen:   make(map[string]bool),
				}
				byKey[key] = a
				order = append(order, a)
			}
			a.rollup.RPoints += m.RPoints
			a.rollup.Mentions++
			for _, c := range m.Categories {
				if !a.seen[c] {
					a.seen[c] = true
					a.rollup.Categories = append(a.rollup.Categories, c)
				}
			}
		}
	}

	out := make([]CoinRollup, len(order))
	for i, a := range order {
		out[i] = a.rollup
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RPoints > out[j].RPoints
	})
	return out
}
