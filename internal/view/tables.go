package view

import (
	"sort"
	"strings"
	"time"

	"github.com/pbaille/lens/internal/aggregate"
	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/filter"
	"github.com/pbaille/lens/internal/market"
)

// Order is a sort direction
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// ParseOrder maps a query value to an Order, falling back to def.
func ParseOrder(s string, def Order) Order {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case Asc:
		return Asc
	case Desc:
		return Desc
	default:
		return def
	}
}

// sortStable orders items by key; ties keep their incoming order.
func sortStable[T any](items []T, order Order, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if order == Asc {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}

// CoinRow is one line of the coin → categories table
type CoinRow struct {
	Coin       string   `json:"coin"`
	Categories []string `json:"categories"`
	RPoints    float64  `json:"rpoints"`
}

// CoinQuery narrows and orders the coin table
type CoinQuery struct {
	Search string
	SortBy string // name | categories | rpoints
	Order  Order
}

// CoinCategoryTable joins coin categories with project rpoints.
func CoinCategoryTable(res aggregate.Result, q CoinQuery) []CoinRow {
	points := rpointsIndex(res)
	rows := make([]CoinRow, 0, len(res.CoinCategories))
	for _, c := range res.CoinCategories {
		if !filter.MatchesSearch(c.Coin, c.Categories, q.Search) {
			continue
		}
		rows = append(rows, CoinRow{
			Coin:       c.Coin,
			Categories: append([]string{}, c.Categories...),
			RPoints:    points[c.Coin],
		})
	}

	order := q.Order
	if order == "" {
		order = Desc
	}
	switch q.SortBy {
	case "name":
		sortStable(rows, order, func(a, b CoinRow) bool { return a.Coin < b.Coin })
	case "categories":
		sortStable(rows, order, func(a, b CoinRow) bool { return len(a.Categories) < len(b.Categories) })
	default:
		sortStable(rows, order, func(a, b CoinRow) bool { return a.RPoints < b.RPoints })
	}
	return rows
}

// Market table tabs
const (
	TabAll        = "all"
	TabNFTs       = "nfts"
	TabCategories = "categories"
)

// MarketRow is a coin with its rpoints, tags and quote
type MarketRow struct {
	Coin       string       `json:"coin"`
	RPoints    float64      `json:"rpoints"`
	Categories []string     `json:"categories"`
	Quote      domain.Quote `json:"quote"`
	HasQuote   bool         `json:"has_quote"`
}

// MarketQuery narrows, orders and pages the market table
type MarketQuery struct {
	Search   string
	Tab      string // all | nfts | categories
	Category string // applies to the categories tab
	SortBy   string // rpoints | name | price | 24h | market_cap | volume | supply | categories
	Order    Order
	Page     int
	PageSize int
	Columns  []string
}

// MarketTableView is one rendered page of the market table
type MarketTableView struct {
	Rows       []MarketRow `json:"rows"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Pages      int         `json:"pages"`
	Columns    []string    `json:"columns"`
	Stale      bool        `json:"stale"`
	Refreshing bool        `json:"refreshing"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// DefaultMarketPageSize is used when a query asks for no page size
const DefaultMarketPageSize = 25

// MarketTable joins every aggregated coin with the snapshot's quotes. Coins the
// snapshot does not know keep a placeholder row, so the row count follows the
// aggregate rather than the market data.
func MarketTable(res aggregate.Result, snap market.Snapshot, q MarketQuery) MarketTableView {
	coins := make([]string, len(res.CoinCategories))
	for i, c := range res.CoinCategories {
		coins[i] = c.Coin
	}
	joined := market.Join(coins, snap.Quotes)
	points := rpointsIndex(res)

	rows := make([]MarketRow, 0, len(joined))
	for i, j := range joined {
		cats := res.CoinCategories[i].Categories
		if !matchesTab(cats, q.Tab, q.Category) || !filter.MatchesSearch(j.Coin, cats, q.Search) {
			continue
		}
		rows = append(rows, MarketRow{
			Coin:       j.Coin,
			RPoints:    points[j.Coin],
			Categories: append([]string{}, cats...),
			Quote:      j.Quote,
			HasQuote:   j.Matched,
		})
	}

	order := q.Order
	if order == "" {
		order = Desc
	}
	sortMarketRows(rows, q.SortBy, order)

	size := q.PageSize
	if size <= 0 {
		size = DefaultMarketPageSize
	}
	page := Paginate(rows, q.Page, size)

	return MarketTableView{
		Rows:       page.Items,
		Total:      page.Total,
		Page:       page.Page,
		Pages:      page.Pages,
		Columns:    NewColumnSelection(q.Columns).Committed(),
		Stale:      snap.Stale,
		Refreshing: snap.Refreshing,
		UpdatedAt:  snap.UpdatedAt,
	}
}

func matchesTab(categories []string, tab, category string) bool {
	switch tab {
	case TabNFTs:
		return filter.IsNFT(categories)
	case TabCategories:
		if category == "" {
			return true
		}
		return filter.HasCategory(categories, []string{category})
	default:
		return true
	}
}

func sortMarketRows(rows []MarketRow, by string, order Order) {
	var key func(MarketRow) float64
	switch by {
	case "name":
		sortStable(rows, order, func(a, b MarketRow) bool { return a.Coin < b.Coin })
		return
	case ColumnCategories:
		key = func(r MarketRow) float64 { return float64(len(r.Categories)) }
	case ColumnPrice:
		key = func(r MarketRow) float64 { return r.Quote.Price }
	case Column24h:
		key = func(r MarketRow) float64 { return r.Quote.PercentChange24h }
	case ColumnMarketCap:
		key = func(r MarketRow) float64 { return r.Quote.MarketCap }
	case ColumnVolume:
		key = func(r MarketRow) float64 { return r.Quote.Volume24h }
	case ColumnSupply:
		key = func(r MarketRow) float64 { return r.Quote.CirculatingSupply }
	default:
		key = func(r MarketRow) float64 { return r.RPoints }
	}
	sortStable(rows, order, func(a, b MarketRow) bool { return key(a) < key(b) })
}

// TopCategories returns the n tags attached to the most coins, most frequent first.
// Ties are broken by name.
func TopCategories(coins []domain.CoinCategories, n int) []domain.NamedValue {
	counts := make(map[string]float64)
	for _, c := range coins {
		for _, cat := range c.Categories {
			counts[cat]++
		}
	}

	out := make([]domain.NamedValue, 0, len(counts))
	for name, count := range counts {
		out = append(out, domain.NamedValue{Name: name, Value: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Trend returns a copy of one project's series, empty when it was never mentioned.
func Trend(res aggregate.Result, project string) []domain.TrendPoint {
	series := res.ProjectTrends[project]
	out := make([]domain.TrendPoint, len(series))
	copy(out, series)
	return out
}

func rpointsIndex(res aggregate.Result) map[string]float64 {
	idx := make(map[string]float64, len(res.ProjectDistribution))
	for _, p := range res.ProjectDistribution {
		idx[p.Name] = p.Value
	}
	return idx
}
