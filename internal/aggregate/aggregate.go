// Package aggregate folds normalized knowledge records into the derived views the
// dashboard is built on. Every function is pure: results are freshly allocated and
// recomputed from scratch on each call.
package aggregate

import (
	"sort"
	"strings"

	"github.com/pbaille/lens/internal/domain"
)

// Options control how mentions are keyed.
type Options struct {
	// FoldCase merges coins whose names differ only by case. The first-seen
	// spelling is kept for display.
	FoldCase bool
}

func (o Options) key(name string) string {
	name = strings.TrimSpace(name)
	if o.FoldCase {
		return strings.ToLower(name)
	}
	return name
}

// Result holds the four derived structures of one aggregation pass.
type Result struct {
	ProjectDistribution  []domain.NamedValue            `json:"project_distribution"`
	CategoryDistribution []domain.NamedValue            `json:"category_distribution"`
	ProjectTrends        map[string][]domain.TrendPoint `json:"project_trends"`
	CoinCategories       []domain.CoinCategories        `json:"coin_categories"`
}

// RPoints returns the total rpoints of a project, or 0 when it was never mentioned.
func (r Result) RPoints(name string) float64 {
	for _, p := range r.ProjectDistribution {
		if p.Name == name {
			return p.Value
		}
	}
	return 0
}

type project struct {
	name       string
	total      float64
	byDate     map[string]float64
	categories []string
	seen       map[string]bool
}

type counter struct {
	name  string
	count float64
}

// Compute runs the single traversal over records and their mentions and
// finalizes the four aggregates.
func Compute(records []domain.KnowledgeRecord, opts Options) Result {
	projects := make(map[string]*project)
	var projectOrder []*project
	categories := make(map[string]*counter)
	var categoryOrder []*counter
	dates := make(map[string]bool)

	for _, rec := range records {
		day := rec.Day()

		for _, m := range rec.ProjectMentions {
			key := opts.key(m.CoinOrProject)
			if key == "" {
				continue
			}

			p, ok := projects[key]
			if !ok {
				p = &project{
					name:   strings.TrimSpace(m.CoinOrProject),
					byDate: make(map[string]float64),
					seen:   make(map[string]bool),
				}
				projects[key] = p
				projectOrder = append(projectOrder, p)
			}

			p.total += m.RPoints
			p.byDate[day] += m.RPoints
			dates[day] = true

			for _, c := range m.Categories {
				cat, ok := categories[c]
				if !ok {
					cat = &counter{name: c}
					categories[c] = cat
					categoryOrder = append(categoryOrder, cat)
				}
				cat.count++

				if !p.seen[c] {
					p.seen[c] = true
					p.categories = append(p.categories, c)
				}
			}
		}
	}

	return Result{
		ProjectDistribution:  projectDistribution(projectOrder),
		CategoryDistribution: categoryDistribution(categoryOrder),
		ProjectTrends:        projectTrends(projectOrder, dates),
		CoinCategories:       coinCategories(projectOrder),
	}
}

func projectDistribution(order []*project) []domain.NamedValue {
	out := make([]domain.NamedValue, len(order))
	for i, p := range order {
		out[i] = domain.NamedValue{Name: p.name, Value: p.total}
	}
	sortByValueDesc(out)
	return out
}

func categoryDistribution(order []*counter) []domain.NamedValue {
	out := make([]domain.NamedValue, len(order))
	for i, c := range order {
		out[i] = domain.NamedValue{Name: c.name, Value: c.count}
	}
	sortByValueDesc(out)
	return out
}

// sortByValueDesc keeps first-seen order among equal values.
func sortByValueDesc(entries []domain.NamedValue) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Value > entries[j].Value
	})
}

// projectTrends aligns every series on the union of all dates, zero-filling gaps.
func projectTrends(order []*project, dates map[string]bool) map[string][]domain.TrendPoint {
	days := make([]string, 0, len(dates))
	for d := range dates {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make(map[string][]domain.TrendPoint, len(order))
	for _, p := range order {
		series := make([]domain.TrendPoint, len(days))
		for i, d := range days {
			series[i] = domain.TrendPoint{Date: d, RPoints: p.byDate[d]}
		}
		out[p.name] = series
	}
	return out
}

func coinCategories(order []*project) []domain.CoinCategories {
	out := make([]domain.CoinCategories, len(order))
	for i, p := range order {
		cats := make([]string, len(p.categories))
		copy(cats, p.categories)
		out[i] = domain.CoinCategories{Coin: p.name, Categories: cats}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Coin < out[j].Coin
	})
	return out
}
