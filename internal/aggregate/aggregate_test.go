package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/lens/internal/domain"
)

func day(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func mention(coin string, rpoints float64, cats ...string) domain.ProjectMention {
	if cats == nil {
		cats = []string{}
	}
	return domain.ProjectMention{CoinOrProject: coin, RPoints: rpoints, TotalCount: 1, Categories: cats}
}

func record(id, date, channel string, mentions ...domain.ProjectMention) domain.KnowledgeRecord {
	return domain.KnowledgeRecord{ID: id, Date: day(date), ChannelName: channel, ProjectMentions: mentions}
}

func exampleRecords() []domain.KnowledgeRecord {
	return []domain.KnowledgeRecord{
		record("A", "2024-01-01", "c1", mention("BTC", 5, "L1")),
		record("B", "2024-01-02", "c1", mention("BTC", 3, "L1", "DeFi")),
	}
}

func TestCompute_ExampleScenario(t *testing.T) {
	res := Compute(exampleRecords(), Options{})

	assert.Equal(t, []domain.NamedValue{{Name: "BTC", Value: 8}}, res.ProjectDistribution)
	assert.Equal(t, []domain.NamedValue{{Name: "L1", Value: 2}, {Name: "DeFi", Value: 1}}, res.CategoryDistribution)
	assert.Equal(t, map[string][]domain.TrendPoint{
		"BTC": {{Date: "2024-01-01", RPoints: 5}, {Date: "2024-01-02", RPoints: 3}},
	}, res.ProjectTrends)
	assert.Equal(t, []domain.CoinCategories{{Coin: "BTC", Categories: []string{"L1", "DeFi"}}}, res.CoinCategories)
	assert.Equal(t, 8.0, res.RPoints("BTC"))
	assert.Equal(t, 0.0, res.RPoints("ETH"))
}

func TestCompute_Empty(t *testing.T) {
	res := Compute(nil, Options{})

	assert.Empty(t, res.ProjectDistribution)
	assert.Empty(t, res.CategoryDistribution)
	assert.Empty(t, res.ProjectTrends)
	assert.Empty(t, res.CoinCategories)
}

func TestCompute_Idempotent(t *testing.T) {
	records := []domain.KnowledgeRecord{
		record("1", "2024-02-01", "a", mention("ETH", 2, "L1"), mention("UNI", 1.5, "DeFi")),
		record("2", "2024-02-03", "b", mention("ETH", 4), mention("SOL", 4, "L1")),
	}

	first := Compute(records, Options{})
	second := Compute(records, Options{})
	assert.Equal(t, first, second)

	// Mutating a result must not leak into the next computation.
	first.CoinCategories[0].Categories = append(first.CoinCategories[0].Categories, "mutated")
	third := Compute(records, Options{})
	assert.Equal(t, second, third)
}

func TestCompute_Invariants(t *testing.T) {
	records := []domain.KnowledgeRecord{
		record("1", "2024-03-01", "a", mention("ETH", 2.25, "L1", "Smart contracts"), mention("PEPE", 0.5, "Meme")),
		record("2", "2024-03-04", "b", mention("ETH", 1.75, "L1"), mention("DOGE", 3, "Meme")),
		record("3", "2024-03-02", "a", mention("PEPE", 1, "Meme", "NFT")),
		record("4", "2024-03-04", "c"),
	}
	res := Compute(records, Options{})

	t.Run("sum of distribution equals sum of rpoints", func(t *testing.T) {
		var want, got float64
		for _, r := range records {
			for _, m := range r.ProjectMentions {
				want += m.RPoints
			}
		}
		for _, e := range res.ProjectDistribution {
			got += e.Value
		}
		assert.InDelta(t, want, got, 1e-9)
	})

	t.Run("every series shares the same dates", func(t *testing.T) {
		want := []string{"2024-03-01", "2024-03-02", "2024-03-04"}
		require.Len(t, res.ProjectTrends, 3)
		for name, series := range res.ProjectTrends {
			var dates []string
			for _, p := range series {
				dates = append(dates, p.Date)
			}
			assert.Equal(t, want, dates, name)
		}
		assert.Equal(t, 0.0, res.ProjectTrends["DOGE"][0].RPoints)
		assert.Equal(t, 3.0, res.ProjectTrends["DOGE"][2].RPoints)
	})

	t.Run("category counts count mentions", func(t *testing.T) {
		var mentions float64
		for _, r := range records {
			for _, m := range r.ProjectMentions {
				mentions += float64(len(m.Categories))
			}
		}
		var counted float64
		for _, e := range res.CategoryDistribution {
			counted += e.Value
		}
		assert.Equal(t, mentions, counted)
		assert.Equal(t, domain.NamedValue{Name: "Meme", Value: 3}, res.CategoryDistribution[0])
	})

	t.Run("coin categories sorted by coin", func(t *testing.T) {
		var coins []string
		for _, c := range res.CoinCategories {
			coins = append(coins, c.Coin)
		}
		assert.Equal(t, []string{"DOGE", "ETH", "PEPE"}, coins)
	})
}

func TestCompute_StableTies(t *testing.T) {
	records := []domain.KnowledgeRecord{
		record("1", "2024-01-01", "a", mention("ZRX", 1), mention("AAVE", 1), mention("BTC", 2)),
	}
	res := Compute(records, Options{})

	names := make([]string, len(res.ProjectDistribution))
	for i, e := range res.ProjectDistribution {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"BTC", "ZRX", "AAVE"}, names)
}

func TestCompute_CoinWithoutCategories(t *testing.T) {
	res := Compute([]domain.KnowledgeRecord{record("1", "2024-01-01", "a", mention("XMR", 1))}, Options{})

	require.Len(t, res.CoinCategories, 1)
	assert.Equal(t, "XMR", res.CoinCategories[0].Coin)
	assert.NotNil(t, res.CoinCategories[0].Categories)
	assert.Empty(t, res.CoinCategories[0].Categories)
}

func TestCompute_Keys(t *testing.T) {
	records := []domain.KnowledgeRecord{
		record("1", "2024-01-01", "a", mention("Bitcoin", 1), mention(" bitcoin ", 2), mention("   ", 9)),
	}

	t.Run("trimmed but case sensitive by default", func(t *testing.T) {
		res := Compute(records, Options{})
		assert.Equal(t, []domain.NamedValue{{Name: "bitcoin", Value: 2}, {Name: "Bitcoin", Value: 1}}, res.ProjectDistribution)
	})

	t.Run("fold case keeps first spelling", func(t *testing.T) {
		res := Compute(records, Options{FoldCase: true})
		assert.Equal(t, []domain.NamedValue{{Name: "Bitcoin", Value: 3}}, res.ProjectDistribution)
		require.Contains(t, res.ProjectTrends, "Bitcoin")
		assert.Equal(t, 3.0, res.ProjectTrends["Bitcoin"][0].RPoints)
	})
}

func TestCompute_UTCDayBuckets(t *testing.T) {
	late := time.Date(2024, 1, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	records := []domain.KnowledgeRecord{
		{ID: "1", Date: late, ProjectMentions: []domain.ProjectMention{mention("BTC", 1)}},
	}
	res := Compute(records, Options{})

	assert.Equal(t, "2024-01-02", res.ProjectTrends["BTC"][0].Date)
}
