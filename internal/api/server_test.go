package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/lens/internal/answer"
	"github.com/pbaille/lens/internal/autofetch"
	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/knowledge"
	"github.com/pbaille/lens/internal/market"
	"github.com/pbaille/lens/internal/view"
)

type fakeKnowledge struct {
	records  []domain.KnowledgeRecord
	err      error
	writeErr error
	written  int
}

func (f *fakeKnowledge) Snapshot() (knowledge.Snapshot, error) {
	if f.err != nil {
		return knowledge.Snapshot{}, f.err
	}
	return knowledge.Snapshot{Records: f.records}, nil
}

func (f *fakeKnowledge) Get(id string) (domain.KnowledgeRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.KnowledgeRecord{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
}

func (f *fakeKnowledge) Write(_ context.Context, raws []json.RawMessage) (knowledge.WriteResult, error) {
	f.written = len(raws)
	result := knowledge.WriteResult{Errors: []*domain.MalformedRecordError{}}
	if f.writeErr != nil {
		result.Errors = append(result.Errors, &domain.MalformedRecordError{Record: 0, Mention: -1, Field: "date", Reason: "missing"})
		return result, f.writeErr
	}
	result.Written = len(raws)
	return result, nil
}

type fakeMarket struct {
	snap       market.Snapshot
	refreshErr error
	refreshed  []string
}

func (f *fakeMarket) Snapshot() market.Snapshot { return f.snap }
func (f *fakeMarket) Coins() []string           { return []string{"BTC"} }
func (f *fakeMarket) Refresh(_ context.Context, coins []string) error {
	f.refreshed = coins
	return f.refreshErr
}

type fakeAnswerer struct{ result *answer.Result }

func (f *fakeAnswerer) Ask(_ context.Context, question string) (*answer.Result, error) {
	return f.result, nil
}

type fakeAutofetch struct{}

func (fakeAutofetch) Start(_ context.Context, channel string, start time.Time) (autofetch.Request, error) {
	if strings.TrimSpace(channel) == "" {
		return autofetch.Request{}, autofetch.ErrChannelRequired
	}
	return autofetch.Request{ChannelName: channel, StartDate: start.Format(time.RFC3339)}, nil
}

func day(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func exampleRecords() []domain.KnowledgeRecord {
	return []domain.KnowledgeRecord{
		{ID: "A", Date: day("2024-01-01"), ChannelName: "c1", VideoTitle: "Bitcoin weekly", ProjectMentions: []domain.ProjectMention{
			{CoinOrProject: "BTC", RPoints: 5, TotalCount: 1, Categories: []string{"L1"}},
		}},
		{ID: "B", Date: day("2024-01-02"), ChannelName: "c1", VideoTitle: "DeFi roundup", ProjectMentions: []domain.ProjectMention{
			{CoinOrProject: "BTC", RPoints: 3, TotalCount: 1, Categories: []string{"L1", "DeFi"}},
			{CoinOrProject: "ETH", RPoints: 2, TotalCount: 1, Categories: []string{"L1"}},
		}},
		{ID: "C", Date: day("2024-01-02"), ChannelName: "c2", VideoTitle: "NFT season", ProjectMentions: []domain.ProjectMention{
			{CoinOrProject: "PUNK", RPoints: 1, TotalCount: 1, Categories: []string{"NFT"}},
		}},
	}
}

type fixture struct {
	knowledge *fakeKnowledge
	market    *fakeMarket
	server    *Server
}

func newFixture() *fixture {
	f := &fixture{
		knowledge: &fakeKnowledge{records: exampleRecords()},
		market: &fakeMarket{snap: market.Snapshot{Quotes: map[string]domain.Quote{
			"BTC": {Symbol: "BTC", Price: 42000, MarketCap: 8e11},
		}}},
	}
	f.server = New(Config{
		Knowledge: f.knowledge,
		Market:    f.market,
		Answer:    &fakeAnswerer{result: &answer.Result{Answer: "Bitcoin is a layer one."}},
		Autofetch: fakeAutofetch{},
		Now:       func() time.Time { return day("2024-01-03") },
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["records"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodOptions, "/analytics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListKnowledge(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/knowledge?search=defi", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Records  []domain.KnowledgeRecord `json:"records"`
		Total    int                      `json:"total"`
		Channels []string                 `json:"channels"`
	}](t, rec)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "B", body.Records[0].ID)
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, []string{"c1", "c2"}, body.Channels)
}

func TestGetKnowledge(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/knowledge/A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bitcoin weekly", decode[domain.KnowledgeRecord](t, rec).VideoTitle)

	rec = f.do(t, http.MethodGet, "/knowledge/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteKnowledge(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/knowledge", `[{"id":"x"},{"id":"y"}]`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[knowledge.WriteResult](t, rec).Written)
		assert.Equal(t, 2, f.knowledge.written)
	})

	t.Run("strict rejection", func(t *testing.T) {
		f := newFixture()
		f.knowledge.writeErr = fmt.Errorf("write knowledge: 1 invalid: %w", domain.ErrValidation)
		rec := f.do(t, http.MethodPost, "/knowledge", `[{"id":"x"}]`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		result := decode[knowledge.WriteResult](t, rec)
		assert.Equal(t, 0, result.Written)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "date", result.Errors[0].Field)
	})

	t.Run("bad body", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/knowledge", `nope`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnalytics(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/analytics?channels=c1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[AnalyticsResponse](t, rec)

	assert.Equal(t, []domain.NamedValue{{Name: "BTC", Value: 8}, {Name: "ETH", Value: 2}}, body.ProjectDistribution)
	assert.Equal(t, 2, body.Summary.TotalEntries)
	assert.Equal(t, "BTC", body.Summary.TopCoin)
	require.Len(t, body.TopProjects, 2)
	assert.Equal(t, 80.0, body.TopProjects[0].Percent)
	assert.Equal(t, 20.0, body.TopProjects[1].Percent)
	assert.NotContains(t, body.ProjectTrends, "PUNK")
}

func TestAnalytics_NoSnapshot(t *testing.T) {
	f := newFixture()
	f.knowledge.err = fmt.Errorf("%w: dial tcp: refused", domain.ErrNoSnapshot)

	for _, path := range []string{"/analytics", "/knowledge", "/channels", "/market"} {
		rec := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestProjectTrend(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/analytics/trends/BTC", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		RPoints float64             `json:"rpoints"`
		Points  []domain.TrendPoint `json:"points"`
	}](t, rec)
	assert.Equal(t, 8.0, body.RPoints)
	assert.Equal(t, []domain.TrendPoint{
		{Date: "2024-01-01", RPoints: 5},
		{Date: "2024-01-02", RPoints: 3},
	}, body.Points)
}

func TestCoinTable(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/analytics/coins?sort=name&order=asc", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Coins []view.CoinRow `json:"coins"`
	}](t, rec)
	require.Len(t, body.Coins, 3)
	assert.Equal(t, "BTC", body.Coins[0].Coin)
	assert.Equal(t, "ETH", body.Coins[1].Coin)
	assert.Equal(t, "PUNK", body.Coins[2].Coin)
}

func TestChannels(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"c1", "c2"}, decode[map[string][]string](t, rec)["channels"])

	rec = f.do(t, http.MethodGet, "/channels/rollup?channels=c2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Coins []struct {
			Coin string `json:"coin"`
		} `json:"coins"`
	}](t, rec)
	require.Len(t, body.Coins, 1)
	assert.Equal(t, "PUNK", body.Coins[0].Coin)
}

func TestMarketTable(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/market?channels=c1&sort=rpoints&columns=price,rpoints", "")

	require.Equal(t, http.StatusOK, rec.Code)
	table := decode[view.MarketTableView](t, rec)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "BTC", table.Rows[0].Coin)
	assert.True(t, table.Rows[0].HasQuote)
	assert.Equal(t, 42000.0, table.Rows[0].Quote.Price)
	assert.Equal(t, "ETH", table.Rows[1].Coin)
	assert.False(t, table.Rows[1].HasQuote)
	assert.ElementsMatch(t, []string{view.ColumnPrice, view.ColumnRPoints}, table.Columns)
}

func TestMarketTable_NFTTab(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/market?tab=nfts", "")

	require.Equal(t, http.StatusOK, rec.Code)
	table := decode[view.MarketTableView](t, rec)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "PUNK", table.Rows[0].Coin)
}

func TestRefreshMarket(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/market/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTC"}, f.market.refreshed)

	f.market.refreshErr = errors.New("market HTTP 500")
	rec = f.do(t, http.MethodPost, "/market/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestFAQ(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/faq", `{"question":"what is bitcoin?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bitcoin is a layer one.", decode[answer.Result](t, rec).Answer)

	rec = f.do(t, http.MethodPost, "/faq", `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFAQ_NotConfigured(t *testing.T) {
	srv := New(Config{Knowledge: &fakeKnowledge{}})
	req := httptest.NewRequest(http.MethodPost, "/faq", strings.NewReader(`{"question":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAutofetch(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/autofetch", `{"channelName":"Coin Bureau","startDate":"2024-05-01"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	sent := decode[autofetch.Request](t, rec)
	assert.Equal(t, "Coin Bureau", sent.ChannelName)
	assert.Equal(t, "2024-05-01T00:00:00Z", sent.StartDate)

	rec = f.do(t, http.MethodPost, "/autofetch", `{"channelName":" ","startDate":"2024-05-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/autofetch", `{"channelName":"x","startDate":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", domain.ErrNotFound)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrNotConfigured))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.New("boom")))
}

func TestMarketTable_Columns(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/market", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, view.DefaultColumns, decode[view.MarketTableView](t, rec).Columns)

	rec = f.do(t, http.MethodGet, "/market?columns=supply,bogus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{view.ColumnSupply}, decode[view.MarketTableView](t, rec).Columns)
}
