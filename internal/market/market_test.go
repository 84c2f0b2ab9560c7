package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/lens/internal/domain"
)

func TestClient_Quotes(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{
			"data": {"BTC": {"symbol": "btc", "price": 65000.5, "market_cap": 1.2e12, "volume_24h": 3e10, "percent_change_24h": -1.5, "circulating_supply": 19700000}},
			"timestamp": 1704067200000,
			"isFresh": false
		}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, 100).Quotes(context.Background(), []string{"BTC", "NOPE"})
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "NOPE"}, got.Symbols)
	assert.False(t, resp.Fresh)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), resp.Timestamp)
	require.Contains(t, resp.Quotes, "BTC")
	assert.Equal(t, domain.Quote{
		Symbol: "btc", Price: 65000.5, MarketCap: 1.2e12, Volume24h: 3e10,
		PercentChange24h: -1.5, CirculatingSupply: 19700000,
	}, resp.Quotes["BTC"])
}

func TestClient_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "Failed to fetch price data"}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, 100).Quotes(context.Background(), []string{"BTC"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := NewClient("", 0).Quotes(context.Background(), nil)
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})

	t.Run("missing isFresh means fresh", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data": {}}`))
		}))
		defer srv.Close()

		resp, err := NewClient(srv.URL, 100).Quotes(context.Background(), []string{"X"})
		require.NoError(t, err)
		assert.True(t, resp.Fresh)
		assert.True(t, resp.Timestamp.IsZero())
	})
}

type fakeSource struct {
	mu    sync.Mutex
	calls [][]string
	resp  Response
	err   error
}

func (f *fakeSource) Quotes(ctx context.Context, symbols []string) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbols)
	return f.resp, f.err
}

func TestEnricher_Refresh(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{resp: Response{Quotes: map[string]domain.Quote{"BTC": {Price: 1}}, Fresh: true}}
	var updates []Snapshot
	e := NewEnricher(src, Options{
		Now:      func() time.Time { return now },
		OnUpdate: func(s Snapshot) { updates = append(updates, s) },
	})

	require.NoError(t, e.Refresh(context.Background(), []string{"ETH", "BTC", " BTC ", ""}))

	require.Len(t, src.calls, 1)
	assert.Equal(t, []string{"BTC", "ETH"}, src.calls[0])

	snap := e.Snapshot()
	assert.Equal(t, 1.0, snap.Quotes["BTC"].Price)
	assert.False(t, snap.Stale)
	assert.False(t, snap.Refreshing)
	assert.Equal(t, now, snap.UpdatedAt)
	require.Len(t, updates, 1)

	t.Run("failure keeps prior snapshot and marks stale", func(t *testing.T) {
		src.err = errors.New("upstream down")
		err := e.Refresh(context.Background(), []string{"BTC"})
		require.Error(t, err)

		snap := e.Snapshot()
		assert.True(t, snap.Stale)
		assert.Equal(t, 1.0, snap.Quotes["BTC"].Price)
	})

	t.Run("collaborator cache hit marks stale", func(t *testing.T) {
		src.err = nil
		src.resp = Response{Quotes: map[string]domain.Quote{"BTC": {Price: 2}}, Fresh: false}
		require.NoError(t, e.Refresh(context.Background(), []string{"BTC"}))

		snap := e.Snapshot()
		assert.True(t, snap.Stale)
		assert.Equal(t, 2.0, snap.Quotes["BTC"].Price)
	})
}

func TestEnricher_NoCoinsSkipsRequest(t *testing.T) {
	src := &fakeSource{}
	e := NewEnricher(src, Options{})

	require.NoError(t, e.Refresh(context.Background(), nil))
	assert.Empty(t, src.calls)
	assert.NotNil(t, e.Snapshot().Quotes)
}

func TestEnricher_SnapshotBeforeLoad(t *testing.T) {
	e := NewEnricher(&fakeSource{}, Options{})
	snap := e.Snapshot()
	assert.Empty(t, snap.Quotes)
	assert.False(t, snap.Stale)
	assert.True(t, snap.UpdatedAt.IsZero())
}

func TestJoin(t *testing.T) {
	quotes := map[string]domain.Quote{"BTC": {Price: 10}, "UNUSED": {Price: 1}}

	rows := Join([]string{"BTC", "OBSCURE"}, quotes)

	assert.Equal(t, []Row{
		{Coin: "BTC", Quote: domain.Quote{Price: 10}, Matched: true},
		{Coin: "OBSCURE", Matched: false},
	}, rows)
	assert.Empty(t, Join(nil, quotes))
}
