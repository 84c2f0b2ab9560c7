package market

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/poll"
)

// DefaultInterval is how often quotes are refreshed.
const DefaultInterval = 15 * time.Second

// QuoteSource is what the Enricher needs from a market-data collaborator.
type QuoteSource interface {
	Quotes(ctx context.Context, symbols []string) (Response, error)
}

// Snapshot is the quote set currently served. Quotes must not be modified.
type Snapshot struct {
	Quotes     map[string]domain.Quote `json:"quotes"`
	UpdatedAt  time.Time               `json:"updated_at"`
	Stale      bool                    `json:"stale"`
	Refreshing bool                    `json:"refreshing"`
}

// Options tune an Enricher.
type Options struct {
	Logger       *slog.Logger
	Now          func() time.Time
	OnUpdate     func(Snapshot)
	OnRefreshing func(bool)
	OnStale      func(error)
}

// Enricher keeps the last good quote snapshot for the coins currently aggregated.
type Enricher struct {
	source QuoteSource
	loop   *poll.Loop[Response]

	mu    sync.Mutex
	coins []string
}

// NewEnricher creates an Enricher over source.
func NewEnricher(source QuoteSource, opts Options) *Enricher {
	e := &Enricher{source: source}
	e.loop = poll.New("market", e.fetch, poll.Options[Response]{
		Logger:       opts.Logger,
		Now:          opts.Now,
		Degraded:     func(r Response) bool { return !r.Fresh },
		OnRefreshing: opts.OnRefreshing,
		OnStale:      opts.OnStale,
		OnUpdate: func(Response) {
			if opts.OnUpdate != nil {
				opts.OnUpdate(e.Snapshot())
			}
		},
	})
	return e
}

// SetCoins replaces the coin list used by the next refresh.
func (e *Enricher) SetCoins(coins []string) {
	d := distinct(coins)
	e.mu.Lock()
	e.coins = d
	e.mu.Unlock()
}

// Coins returns the coin list the next refresh will request.
func (e *Enricher) Coins() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.coins...)
}

// Refresh requests quotes for coins in a single batch. On failure the prior
// snapshot is kept, marked stale, and the error returned.
func (e *Enricher) Refresh(ctx context.Context, coins []string) error {
	e.SetCoins(coins)
	return e.loop.Refresh(ctx)
}

// Run refreshes the current coin list immediately and then every interval.
func (e *Enricher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return e.loop.Run(ctx, interval)
}

// Refreshing reports whether a refresh is outstanding.
func (e *Enricher) Refreshing() bool {
	return e.loop.Refreshing()
}

// Snapshot returns the quotes currently served.
func (e *Enricher) Snapshot() Snapshot {
	st := e.loop.State()
	quotes := st.Value.Quotes
	if quotes == nil {
		quotes = map[string]domain.Quote{}
	}
	updated := st.Value.Timestamp
	if updated.IsZero() {
		updated = st.UpdatedAt
	}
	return Snapshot{
		Quotes:     quotes,
		UpdatedAt:  updated,
		Stale:      st.Stale,
		Refreshing: st.Refreshing,
	}
}

func (e *Enricher) fetch(ctx context.Context) (Response, error) {
	coins := e.Coins()
	if len(coins) == 0 {
		return Response{Quotes: map[string]domain.Quote{}, Fresh: true}, nil
	}
	return e.source.Quotes(ctx, coins)
}

// Row is one coin joined with its quote. Matched is false for placeholders.
type Row struct {
	Coin    string       `json:"coin"`
	Quote   domain.Quote `json:"quote"`
	Matched bool         `json:"matched"`
}

// Join looks every coin up by name. Coins without a quote get a zero-valued
// placeholder, so the result always has one row per coin.
func Join(coins []string, quotes map[string]domain.Quote) []Row {
	rows := make([]Row, len(coins))
	for i, c := range coins {
		q, ok := quotes[c]
		rows[i] = Row{Coin: c, Quote: q, Matched: ok}
	}
	return rows
}

func distinct(coins []string) []string {
	seen := make(map[string]bool, len(coins))
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
