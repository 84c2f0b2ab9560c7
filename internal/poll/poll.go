// Package poll keeps a last-known-good value fresh by refetching it on an interval.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FetchFunc loads a fresh value.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// State is a consistent copy of what a Loop currently holds.
type State[T any] struct {
	Value      T
	Loaded     bool
	Stale      bool
	Refreshing bool
	UpdatedAt  time.Time
	Err        error
}

// Options tune a Loop. Every field is optional.
type Options[T any] struct {
	Logger *slog.Logger

	// Now is the clock used for UpdatedAt.
	Now func() time.Time

	// Equal suppresses OnUpdate when a refresh returns the value already held.
	Equal func(a, b T) bool

	// Degraded marks a successfully fetched value as stale, for collaborators
	// that answer with their own cached data.
	Degraded func(T) bool

	// OnUpdate runs after a new value is stored.
	OnUpdate func(T)

	// OnRefreshing runs when a refresh starts (true) and ends (false).
	OnRefreshing func(bool)

	// OnStale runs when a refresh fails and the previous value is kept.
	OnStale func(error)
}

// Loop owns one cached value and the refreshes that replace it.
type Loop[T any] struct {
	name   string
	fetch  FetchFunc[T]
	opts   Options[T]
	logger *slog.Logger

	refreshMu sync.Mutex // one refresh at a time

	mu    sync.RWMutex
	state State[T]
}

// New creates a Loop named for logging.
func New[T any](name string, fetch FetchFunc[T], opts Options[T]) *Loop[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop[T]{
		name:   name,
		fetch:  fetch,
		opts:   opts,
		logger: logger.With("loop", name),
	}
}

// State returns a copy of the current state.
func (l *Loop[T]) State() State[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Refreshing reports whether a refresh is outstanding.
func (l *Loop[T]) Refreshing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Refreshing
}

// Refresh fetches once and stores the result. On failure the previous value is
// kept and marked stale. A result that arrives after ctx is cancelled is dropped.
func (l *Loop[T]) Refresh(ctx context.Context) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	l.setRefreshing(true)
	defer l.setRefreshing(false)

	v, err := l.fetch(ctx)
	if ctx.Err() != nil {
		l.logger.Debug("discarding result after cancel")
		return ctx.Err()
	}

	if err != nil {
		l.mu.Lock()
		l.state.Stale = l.state.Loaded
		l.state.Err = err
		l.mu.Unlock()

		l.logger.Warn("refresh failed", "error", err)
		if l.opts.OnStale != nil {
			l.opts.OnStale(err)
		}
		return err
	}

	l.mu.Lock()
	changed := !l.state.Loaded || l.opts.Equal == nil || !l.opts.Equal(l.state.Value, v)
	l.state.Value = v
	l.state.Loaded = true
	l.state.Stale = l.opts.Degraded != nil && l.opts.Degraded(v)
	l.state.Err = nil
	l.state.UpdatedAt = l.opts.Now()
	l.mu.Unlock()

	if changed && l.opts.OnUpdate != nil {
		l.opts.OnUpdate(v)
	}
	return nil
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
// Refresh errors are logged, never returned.
func (l *Loop[T]) Run(ctx context.Context, interval time.Duration) error {
	l.logger.Info("poller starting", "interval", interval)

	_ = l.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			_ = l.Refresh(ctx)
		}
	}
}

func (l *Loop[T]) setRefreshing(on bool) {
	l.mu.Lock()
	l.state.Refreshing = on
	l.mu.Unlock()
	if l.opts.OnRefreshing != nil {
		l.opts.OnRefreshing(on)
	}
}
