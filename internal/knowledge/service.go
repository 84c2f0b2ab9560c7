// Package knowledge owns the snapshot of normalized records and the write path
// to whichever collaborator persists them.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/normalize"
	"github.com/pbaille/lens/internal/poll"
)

// DefaultInterval is how often the knowledge snapshot is refetched.
const DefaultInterval = 30 * time.Second

// Collaborator persists knowledge records.
type Collaborator interface {
	// Fetch returns every stored record in its raw shape, newest first.
	Fetch(ctx context.Context) ([]json.RawMessage, error)
	// Replace swaps the whole stored set for records.
	Replace(ctx context.Context, records []domain.KnowledgeRecord) error
}

// Snapshot is the record set currently served.
type Snapshot struct {
	Records   []domain.KnowledgeRecord
	UpdatedAt time.Time
	Stale     bool
}

// Options tune a Service.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time

	// StrictWrites rejects a whole write batch when any record or mention is malformed.
	StrictWrites bool

	Normalize normalize.Options

	// OnUpdate runs whenever a refresh yields a different record set.
	OnUpdate func(Snapshot)
}

// WriteResult reports the outcome of a write batch.
type WriteResult struct {
	Written int                            `json:"written"`
	Errors  []*domain.MalformedRecordError `json:"errors"`
}

// Service serves the last good record snapshot and validates writes.
type Service struct {
	source Collaborator
	opts   Options
	logger *slog.Logger
	loop   *poll.Loop[[]domain.KnowledgeRecord]
}

// NewService creates a Service over source.
func NewService(source Collaborator, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{source: source, opts: opts, logger: logger}
	s.loop = poll.New("knowledge", s.fetch, poll.Options[[]domain.KnowledgeRecord]{
		Logger: logger,
		Now:    opts.Now,
		Equal: func(a, b []domain.KnowledgeRecord) bool {
			return reflect.DeepEqual(a, b)
		},
		OnUpdate: func([]domain.KnowledgeRecord) {
			if opts.OnUpdate == nil {
				return
			}
			if snap, err := s.Snapshot(); err == nil {
				opts.OnUpdate(snap)
			}
		},
	})
	return s
}

func (s *Service) fetch(ctx context.Context) ([]domain.KnowledgeRecord, error) {
	raws, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch knowledge: %w", err)
	}
	records, _ := normalize.Batch(raws, s.opts.Normalize, s.logger)
	return records, nil
}

// Refresh refetches the record set once.
func (s *Service) Refresh(ctx context.Context) error {
	return s.loop.Refresh(ctx)
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return s.loop.Run(ctx, interval)
}

// Snapshot returns the records currently served, or ErrNoSnapshot before the
// first successful fetch. The records must not be modified.
func (s *Service) Snapshot() (Snapshot, error) {
	st := s.loop.State()
	if !st.Loaded {
		if st.Err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", domain.ErrNoSnapshot, st.Err)
		}
		return Snapshot{}, domain.ErrNoSnapshot
	}
	return Snapshot{Records: st.Value, UpdatedAt: st.UpdatedAt, Stale: st.Stale}, nil
}

// Get returns one record of the current snapshot by id.
func (s *Service) Get(id string) (domain.KnowledgeRecord, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return domain.KnowledgeRecord{}, err
	}
	for _, r := range snap.Records {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.KnowledgeRecord{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
}

// Write normalizes raws and replaces the stored set with the valid records.
// Every malformed record and mention is reported by index. In strict mode any
// error rejects the batch, nothing is written, and the error wraps ErrValidation.
// A batch where every record is malformed is rejected the same way in either mode.
func (s *Service) Write(ctx context.Context, raws []json.RawMessage) (WriteResult, error) {
	result := WriteResult{Errors: []*domain.MalformedRecordError{}}
	records := make([]domain.KnowledgeRecord, 0, len(raws))

	for i, raw := range raws {
		rec, skipped, err := normalize.Record(i, raw, s.opts.Normalize)
		for _, e := range skipped {
			result.Errors = append(result.Errors, asMalformed(e))
		}
		if err != nil {
			result.Errors = append(result.Errors, asMalformed(err))
			continue
		}
		records = append(records, rec)
	}

	if s.opts.StrictWrites && len(result.Errors) > 0 {
		return result, fmt.Errorf("write knowledge: %d invalid: %w", len(result.Errors), domain.ErrValidation)
	}
	// Nothing valid: keep the stored set.
	if len(records) == 0 && len(result.Errors) > 0 {
		return result, fmt.Errorf("write knowledge: no valid records: %w", domain.ErrValidation)
	}

	if err := s.source.Replace(ctx, records); err != nil {
		return result, fmt.Errorf("replace knowledge: %w", err)
	}
	result.Written = len(records)
	s.logger.Info("knowledge replaced", "written", result.Written, "rejected", len(result.Errors))

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after write failed", "error", err)
	}
	return result, nil
}

func asMalformed(err error) *domain.MalformedRecordError {
	var mre *domain.MalformedRecordError
	if errors.As(err, &mre) {
		return mre
	}
	return &domain.MalformedRecordError{Mention: -1, Field: "record", Reason: err.Error()}
}
