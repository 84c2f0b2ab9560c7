package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pbaille/lens/internal/domain"
)

//go:embed schema.sql
var schema string

// Store keeps knowledge records in a local SQLite database
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath and initializes its schema
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Fetch returns every stored record as canonical JSON, newest batch first
func (s *Store) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM knowledge ORDER BY created_at DESC, seq ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}

	return out, nil
}

// Replace deletes every stored record and inserts records in one transaction
func (s *Store) Replace(ctx context.Context, records []domain.KnowledgeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM knowledge"); err != nil {
		return fmt.Errorf("clear knowledge: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO knowledge (id, seq, channel_name, video_title, published_at, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for i, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, i, r.ChannelName, r.VideoTitle, r.Date.UTC(), string(payload), now); err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Channels returns the distinct channel names stored, sorted
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT channel_name FROM knowledge ORDER BY channel_name",
	)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}
