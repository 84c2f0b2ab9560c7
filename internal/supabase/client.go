// Package supabase stores knowledge records in a Supabase table through its
// PostgREST interface.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pbaille/lens/internal/domain"
)

// DefaultTable is the table knowledge rows live in
const DefaultTable = "knowledge"

// Client talks to one Supabase project with a service-role key
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Client. table defaults to DefaultTable.
func New(baseURL, apiKey, table string) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("supabase: %w", domain.ErrNotConfigured)
	}
	if table == "" {
		table = DefaultTable
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		table:      table,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}, nil
}

// row is the table layout written by Replace
type row struct {
	ExternalID  string `json:"external_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Category    string `json:"category"`
	PublishDate string `json:"publish_date"`
	Sorted      string `json:"sorted"`
	CreatedAt   string `json:"created_at"`
}

type sorted struct {
	Projects []domain.ProjectMention `json:"projects"`
}

// Fetch returns every row, newest first
func (c *Client) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	body, err := c.do(ctx, http.MethodGet, q, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	return rows, nil
}

// Replace deletes every row, then inserts records in one bulk request
func (c *Client) Replace(ctx context.Context, records []domain.KnowledgeRecord) error {
	q := url.Values{}
	q.Set("id", "not.is.null")
	if _, err := c.do(ctx, http.MethodDelete, q, nil); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	now := c.now().UTC().Format(time.RFC3339)
	rows := make([]row, len(records))
	for i, r := range records {
		s, err := json.Marshal(sorted{Projects: r.ProjectMentions})
		if err != nil {
			return fmt.Errorf("marshal mentions %s: %w", r.ID, err)
		}
		rows[i] = row{
			ExternalID:  r.ID,
			Title:       r.VideoTitle,
			Content:     r.Transcript,
			Category:    r.ChannelName,
			PublishDate: r.Date.UTC().Format(time.RFC3339),
			Sorted:      string(s),
			CreatedAt:   now,
		}
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, nil, payload); err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, q url.Values, payload []byte) ([]byte, error) {
	endpoint := c.baseURL + "/rest/v1/" + c.table
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("supabase error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
