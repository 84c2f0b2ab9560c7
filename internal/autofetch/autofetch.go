// Package autofetch asks the ingestion webhook to scrape a channel from a start date.
package autofetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pbaille/lens/internal/domain"
)

// ErrChannelRequired is returned when the channel name is blank
var ErrChannelRequired = errors.New("channel name is required")

// Request is the webhook payload
type Request struct {
	ChannelName string `json:"channelName"`
	StartDate   string `json:"startDate"`
}

// Trigger posts autofetch requests to a webhook
type Trigger struct {
	webhookURL string
	httpClient *http.Client
}

// New creates a Trigger for webhookURL
func New(webhookURL string) *Trigger {
	return &Trigger{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Validate checks that webhookURL is an absolute http(s) URL
func Validate(webhookURL string) error {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Start requests ingestion of channel from start onward
func (t *Trigger) Start(ctx context.Context, channel string, start time.Time) (Request, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return Request{}, ErrChannelRequired
	}
	if t.webhookURL == "" {
		return Request{}, fmt.Errorf("autofetch webhook: %w", domain.ErrNotConfigured)
	}
	if err := Validate(t.webhookURL); err != nil {
		return Request{}, fmt.Errorf("autofetch webhook: %w", err)
	}

	payload := Request{
		ChannelName: channel,
		StartDate:   start.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Request{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Request{}, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Request{}, fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return payload, nil
}

// ParseStart accepts a calendar day or an RFC 3339 timestamp
func ParseStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
