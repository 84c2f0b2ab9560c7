// Package market fetches quotes for aggregated coins and keeps the last good snapshot.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pbaille/lens/internal/domain"
)

// DefaultRate is the proactive request budget against the market-data collaborator.
const DefaultRate = 1.0

// Response is one answer of the market-data collaborator.
type Response struct {
	Quotes    map[string]domain.Quote
	Timestamp time.Time
	// Fresh is false when the collaborator fell back to its own cached data.
	Fresh bool
}

type apiRequest struct {
	Symbols []string `json:"symbols"`
}

type apiResponse struct {
	Data      map[string]domain.Quote `json:"data"`
	Timestamp int64                   `json:"timestamp"`
	IsFresh   *bool                   `json:"isFresh"`
	Error     string                  `json:"error,omitempty"`
}

// Client speaks the market-data collaborator's batch quote contract.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client for endpoint allowing perSecond requests per second.
func NewClient(endpoint string, perSecond float64) *Client {
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Quotes requests market data for every symbol in one call.
func (c *Client) Quotes(ctx context.Context, symbols []string) (Response, error) {
	if c.endpoint == "" {
		return Response{}, fmt.Errorf("market data: %w", domain.ErrNotConfigured)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limit: %w", err)
	}

	if symbols == nil {
		symbols = []string{}
	}
	jsonBody, err := json.Marshal(apiRequest{Symbols: symbols})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("market data error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != "" {
		return Response{}, fmt.Errorf("market data error: %s", apiResp.Error)
	}

	out := Response{
		Quotes: make(map[string]domain.Quote, len(apiResp.Data)),
		Fresh:  apiResp.IsFresh == nil || *apiResp.IsFresh,
	}
	if apiResp.Timestamp > 0 {
		out.Timestamp = time.UnixMilli(apiResp.Timestamp).UTC()
	}
	for name, q := range apiResp.Data {
		out.Quotes[name] = q
	}
	return out, nil
}
