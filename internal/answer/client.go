// Package answer asks the hosted inference workflow free-form questions about
// the knowledge base.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pbaille/lens/internal/domain"
)

const (
	// NoUsefulInformation is what the workflow answers when nothing relevant was found
	NoUsefulInformation = "No useful information."

	// RephraseMessage is shown instead of the sentinel answer
	RephraseMessage = "I couldn't find any relevant information. Please try rephrasing your question."

	// NoAnswer is used when the workflow returns no answer field
	NoAnswer = "No answer available."
)

// Result holds an answer, or the reason there is none
type Result struct {
	Answer   string `json:"answer"`
	NoAnswer bool   `json:"no_answer"`
	Message  string `json:"message,omitempty"`
}

// Client calls the answer workflow
type Client struct {
	endpoint   string
	apiKey     string
	project    string
	httpClient *http.Client
}

// New creates a Client for the workflow at endpoint
func New(endpoint, apiKey, project string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		project:    project,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Ask sends question and returns the workflow's answer as plain text
func (c *Client) Ask(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("answer workflow: %w", domain.ErrNotConfigured)
	}

	resp, err := c.callAPI(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	return parseAnswer(resp), nil
}

type apiRequest struct {
	Params  apiParams `json:"params"`
	Project string    `json:"project"`
}

type apiParams struct {
	Question string `json:"question"`
}

type apiResponse struct {
	Output *struct {
		Answer string `json:"answer"`
	} `json:"output"`
}

func (c *Client) callAPI(ctx context.Context, question string) (string, error) {
	reqBody := apiRequest{
		Params:  apiParams{Question: question},
		Project: c.project,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Output == nil {
		return "", nil
	}
	return apiResp.Output.Answer, nil
}

func parseAnswer(raw string) *Result {
	text := PlainText(stripFences(raw))
	switch text {
	case "":
		return &Result{Answer: NoAnswer}
	case NoUsefulInformation:
		return &Result{NoAnswer: true, Message: RephraseMessage}
	default:
		return &Result{Answer: text}
	}
}

// stripFences removes a markdown code fence wrapping the whole answer
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```html")
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
