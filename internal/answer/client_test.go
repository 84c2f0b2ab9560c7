package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/lens/internal/domain"
)

func workflow(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "proj", req.Project)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, req.Params.Question)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Ask(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *Result
	}{
		{"plain answer", `{"output": {"answer": "BTC was mentioned most."}}`, &Result{Answer: "BTC was mentioned most."}},
		{"html answer", `{"output": {"answer": "<p>Top coins:</p><ul><li>BTC</li><li>ETH</li></ul>"}}`, &Result{Answer: "Top coins:\n- BTC\n- ETH"}},
		{"fenced answer", "{\"output\": {\"answer\": \"```html\\n<p>Hi</p>\\n```\"}}", &Result{Answer: "Hi"}},
		{"sentinel", `{"output": {"answer": "No useful information."}}`, &Result{NoAnswer: true, Message: RephraseMessage}},
		{"missing output", `{}`, &Result{Answer: NoAnswer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := workflow(t, http.StatusOK, tt.body)
			got, err := New(srv.URL, "secret", "proj").Ask(context.Background(), "what is hot?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_AskErrors(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		_, err := New("http://unused", "", "").Ask(context.Background(), "   ")
		assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := New("", "", "").Ask(context.Background(), "q")
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})

	t.Run("transport error stays an error", func(t *testing.T) {
		srv := workflow(t, http.StatusBadGateway, `upstream`)
		_, err := New(srv.URL, "secret", "proj").Ask(context.Background(), "q")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
	})
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "just text", PlainText("  just text "))
	assert.Equal(t, "Title\nBody & more", PlainText("<h1>Title</h1><p>Body &amp; <b>more</b></p><script>x()</script>"))
}
