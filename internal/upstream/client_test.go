package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/dripgate/dripgate/internal/core"
)

var testPayload = core.DripPayload{
	Address:        "0xabc",
	Blockchain:     "ETH-SEPOLIA",
	TokenSelection: core.TokenSelection{USDC: true},
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Options{BaseURL: server.URL, QuotaCodes: []string{"QUOTA_EXCEEDED"}})
	client.HTTPClient = server.Client()
	return client
}

func TestDripSendsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/faucet/drips", r.URL.Path)
		require.Equal(t, "Bearer cred-1", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "0xabc", payload["address"])
		assert.Equal(t, "ETH-SEPOLIA", payload["blockchain"])
		assert.Equal(t, true, payload["usdc"])
		_, hasNative := payload["native"]
		assert.False(t, hasNative)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"transactionId":"tx-1"}}`))
	})

	result := client.Drip(context.Background(), "cred-1", testPayload)
	require.Equal(t, core.UpstreamSuccess, result.Kind)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "tx-1", result.TransactionID())
	assert.NoError(t, result.Err)
}

func TestDripClassifiesResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   core.UpstreamKind
	}{
		{name: "created", status: http.StatusCreated, body: `{"id":"x"}`, want: core.UpstreamSuccess},
		{name: "quota status", status: http.StatusTooManyRequests, body: `{"message":"slow down"}`, want: core.UpstreamQuotaExhausted},
		{name: "quota code", status: http.StatusForbidden, body: `{"code":"quota_exceeded"}`, want: core.UpstreamQuotaExhausted},
		{name: "rejected", status: http.StatusBadRequest, body: `{"code":2,"message":"bad address"}`, want: core.UpstreamRejected},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, want: core.UpstreamRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			result := client.Drip(context.Background(), "cred", testPayload)
			assert.Equal(t, tc.want, result.Kind)
			assert.Equal(t, tc.status, result.StatusCode)
		})
	}
}

func TestDripWrapsInvalidJSON(t *testing.T) {
	raw := strings.Repeat("x", 300)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(raw))
	})

	result := client.Drip(context.Background(), "cred", testPayload)
	require.Equal(t, core.UpstreamRejected, result.Kind)
	assert.Equal(t, "Invalid JSON response", result.Body["error"])
	assert.Equal(t, raw[:200], result.Body["raw"])
}

func TestDripExcerptKeepsWholeRunes(t *testing.T) {
	raw := "<" + strings.Repeat("é", 300)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(raw))
	})

	result := client.Drip(context.Background(), "cred", testPayload)
	excerpt, ok := result.Body["raw"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(excerpt))
	assert.Equal(t, 200, utf8.RuneCountInString(excerpt))
	assert.Equal(t, "<"+strings.Repeat("é", 199), excerpt)
}

func TestDripNestsNonObjectJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`["address is invalid"]`))
	})

	result := client.Drip(context.Background(), "cred", testPayload)
	require.Equal(t, core.UpstreamRejected, result.Kind)
	assert.NotContains(t, result.Body, "error")
	assert.Equal(t, []any{"address is invalid"}, result.Body["data"])
}

func TestDripTimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	client.Timeout = 50 * time.Millisecond

	result := client.Drip(context.Background(), "cred", testPayload)
	require.Equal(t, core.UpstreamTransport, result.Kind)
	require.Error(t, result.Err)
	assert.True(t, errors.Is(result.Err, core.ErrUpstreamTimeout))
}

func TestDripConnectionRefusedIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Options{BaseURL: url})
	result := client.Drip(context.Background(), "cred", testPayload)
	require.Equal(t, core.UpstreamTransport, result.Kind)
	assert.False(t, errors.Is(result.Err, core.ErrUpstreamTimeout))
}

func TestDripPacingHonoursDeadline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	client.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	first := client.Drip(context.Background(), "cred", testPayload)
	require.Equal(t, core.UpstreamSuccess, first.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := client.Drip(ctx, "cred", testPayload)
	require.Equal(t, core.UpstreamTransport, second.Kind)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Options{RequestsPerSecond: 5})
	assert.Equal(t, DefaultBaseURL, client.BaseURL)
	assert.Equal(t, DefaultTimeout, client.Timeout)
	assert.Equal(t, []int{http.StatusTooManyRequests}, client.QuotaStatuses)
	require.NotNil(t, client.Limiter)
	assert.Equal(t, 1, client.Limiter.Burst())
}
