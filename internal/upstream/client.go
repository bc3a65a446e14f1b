// Package upstream talks to the faucet provider's drip endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.circle.com"
	DefaultTimeout = 10 * time.Second

	dripPath   = "/v1/faucet/drips"
	rawExcerpt = 200
	maxBody    = 1 << 20
)

// Client performs drip requests. It is safe for concurrent use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	// QuotaStatuses and QuotaCodes mark responses that mean "this credential
	// is spent" rather than "this request is wrong".
	QuotaStatuses []int
	QuotaCodes    []string

	// Limiter paces outbound calls across every credential. Nil disables pacing.
	Limiter *rate.Limiter
}

// Options configures NewClient.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	QuotaStatuses     []int
	QuotaCodes        []string
	RequestsPerSecond float64
	Burst             int
}

// NewClient returns a client with defaults applied.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	statuses := opts.QuotaStatuses
	if len(statuses) == 0 {
		statuses = []int{http.StatusTooManyRequests}
	}

	c := &Client{
		BaseURL:       baseURL,
		Timeout:       timeout,
		QuotaStatuses: statuses,
		QuotaCodes:    opts.QuotaCodes,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Drip posts one claim with the given credential and classifies the result.
func (c *Client) Drip(ctx context.Context, credential string, payload core.DripPayload) core.UpstreamResult {
	start := time.Now()
	result := c.drip(ctx, credential, payload)
	result.Duration = time.Since(start)
	metrics.RecordUpstream(string(result.Kind), result.Duration)
	return result
}

func (c *Client) drip(ctx context.Context, credential string, payload core.DripPayload) core.UpstreamResult {
	if c == nil {
		return transport(fmt.Errorf("upstream client not configured"))
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return transport(classifyTransport(ctx, fmt.Errorf("outbound pacing: %w", err)))
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return transport(fmt.Errorf("encode request: %w", err))
	}

	url := strings.TrimRight(c.BaseURL, "/") + dripPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return transport(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return transport(classifyTransport(ctx, fmt.Errorf("request failed: %w", err)))
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return transport(classifyTransport(ctx, fmt.Errorf("read response: %w", err)))
	}

	result := core.UpstreamResult{StatusCode: resp.StatusCode, Body: decodeBody(raw)}
	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		result.Kind = core.UpstreamSuccess
	case c.isQuota(result):
		result.Kind = core.UpstreamQuotaExhausted
	default:
		result.Kind = core.UpstreamRejected
	}
	return result
}

func (c *Client) isQuota(result core.UpstreamResult) bool {
	for _, status := range c.QuotaStatuses {
		if result.StatusCode == status {
			return true
		}
	}
	code := result.Code()
	if code == "" {
		return false
	}
	for _, quota := range c.QuotaCodes {
		if strings.EqualFold(code, quota) {
			return true
		}
	}
	return false
}

// decodeBody keeps non-JSON replies inspectable without trusting them.
// decodeBody keeps JSON objects as they are and nests any other JSON value
// under "data". Bodies that are not JSON keep a short raw excerpt.
func decodeBody(raw []byte) map[string]any {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if object, ok := parsed.(map[string]any); ok {
			return object
		}
		return map[string]any{"data": parsed}
	}
	return map[string]any{
		"error": "Invalid JSON response",
		"raw":   excerpt(string(raw), rawExcerpt),
	}
}

// excerpt cuts text to at most limit runes.
func excerpt(text string, limit int) string {
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

func classifyTransport(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", core.ErrUpstreamTimeout, err)
	}
	return err
}

func transport(err error) core.UpstreamResult {
	return core.UpstreamResult{Kind: core.UpstreamTransport, Err: err}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
