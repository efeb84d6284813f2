// Package httpclient provides the rate-paced, retrying JSON request executor
// shared by all REST upstream clients. It bounds in-flight concurrency,
// retries transient failures with jittered exponential backoff, and
// self-paces after throttling instead of failing fast.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/polymercado/engine/internal/domain"
)

const (
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	throttleStep   = 2 * time.Second
	maxThrottleGap = 60 * time.Second
)

// Stats is a point-in-time view of the pool's counters for the metrics
// endpoint.
type Stats struct {
	Requests       int64            `json:"requests"`
	Errors         int64            `json:"errors"`
	ByStatusClass  map[string]int64 `json:"by_status_class"`
	Throttled      int64            `json:"throttled"`
	LastRequestAt  time.Time        `json:"last_request_at"`
	LastDurationMS float64          `json:"last_duration_ms"`
	CurrentGapMS   float64          `json:"current_gap_ms"`
}

// Client is the pooled request executor. One Client is shared by every
// upstream; it carries no upstream-specific logic.
type Client struct {
	http        *http.Client
	sem         *semaphore.Weighted
	maxAttempts int
	logger      *slog.Logger

	mu            sync.Mutex
	gap           time.Duration // extra delay before each request after 429s
	nextAllowed   time.Time
	requests      int64
	errors        int64
	throttled     int64
	byStatusClass map[string]int64
	lastRequestAt time.Time
	lastDuration  time.Duration
}

// New creates a Client with the given per-request timeout, concurrency bound,
// and retry attempt cap (minimum 3).
func New(timeout time.Duration, maxConcurrency, maxAttempts int, logger *slog.Logger) *Client {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxAttempts < 3 {
		maxAttempts = 3
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		sem:           semaphore.NewWeighted(int64(maxConcurrency)),
		maxAttempts:   maxAttempts,
		logger:        logger.With(slog.String("component", "http_pool")),
		byStatusClass: make(map[string]int64),
	}
}

// GetJSON issues a GET against base+path with the given query parameters and
// decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, base, path string, params url.Values, out any) error {
	full := base + path
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, full, nil, out)
}

// PostJSON issues a POST with a JSON-encoded body and decodes the response
// into out.
func (c *Client) PostJSON(ctx context.Context, base, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httpclient: marshal body: %w", err)
	}
	return c.do(ctx, http.MethodPost, base+path, payload, out)
}

// Stats returns a snapshot of the pool counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	byClass := make(map[string]int64, len(c.byStatusClass))
	for k, v := range c.byStatusClass {
		byClass[k] = v
	}
	return Stats{
		Requests:       c.requests,
		Errors:         c.errors,
		ByStatusClass:  byClass,
		Throttled:      c.throttled,
		LastRequestAt:  c.lastRequestAt,
		LastDurationMS: float64(c.lastDuration) / float64(time.Millisecond),
		CurrentGapMS:   float64(c.gap) / float64(time.Millisecond),
	}
}

func (c *Client) do(ctx context.Context, method, fullURL string, body []byte, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return err
		}

		status, err := c.once(ctx, method, fullURL, body, out)
		if err == nil {
			c.easeGap()
			return nil
		}
		lastErr = err

		switch {
		case status == http.StatusTooManyRequests:
			// Widen the inter-request gap; the retry itself waits for the
			// new pacing window rather than a dedicated backoff sleep.
			c.widenGap()
			c.logger.WarnContext(ctx, "upstream throttled",
				slog.String("url", fullURL),
				slog.Int("attempt", attempt),
			)
		case status >= 500 || status == 0:
			if attempt < c.maxAttempts {
				if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
					return err
				}
			}
		default:
			// 4xx other than 429 will not succeed on retry.
			return err
		}
	}
	return lastErr
}

// once executes a single request and records counters. A status of 0 means
// the request failed before a response was received.
func (c *Client) once(ctx context.Context, method, fullURL string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return 0, fmt.Errorf("httpclient: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	c.mu.Lock()
	c.requests++
	c.lastRequestAt = start
	c.lastDuration = elapsed
	if err != nil {
		c.errors++
		c.byStatusClass["network"]++
	} else {
		c.byStatusClass[statusClass(resp.StatusCode)]++
		if resp.StatusCode == http.StatusTooManyRequests {
			c.throttled++
		}
		if resp.StatusCode >= 400 {
			c.errors++
		}
	}
	c.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("httpclient: %s %s: %w", method, fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("httpclient: %s %s: %w", method, fullURL, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("httpclient: %s %s: status %d: %s", method, fullURL, resp.StatusCode, snippet)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("httpclient: decode %s: %w", fullURL, err)
	}
	return resp.StatusCode, nil
}

// pace blocks until the current pacing window allows another request.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	gap := c.gap
	wait := time.Until(c.nextAllowed)
	if gap > 0 {
		next := time.Now().Add(gap)
		if next.After(c.nextAllowed) {
			c.nextAllowed = next
		}
	}
	c.mu.Unlock()

	if wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

func (c *Client) widenGap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gap == 0 {
		c.gap = throttleStep
	} else {
		c.gap *= 2
	}
	if c.gap > maxThrottleGap {
		c.gap = maxThrottleGap
	}
	c.nextAllowed = time.Now().Add(c.gap)
}

// easeGap halves the pacing gap after a success so throughput recovers once
// the upstream stops throttling.
func (c *Client) easeGap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gap /= 2
	if c.gap < 100*time.Millisecond {
		c.gap = 0
	}
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	// Jitter: uniform in [d/2, 3d/2).
	return time.Duration(rand.Int63n(int64(d)) + int64(d)/2)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
