package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetJSONRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok": true}`)
	}))
	defer srv.Close()

	c := New(5*time.Second, 2, 3, testLogger())

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), srv.URL, "/thing", nil, &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3 (two retries)", got)
	}

	stats := c.Stats()
	if stats.Requests != 3 || stats.Errors != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByStatusClass["5xx"] != 2 || stats.ByStatusClass["2xx"] != 1 {
		t.Errorf("status classes = %v", stats.ByStatusClass)
	}
}

func TestGetJSONDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(5*time.Second, 2, 3, testLogger())
	if err := c.GetJSON(context.Background(), srv.URL, "/missing", nil, nil); err == nil {
		t.Fatal("expected an error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 404)", got)
	}
}

func TestThrottleWidensGapAndRecovers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := New(5*time.Second, 2, 3, testLogger())

	var out []any
	if err := c.GetJSON(context.Background(), srv.URL, "/paced", nil, &out); err != nil {
		t.Fatal(err)
	}

	stats := c.Stats()
	if stats.Throttled != 1 {
		t.Errorf("throttled = %d, want 1", stats.Throttled)
	}
	// The gap widened on the 429 and then eased after the success.
	if stats.CurrentGapMS >= 2000 {
		t.Errorf("gap did not ease after success: %v ms", stats.CurrentGapMS)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestConcurrencyBound(t *testing.T) {
	var inflight, maxInflight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			prev := atomic.LoadInt32(&maxInflight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInflight, prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := New(5*time.Second, 2, 3, testLogger())

	done := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			var out map[string]any
			done <- c.GetJSON(context.Background(), srv.URL, "/slow", nil, &out)
		}()
	}
	for i := 0; i < 6; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	if got := atomic.LoadInt32(&maxInflight); got > 2 {
		t.Errorf("max in-flight = %d, want <= 2", got)
	}
}

func TestCancellationDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(5*time.Second, 2, 3, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.GetJSON(ctx, srv.URL, "/always-fails", nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation not honored during backoff, took %v", elapsed)
	}
}
