package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL, nil, fastRetry())
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL, nil, fastRetry())
	if err != nil {
		t.Fatalf("non-retryable status should return the response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := Get(context.Background(), server.Client(), server.URL, nil, fastRetry())
	var statusErr *RetryableStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected RetryableStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
}

func TestDoSendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "appupdate-test" {
			t.Errorf("unexpected user agent %q", got)
		}
	}))
	defer server.Close()

	headers := http.Header{}
	headers.Set("User-Agent", "appupdate-test")
	resp, err := Get(context.Background(), server.Client(), server.URL, headers, fastRetry())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastRetry()
	cfg.InitialDelay = time.Second
	if _, err := Get(ctx, server.Client(), server.URL, nil, cfg); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

func TestBackOffFollowsConfig(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	b := cfg.backOff()
	b.Reset()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("delay %d = %v, want %v", i, got, w)
		}
	}
}

func TestBackOffJitterBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2, JitterFrac: 0.3}
	for i := 0; i < 100; i++ {
		b := cfg.backOff()
		b.Reset()
		got := b.NextBackOff()
		if got < 70*time.Millisecond || got > 130*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", got)
		}
	}
}

func TestBackOffDefaultsMultiplier(t *testing.T) {
	if got := (RetryConfig{}).backOff().Multiplier; got != 1.5 {
		t.Fatalf("Multiplier = %v, want the backoff default", got)
	}
}
