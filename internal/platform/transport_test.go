package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omnisocial/omnisocial/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTransport(t *testing.T, baseURL string, retry RetryConfig) *Transport {
	t.Helper()
	return NewTransport(models.PlatformTwitter, Config{
		BaseURL:   baseURL,
		RateLimit: RateLimitConfig{Requests: 1000, Window: time.Minute},
		Retry:     retry,
	}, testLogger(), nil)
}

func TestTransport_BearerInjection(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 1, Delay: time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{
		Operation:   KeyProfile,
		Credentials: &models.Credentials{AccessToken: "tok-123"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
}

func TestTransport_RefreshAndReplayOn401(t *testing.T) {
	var calls, refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			t.Errorf("replay used stale token: %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	creds := &models.Credentials{AccessToken: "stale", RefreshToken: "r1"}
	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 3, Delay: time.Millisecond})

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{
		Operation:   KeyProfile,
		Credentials: creds,
		Refresh: func(ctx context.Context) error {
			atomic.AddInt32(&refreshes, 1)
			creds.AccessToken = "fresh"
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshes != 1 {
		t.Errorf("expected exactly one refresh, got %d", refreshes)
	}
	if calls != 2 {
		t.Errorf("expected exactly one replay (2 calls), got %d", calls)
	}
}

func TestTransport_SecondConsecutive401IsTerminal(t *testing.T) {
	var refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 3, Delay: time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{
		Operation:   KeyProfile,
		Credentials: &models.Credentials{AccessToken: "stale"},
		Refresh: func(ctx context.Context) error {
			atomic.AddInt32(&refreshes, 1)
			return nil
		},
	})
	if KindOf(err) != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if refreshes != 1 {
		t.Errorf("expected exactly one refresh attempt, got %d", refreshes)
	}
}

func TestTransport_RetriesWithinBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 3, Delay: time.Millisecond})
	resp, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyContent})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts, got %d", calls)
	}
}

func TestTransport_RetryBudgetExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 2, Delay: time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyContent})
	if KindOf(err) != KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", calls)
	}
}

func TestTransport_429PassThrough(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 3, Delay: time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyContent})

	pe, ok := AsError(err)
	if !ok || pe.Kind != KindRateLimited {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
	if pe.RetryAfter() != 120*time.Second {
		t.Errorf("expected retryAfter 120s, got %v", pe.RetryAfter())
	}
	if calls != 1 {
		t.Errorf("expected no retry on 429, got %d calls", calls)
	}
}

func TestTransport_429DefaultRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 1, Delay: time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyContent})

	pe, _ := AsError(err)
	if pe == nil || pe.RetryAfter() != 60*time.Second {
		t.Fatalf("expected default 60s retryAfter, got %v", err)
	}
}

func TestTransport_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 3, Delay: time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyContent})
	if KindOf(err) != KindClient {
		t.Fatalf("expected client error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected single attempt on 4xx, got %d", calls)
	}
}

func TestTransport_LocalLimiterBlocksNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := NewTransport(models.PlatformReddit, Config{
		BaseURL:   srv.URL,
		RateLimit: RateLimitConfig{Requests: 1, Window: time.Hour},
		Retry:     RetryConfig{MaxRetries: 1, Delay: time.Millisecond},
	}, testLogger(), nil)

	if _, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyProfile}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyProfile})
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindRateLimited {
		t.Fatalf("expected local rate-limit rejection, got %v", err)
	}
	if pe.RateLimit == nil || pe.RateLimit.Remaining != 0 {
		t.Error("expected RateLimitInfo with remaining=0")
	}
	if calls != 1 {
		t.Errorf("expected rejection before the network, got %d calls", calls)
	}
}

func TestTransport_RateLimitHeaderVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reddit-style spelling with seconds-until-reset.
		w.Header().Set("x-ratelimit-limit", "600")
		w.Header().Set("x-ratelimit-remaining", "599.0")
		w.Header().Set("x-ratelimit-reset", "240")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 1, Delay: time.Millisecond})
	resp, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyProfile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RateLimit == nil {
		t.Fatal("expected rate limit info from headers")
	}
	if resp.RateLimit.Limit != 600 || resp.RateLimit.Remaining != 599 {
		t.Errorf("unexpected limits: %+v", resp.RateLimit)
	}
	if resp.RateLimit.Reset.Before(time.Now()) {
		t.Error("expected reset in the future")
	}
}

func TestTransport_ContextCancelAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := testTransport(t, srv.URL, RetryConfig{MaxRetries: 5, Delay: 10 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := tr.Do(ctx, Request{Method: http.MethodGet, Path: "/me"}, CallOptions{Operation: KeyContent})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not abort the pending backoff")
	}
}
