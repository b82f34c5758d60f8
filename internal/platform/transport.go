package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/models"
)

const (
	// requestTimeout bounds each individual network round-trip,
	// independent of the retry budget.
	requestTimeout = 30 * time.Second

	// default429RetryAfter is used when an upstream 429 carries no
	// Retry-After header.
	default429RetryAfter = 60 * time.Second
)

// RetryConfig bounds the transport's retry behaviour for one platform.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// call fails with a 5xx or network error.
	MaxRetries int
	// Delay is the base backoff; attempt n sleeps Delay * 2^(n-1).
	Delay time.Duration
}

// Config is the immutable per-platform configuration an adapter is
// constructed with.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.twitter.com".
	BaseURL string
	// TokenURL overrides the host used for token refresh when the
	// platform serves tokens from a different origin (Reddit).
	TokenURL string
	// AuthScheme is the Authorization header scheme: "Bearer" (default),
	// "Bot" (Discord), or "none" for platforms that carry the token in
	// the URL (Telegram).
	AuthScheme string
	RateLimit  RateLimitConfig
	Retry      RetryConfig
}

func (c Config) withDefaults() Config {
	if c.AuthScheme == "" {
		c.AuthScheme = "Bearer"
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = time.Second
	}
	return c
}

// RefreshFunc refreshes the credentials it closes over, mutating them in
// place so the replayed call picks up the new access token.
type RefreshFunc func(ctx context.Context) error

// Request describes one outbound API call in transport-neutral terms.
type Request struct {
	Method string
	// Path is resolved against the transport's base URL; URL, when set,
	// is used verbatim instead (token-in-path platforms).
	Path   string
	URL    string
	Query  url.Values
	Header http.Header
	// JSON is marshaled into the request body; Form takes precedence
	// when both are set.
	JSON any
	Form url.Values
}

// CallOptions carry the per-call state the transport needs: the rate-limit
// key, the credentials for this specific user, and the refresh hook.
// Credentials are deliberately a call parameter rather than adapter state,
// so concurrent calls for different users never race on a shared token.
type CallOptions struct {
	// Operation partitions the platform's rate-limit budget and labels
	// logs and metrics ("profile", "content", "post", "search", "health").
	Operation string
	// Credentials may be nil for unauthenticated calls.
	Credentials *models.Credentials
	// Refresh, when non-nil, is invoked exactly once on the first 401
	// before the call is replayed.
	Refresh RefreshFunc
}

// Response is the decoded-enough result of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// RateLimit is populated when the upstream reported its limiter
	// state via response headers.
	RateLimit *models.RateLimitInfo
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Transport issues rate-limited, retried, token-bearing HTTP calls for one
// platform. All adapters of a platform share a single Transport.
type Transport struct {
	platform models.Platform
	cfg      Config
	client   *http.Client
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewTransport builds the transport for one platform.
func NewTransport(p models.Platform, cfg Config, logger *slog.Logger, collector *metrics.Collector) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		platform: p,
		cfg:      cfg,
		client:   &http.Client{Timeout: requestTimeout},
		limiter:  NewRateLimiter(cfg.RateLimit),
		logger:   logger.With("platform", p.String()),
		metrics:  collector,
	}
}

// Limiter exposes the transport's rate limiter (used by tests and by the
// hub when constructing local rate-limit failures).
func (t *Transport) Limiter() *RateLimiter {
	return t.limiter
}

// Do executes one call under the full outbound discipline:
// local rate limit, bearer injection, single 401 refresh-and-replay,
// 429 pass-through, and bounded exponential backoff on 5xx/network errors.
func (t *Transport) Do(ctx context.Context, req Request, opts CallOptions) (*Response, error) {
	if ok, wait := t.limiter.Allow(opts.Operation); !ok {
		info := t.limiter.Info(wait)
		t.metrics.IncThrottled(t.platform.String(), opts.Operation)
		t.metrics.ObserveCall(t.platform.String(), opts.Operation, "throttled", 0)
		t.logger.Warn("local rate limit exceeded",
			"operation", opts.Operation,
			"retry_after", wait)
		return nil, &Error{
			Kind:      KindRateLimited,
			Platform:  t.platform,
			Message:   fmt.Sprintf("local rate limit exceeded for %q", opts.Operation),
			RateLimit: info,
		}
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, WrapErr(KindValidation, t.platform, err, "encode request body")
	}

	start := time.Now()
	resp, err := t.attempt(ctx, req, opts, body, contentType)
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	t.metrics.ObserveCall(t.platform.String(), opts.Operation, outcome, time.Since(start))
	return resp, err
}

func (t *Transport) attempt(ctx context.Context, req Request, opts CallOptions, body []byte, contentType string) (*Response, error) {
	var (
		refreshed bool
		retries   int
		lastErr   error
	)

	for {
		resp, err := t.roundTrip(ctx, req, opts, body, contentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, WrapErr(KindUpstream, t.platform, ctx.Err(), "call cancelled")
			}
			lastErr = err
			if retries >= t.cfg.Retry.MaxRetries {
				return nil, WrapErr(KindUpstream, t.platform, lastErr,
					fmt.Sprintf("%s failed after %d retries", opts.Operation, retries))
			}
			retries++
			if err := t.backoff(ctx, opts.Operation, retries); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed || opts.Refresh == nil {
				return nil, Errorf(KindAuth, t.platform,
					"%s unauthorized and token refresh unavailable or already attempted", opts.Operation)
			}
			refreshed = true
			t.logger.Info("access token rejected, refreshing", "operation", opts.Operation)
			if err := opts.Refresh(ctx); err != nil {
				t.metrics.IncRefresh(t.platform.String(), "failure")
				return nil, WrapErr(KindAuth, t.platform, err, "token refresh failed")
			}
			t.metrics.IncRefresh(t.platform.String(), "success")
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			info := resp.RateLimit
			if info == nil {
				info = &models.RateLimitInfo{}
			}
			if info.RetryAfter <= 0 {
				info.RetryAfter = default429RetryAfter
			}
			if info.Reset.IsZero() {
				info.Reset = time.Now().Add(info.RetryAfter)
			}
			info.Remaining = 0
			t.logger.Warn("upstream rate limit exceeded",
				"operation", opts.Operation,
				"retry_after", info.RetryAfter)
			return nil, &Error{
				Kind:      KindRateLimited,
				Platform:  t.platform,
				Message:   fmt.Sprintf("upstream rate limit exceeded for %q", opts.Operation),
				RateLimit: info,
			}

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			if retries >= t.cfg.Retry.MaxRetries {
				return nil, WrapErr(KindUpstream, t.platform, lastErr,
					fmt.Sprintf("%s failed after %d retries", opts.Operation, retries))
			}
			retries++
			if err := t.backoff(ctx, opts.Operation, retries); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 400:
			return nil, Errorf(KindClient, t.platform, "%s returned status %d: %s",
				opts.Operation, resp.StatusCode, truncate(resp.Body, 200))

		default:
			t.logger.Debug("platform call succeeded",
				"operation", opts.Operation,
				"status", resp.StatusCode,
				"retries", retries)
			return resp, nil
		}
	}
}

// backoff sleeps Delay * 2^(attempt-1), aborting early when ctx is done.
func (t *Transport) backoff(ctx context.Context, operation string, attempt int) error {
	delay := t.cfg.Retry.Delay * time.Duration(1<<(attempt-1))
	t.metrics.IncRetry(t.platform.String())
	t.logger.Warn("retrying platform call",
		"operation", operation,
		"attempt", attempt,
		"backoff", delay)

	select {
	case <-ctx.Done():
		return WrapErr(KindUpstream, t.platform, ctx.Err(), "retry cancelled")
	case <-time.After(delay):
		return nil
	}
}

func (t *Transport) roundTrip(ctx context.Context, req Request, opts CallOptions, body []byte, contentType string) (*Response, error) {
	target := req.URL
	if target == "" {
		target = strings.TrimRight(t.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if opts.Credentials != nil && opts.Credentials.AccessToken != "" && !strings.EqualFold(t.cfg.AuthScheme, "none") {
		httpReq.Header.Set("Authorization", t.cfg.AuthScheme+" "+opts.Credentials.AccessToken)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		RateLimit:  parseRateLimitHeaders(httpResp.Header),
	}, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case len(req.Form) > 0:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	default:
		return nil, "", nil
	}
}

// Known header spellings across the seven platforms. http.Header lookups
// are already case-insensitive, so only dash/word variants are listed.
var (
	limitHeaders     = []string{"X-RateLimit-Limit", "X-Rate-Limit-Limit", "RateLimit-Limit"}
	remainingHeaders = []string{"X-RateLimit-Remaining", "X-Rate-Limit-Remaining", "RateLimit-Remaining"}
	resetHeaders     = []string{"X-RateLimit-Reset", "X-Rate-Limit-Reset", "RateLimit-Reset"}
)

// parseRateLimitHeaders extracts upstream limiter state when present.
// Returns nil when no known header is set.
func parseRateLimitHeaders(h http.Header) *models.RateLimitInfo {
	info := &models.RateLimitInfo{}
	found := false

	if v, ok := firstHeader(h, limitHeaders); ok {
		if n, err := strconv.Atoi(v); err == nil {
			info.Limit = n
			found = true
		}
	}
	if v, ok := firstHeader(h, remainingHeaders); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			info.Remaining = int(n)
			found = true
		}
	}
	if v, ok := firstHeader(h, resetHeaders); ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			info.Reset = parseReset(secs)
			found = true
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
			if info.Reset.IsZero() {
				info.Reset = time.Now().Add(info.RetryAfter)
			}
			found = true
		}
	}

	if !found {
		return nil
	}
	return info
}

func firstHeader(h http.Header, names []string) (string, bool) {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// parseReset interprets a reset value as a Unix timestamp when it is large
// enough to be one, otherwise as seconds from now (Reddit style).
func parseReset(secs float64) time.Time {
	if secs > 1e9 {
		return time.Unix(int64(secs), 0)
	}
	return time.Now().Add(time.Duration(secs * float64(time.Second)))
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
