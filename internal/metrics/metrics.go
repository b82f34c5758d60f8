package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for inbound HTTP traffic and for
// outbound platform calls.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	platformCalls     *prometheus.CounterVec
	platformDuration  *prometheus.HistogramVec
	platformRetries   *prometheus.CounterVec
	platformRefreshes *prometheus.CounterVec
	platformThrottled *prometheus.CounterVec
	platformHealthy   *prometheus.GaugeVec
	platformUsers     *prometheus.GaugeVec
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnisocial",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisocial",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		platformCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "calls_total",
			Help:      "Outbound platform API calls by operation and outcome.",
		}, []string{"platform", "operation", "outcome"}),
		platformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "call_duration_seconds",
			Help:      "Latency distribution for outbound platform API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform", "operation"}),
		platformRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "retries_total",
			Help:      "Retry attempts against upstream platform APIs.",
		}, []string{"platform"}),
		platformRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "token_refreshes_total",
			Help:      "Access-token refresh attempts by outcome.",
		}, []string{"platform", "outcome"}),
		platformThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "rate_limit_rejections_total",
			Help:      "Calls rejected by the local per-platform rate limiter.",
		}, []string{"platform", "key"}),
		platformHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "healthy",
			Help:      "Latest health-check outcome per platform (1 healthy, 0 unhealthy).",
		}, []string{"platform"}),
		platformUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "omnisocial",
			Subsystem: "platform",
			Name:      "connected_users",
			Help:      "Number of users with live connections per platform.",
		}, []string{"platform"}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.platformCalls, c.platformDuration, c.platformRetries,
		c.platformRefreshes, c.platformThrottled, c.platformHealthy,
		c.platformUsers,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveCall records one completed outbound platform call.
// The collector may be nil; every method tolerates that so callers do not
// need nil checks at each site.
func (c *Collector) ObserveCall(platform, operation, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.platformCalls.WithLabelValues(platform, operation, outcome).Inc()
	c.platformDuration.WithLabelValues(platform, operation).Observe(duration.Seconds())
}

// IncRetry records a retry attempt against an upstream API.
func (c *Collector) IncRetry(platform string) {
	if c == nil {
		return
	}
	c.platformRetries.WithLabelValues(platform).Inc()
}

// IncRefresh records a token refresh attempt.
func (c *Collector) IncRefresh(platform, outcome string) {
	if c == nil {
		return
	}
	c.platformRefreshes.WithLabelValues(platform, outcome).Inc()
}

// IncThrottled records a rejection from the local rate limiter.
func (c *Collector) IncThrottled(platform, key string) {
	if c == nil {
		return
	}
	c.platformThrottled.WithLabelValues(platform, key).Inc()
}

// SetHealthy records the latest health-check outcome for a platform.
func (c *Collector) SetHealthy(platform string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.platformHealthy.WithLabelValues(platform).Set(v)
}

// SetConnectedUsers records the live connection count for a platform.
func (c *Collector) SetConnectedUsers(platform string, count int) {
	if c == nil {
		return
	}
	c.platformUsers.WithLabelValues(platform).Set(float64(count))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
