package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common label names for consistent metrics
const (
	LabelRoute   = "route"
	LabelStatus  = "status"
	LabelMethod  = "method"
	LabelPath    = "path"
	LabelAdapter = "adapter"
	LabelResult  = "result"
	LabelOutcome = "outcome"
)

var (
	// RequestsTotal counts all HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authdispatch_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	// RequestDuration tracks the duration of HTTP requests
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authdispatch_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	// DispatchTotal counts final dispatch outcomes per route
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authdispatch_dispatch_total",
			Help: "Total number of authentication dispatches by final outcome",
		},
		[]string{LabelRoute, LabelOutcome},
	)

	// AdapterAttemptsTotal counts adapter invocations by result
	AdapterAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authdispatch_adapter_attempts_total",
			Help: "Total number of adapter attempts by result",
		},
		[]string{LabelAdapter, LabelResult},
	)

	// ValidationDuration tracks how long validators take, including backend lookups
	ValidationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authdispatch_validation_duration_seconds",
			Help:    "Duration of credential validation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{LabelAdapter},
	)

	// RegistryReloadsTotal counts registry rebuilds after configuration changes
	RegistryReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authdispatch_registry_reloads_total",
			Help: "Total number of adapter registry reloads",
		},
		[]string{LabelResult},
	)

	// TokenCacheTotal counts token cache lookups by result (hit, miss)
	TokenCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authdispatch_token_cache_total",
			Help: "Total number of OAuth2 token cache lookups",
		},
		[]string{LabelResult},
	)

	// UpstreamRequestTotal counts requests to upstream services
	UpstreamRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authdispatch_upstream_requests_total",
			Help: "Total number of requests to upstream services",
		},
		[]string{LabelMethod, "upstream", LabelStatus},
	)

	// UpstreamRequestDuration tracks the duration of upstream requests
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authdispatch_upstream_request_duration_seconds",
			Help:    "Duration of requests to upstream services in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{LabelMethod, "upstream"},
	)
)

// Collector provides methods for recording metrics.
// A nil *Collector is valid and records nothing.
type Collector struct{}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// RecordRequest records metrics for an HTTP request
func (c *Collector) RecordRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	RequestsTotal.WithLabelValues(method, path, http.StatusText(status)).Inc()
	RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records the final outcome of one dispatch
func (c *Collector) RecordDispatch(route, outcome string) {
	if c == nil {
		return
	}
	DispatchTotal.WithLabelValues(route, outcome).Inc()
}

// RecordAdapterAttempt records one adapter invocation and its validation time
func (c *Collector) RecordAdapterAttempt(adapter, result string, duration time.Duration) {
	if c == nil {
		return
	}
	AdapterAttemptsTotal.WithLabelValues(adapter, result).Inc()
	if duration > 0 {
		ValidationDuration.WithLabelValues(adapter).Observe(duration.Seconds())
	}
}

// RecordRegistryReload records a registry rebuild
func (c *Collector) RecordRegistryReload(success bool) {
	if c == nil {
		return
	}
	RegistryReloadsTotal.WithLabelValues(boolToString(success)).Inc()
}

// RecordTokenCache records a token cache hit or miss
func (c *Collector) RecordTokenCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		TokenCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	TokenCacheTotal.WithLabelValues("miss").Inc()
}

// RecordUpstreamRequest records a request to an upstream service
func (c *Collector) RecordUpstreamRequest(method, upstream string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	UpstreamRequestTotal.WithLabelValues(method, upstream, http.StatusText(status)).Inc()
	UpstreamRequestDuration.WithLabelValues(method, upstream).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for exposing metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// boolToString converts a boolean to a string representation
func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
