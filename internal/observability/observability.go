// internal/observability/observability.go
package observability

import (
	"net/http"
	"time"

	"authdispatch/internal/config"
	"authdispatch/internal/contextutil"
	"authdispatch/internal/httputils"
	"authdispatch/internal/observability/logging"
	"authdispatch/internal/observability/metrics"
)

// Provider provides observability capabilities
type Provider struct {
	Logger  *logging.Logger
	Metrics *metrics.Collector
}

// NewProvider creates a new observability provider
func NewProvider(cfg config.ObservabilityConfig) (*Provider, error) {
	logger, err := logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	if err != nil {
		return nil, err
	}

	return &Provider{
		Logger:  logger,
		Metrics: metrics.NewCollector(),
	}, nil
}

// Middleware creates an HTTP middleware for request observation
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ctx := contextutil.EnrichContext(r.Context(), p.Logger, r.Header.Get(contextutil.RequestIDHeader))
		requestID := contextutil.GetRequestID(ctx)
		logger := logging.FromContextOr(ctx, p.Logger)

		// Create a response wrapper to capture the status code
		wrapper := httputils.NewResponseWriter(w)
		wrapper.Header().Set(contextutil.RequestIDHeader, requestID)

		r.Header.Set(contextutil.RequestIDHeader, requestID)
		r = r.WithContext(ctx)

		logger.Debug("Request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		next.ServeHTTP(wrapper, r)

		duration := time.Since(startTime)
		route := contextutil.GetRoute(r.Context())
		if route == "" {
			route = "unmatched"
		}
		p.Metrics.RecordRequest(r.Method, route, wrapper.StatusCode, duration)

		logger.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", wrapper.StatusCode,
			"duration_ms", duration.Milliseconds(),
			"bytes_written", wrapper.BytesWritten,
		)
	})
}

// MetricsHandler returns an HTTP handler for exposing metrics
func (p *Provider) MetricsHandler() http.Handler {
	return metrics.Handler()
}
