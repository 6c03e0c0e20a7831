// internal/contextutil/context.go
package contextutil

import (
	"context"

	"authdispatch/internal/observability/logging"

	"github.com/google/uuid"
)

// Key is a type-safe key for context values
type Key string

const (
	// SpanIDKey is the key for the span ID
	SpanIDKey Key = "context:span_id"

	// RequestIDKey is the key for the request ID
	RequestIDKey Key = "context:request_id"

	// RouteKey is the key for the name of the matched route
	RouteKey Key = "context:route"
)

// RequestIDHeader carries the request ID to and from clients and upstreams
const RequestIDHeader = "X-Request-ID"

// WithSpanID adds a span ID to a context
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

// GetSpanID retrieves a span ID from a context
func GetSpanID(ctx context.Context) string {
	if spanID, ok := ctx.Value(SpanIDKey).(string); ok {
		return spanID
	}
	return ""
}

// WithRequestID adds a request ID to a context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves a request ID from a context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// routeSlot is filled in by the router so that outer middleware can read the matched route
type routeSlot struct {
	name string
}

// SetRoute records the matched route name. When ctx came from EnrichContext
// the name becomes visible to every holder of that context.
func SetRoute(ctx context.Context, route string) context.Context {
	if slot, ok := ctx.Value(RouteKey).(*routeSlot); ok {
		slot.name = route
		return ctx
	}
	return context.WithValue(ctx, RouteKey, &routeSlot{name: route})
}

// GetRoute retrieves the matched route name from a context
func GetRoute(ctx context.Context) string {
	if slot, ok := ctx.Value(RouteKey).(*routeSlot); ok {
		return slot.name
	}
	return ""
}

// EnrichContext adds trace, span and request IDs to a context and attaches a
// logger carrying them. An existing request ID is kept; invalid ones are replaced.
func EnrichContext(ctx context.Context, logger *logging.Logger, requestID string) context.Context {
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	ctx = WithRequestID(ctx, requestID)
	ctx = context.WithValue(ctx, RouteKey, &routeSlot{})

	traceID := logging.GetTraceIDFromContext(ctx)
	if traceID == "" {
		traceID = requestID
		ctx = logging.ContextWithTraceID(ctx, traceID)
	}

	spanID := logging.NewSpanID()
	ctx = WithSpanID(ctx, spanID)

	if logger != nil {
		logger = logger.WithTracing(traceID, spanID).With("request_id", requestID)
		ctx = logging.ContextWithLogger(ctx, logger)
	}

	return ctx
}
