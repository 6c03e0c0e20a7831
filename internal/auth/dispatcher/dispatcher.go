// internal/auth/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"authdispatch/internal/auth"
	"authdispatch/internal/auth/registry"
	"authdispatch/internal/observability/logging"
	"authdispatch/internal/observability/metrics"
)

// Outcome is the single final result of dispatching one request
type Outcome int

const (
	// Authenticated means an adapter produced a verified identity
	Authenticated Outcome = iota
	// Anonymous means no adapter applied and the route admits anonymous callers
	Anonymous
	// AnonymousNotPermitted means no adapter applied and the route requires an identity
	AnonymousNotPermitted
	// CredentialsInvalid means credentials were presented but none verified
	CredentialsInvalid
	// ServiceUnavailable means a backend fault prevented verification
	ServiceUnavailable
	// Timeout means the request was cancelled or timed out during validation
	Timeout
)

// String returns the snake_case outcome name
func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	case AnonymousNotPermitted:
		return "anonymous_not_permitted"
	case CredentialsInvalid:
		return "credentials_invalid"
	case ServiceUnavailable:
		return "service_unavailable"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sentinel errors for the failing outcomes
var (
	ErrAnonymousNotPermitted = errors.New("authentication required")
	ErrCredentialsInvalid    = errors.New("invalid credentials")
	ErrServiceUnavailable    = errors.New("authentication service unavailable")
	ErrTimeout               = errors.New("authentication timed out")
)

// Route is the authentication metadata a route declares
type Route struct {
	// Name identifies the route in logs and metrics
	Name string

	// Types lists the authentication type names eligible for the route.
	// Empty means every registered adapter is tried.
	Types []string

	// AllowAnonymous admits callers that present no applicable credentials
	AllowAnonymous bool
}

// Result is what Dispatch hands to the authorization layer
type Result struct {
	// Outcome is the final outcome
	Outcome Outcome

	// Identity is set for Authenticated and Anonymous outcomes
	Identity *auth.Identity

	// Adapter is the name of the adapter that authenticated the caller
	Adapter string

	// Failures holds every failure recorded while trying adapters
	Failures []auth.ValidationFailure
}

// Err returns the sentinel error of a failing outcome, or nil
func (r Result) Err() error {
	switch r.Outcome {
	case AnonymousNotPermitted:
		return ErrAnonymousNotPermitted
	case CredentialsInvalid:
		return ErrCredentialsInvalid
	case ServiceUnavailable:
		return ErrServiceUnavailable
	case Timeout:
		return ErrTimeout
	default:
		return nil
	}
}

// Options tunes a Dispatcher
type Options struct {
	// ValidationTimeout bounds each validator call; zero means only the request context applies
	ValidationTimeout time.Duration
}

// Dispatcher decides who the caller of each request is.
// The registry it reads is replaced atomically by Swap; requests never lock.
type Dispatcher struct {
	registry atomic.Pointer[registry.Registry]
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Collector
}

// New creates a dispatcher over reg
func New(reg *registry.Registry, opts Options, logger *logging.Logger, metricsCollector *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{
		opts:    opts,
		logger:  logger.WithModule("auth.dispatcher"),
		metrics: metricsCollector,
	}
	d.registry.Store(reg)
	return d
}

// Registry returns the registry used by new dispatches
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry.Load()
}

// Swap installs reg for all subsequent dispatches and returns the previous registry.
// Dispatches already running keep the registry they started with.
func (d *Dispatcher) Swap(reg *registry.Registry) *registry.Registry {
	if reg == nil {
		return d.registry.Load()
	}
	return d.registry.Swap(reg)
}

// Dispatch authenticates r under route.
// Adapters are tried one at a time in resolved order: the first success wins,
// malformed or invalid credentials fall through to the next adapter, and
// backend faults fall through but turn an otherwise failed dispatch into
// ServiceUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, r *http.Request, route Route) Result {
	result := d.dispatch(ctx, r, route)
	d.metrics.RecordDispatch(route.Name, result.Outcome.String())
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, r *http.Request, route Route) Result {
	logger := logging.FromContextOr(ctx, d.logger)
	reg := d.registry.Load()

	var adapters []auth.Adapter
	if reg != nil {
		adapters = reg.Resolve(route.Types)
	}

	if len(route.Types) > 0 && len(adapters) == 0 {
		logger.Warn("Route authentication types resolve to no adapter, treating route as unauthenticated",
			"route", route.Name,
			"types", route.Types,
		)
		return Result{Outcome: Anonymous, Identity: auth.Anonymous()}
	}

	var failures []auth.ValidationFailure
	for _, adapter := range adapters {
		if err := ctx.Err(); err != nil {
			logger.Info("Request ended before authentication completed", "route", route.Name, logging.Err(err))
			return Result{Outcome: Timeout, Failures: failures}
		}

		creds, ok := adapter.Extract(r)
		if !ok {
			d.metrics.RecordAdapterAttempt(adapter.Name(), auth.MissingCredentials.String(), 0)
			continue
		}

		identity, duration, err := d.validate(ctx, adapter, creds)
		if err == nil && identity != nil && !identity.IsAnonymous() {
			d.metrics.RecordAdapterAttempt(adapter.Name(), "success", duration)
			logger.Debug("Authentication successful",
				"route", route.Name,
				"adapter", adapter.Name(),
				"subject", identity.Subject,
			)
			return Result{
				Outcome:  Authenticated,
				Identity: identity,
				Adapter:  adapter.Name(),
				Failures: failures,
			}
		}
		if err == nil {
			err = fmt.Errorf("validator returned no identity")
		}

		if ctx.Err() != nil {
			d.metrics.RecordAdapterAttempt(adapter.Name(), "timeout", duration)
			logger.Info("Authentication cancelled during validation",
				"route", route.Name,
				"adapter", adapter.Name(),
				logging.Err(err),
			)
			return Result{Outcome: Timeout, Failures: failures}
		}

		failure := auth.AsFailure(adapter.Name(), err)
		if failure.Reason == auth.MissingCredentials {
			d.metrics.RecordAdapterAttempt(adapter.Name(), failure.Reason.String(), duration)
			continue
		}
		failures = append(failures, failure)
		d.metrics.RecordAdapterAttempt(adapter.Name(), failure.Reason.String(), duration)

		if failure.Reason == auth.BackendUnavailable {
			logger.Error("Authentication backend unavailable",
				"route", route.Name,
				"adapter", adapter.Name(),
				logging.Err(failure.Err),
			)
		} else {
			logger.Debug("Authentication attempt failed",
				"route", route.Name,
				"adapter", adapter.Name(),
				"reason", failure.Reason.String(),
			)
		}
	}

	return conclude(route, failures)
}

// validate runs one validator under the optional per-validation deadline
func (d *Dispatcher) validate(ctx context.Context, adapter auth.Adapter, creds auth.Credentials) (*auth.Identity, time.Duration, error) {
	if d.opts.ValidationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.ValidationTimeout)
		defer cancel()
	}
	start := time.Now()
	identity, err := adapter.Validate(ctx, creds)
	return identity, time.Since(start), err
}

// conclude folds recorded failures into the outcome of an exhausted adapter list
func conclude(route Route, failures []auth.ValidationFailure) Result {
	if len(failures) == 0 {
		if route.AllowAnonymous {
			return Result{Outcome: Anonymous, Identity: auth.Anonymous()}
		}
		return Result{Outcome: AnonymousNotPermitted}
	}
	for _, f := range failures {
		if f.Reason == auth.BackendUnavailable {
			return Result{Outcome: ServiceUnavailable, Failures: failures}
		}
	}
	return Result{Outcome: CredentialsInvalid, Failures: failures}
}
