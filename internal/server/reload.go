// internal/server/reload.go
package server

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"authdispatch/internal/auth/composer"
	"authdispatch/internal/auth/dispatcher"
	"authdispatch/internal/config"
	"authdispatch/internal/observability/logging"
	"authdispatch/internal/observability/metrics"
)

// Reloader rebuilds the adapter registry from new configuration and swaps it
// into the dispatcher. Requests in flight finish on the registry they started with.
type Reloader struct {
	mu          sync.Mutex
	dispatcher  *dispatcher.Dispatcher
	current     *composer.Composition
	applied     *config.Config
	options     composer.Options
	drainPeriod time.Duration
	logger      *logging.Logger
	metrics     *metrics.Collector
}

// NewReloader creates a reloader owning the composition currently installed in d
func NewReloader(d *dispatcher.Dispatcher, current *composer.Composition, applied *config.Config, opts composer.Options, drainPeriod time.Duration, logger *logging.Logger, metricsCollector *metrics.Collector) *Reloader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reloader{
		dispatcher:  d,
		current:     current,
		applied:     applied,
		options:     opts,
		drainPeriod: drainPeriod,
		logger:      logger.WithModule("server.reload"),
		metrics:     metricsCollector,
	}
}

// Reload builds a registry from cfg and installs it. On failure the previous
// registry stays in effect. Listener, upstream and rule changes are reported
// but need a restart.
func (r *Reloader) Reload(ctx context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	composition, err := composer.Build(ctx, cfg.Auth, r.options, r.logger, r.metrics)
	if err != nil {
		r.metrics.RecordRegistryReload(false)
		return fmt.Errorf("failed to rebuild authentication registry: %w", err)
	}

	r.dispatcher.Swap(composition.Registry)
	r.metrics.RecordRegistryReload(true)
	r.logger.Info("Authentication registry swapped", "adapters", composition.Registry.Len())

	if r.applied != nil {
		r.reportRestartOnlyChanges(cfg)
	}

	previous := r.current
	r.current = composition
	r.applied = cfg
	if previous != nil {
		// Give dispatches that loaded the old registry time to finish before closing its storages.
		time.AfterFunc(r.drainPeriod, previous.Close)
	}
	return nil
}

// Apply reloads cfg in the background of a configuration watch, logging a failed rebuild
func (r *Reloader) Apply(cfg *config.Config) {
	if err := r.Reload(context.Background(), cfg); err != nil {
		r.logger.Error("Configuration change not applied, keeping previous authentication registry", logging.Err(err))
	}
}

// Close releases the installed composition
func (r *Reloader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
}

func (r *Reloader) reportRestartOnlyChanges(cfg *config.Config) {
	changed := map[string]bool{
		"server":                  r.applied.Server != cfg.Server,
		"metrics":                 r.applied.Metrics != cfg.Metrics,
		"tls":                     r.applied.TLS != cfg.TLS,
		"upstream":                r.applied.Upstream.RawURL != cfg.Upstream.RawURL || r.applied.Upstream.Timeout != cfg.Upstream.Timeout,
		"rules":                   !reflect.DeepEqual(r.applied.Rules, cfg.Rules),
		"auth.validation_timeout": r.applied.Auth.ValidationTimeout != cfg.Auth.ValidationTimeout,
	}
	for section, differs := range changed {
		if differs {
			r.logger.Warn("Configuration section changed but only takes effect after a restart", "section", section)
		}
	}
}
