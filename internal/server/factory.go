// internal/server/factory.go
package server

import (
	"context"
	"crypto/tls"
	"fmt"

	"authdispatch/internal/auth/composer"
	"authdispatch/internal/auth/dispatcher"
	"authdispatch/internal/config"
	"authdispatch/internal/observability"
	"authdispatch/internal/proxy/router"
	tlsconfig "authdispatch/internal/tls"
)

// NewFromConfig creates a new server from configuration.
// When configPath is set, changes to that file rebuild the authentication registry.
func NewFromConfig(ctx context.Context, cfg *config.Config, configPath string) (*Server, error) {
	// Initialize observability
	obs, err := observability.NewProvider(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	logger := obs.Logger

	// Initialize TLS configuration
	var listenerTLS *tls.Config
	var composerOpts composer.Options
	if cfg.TLS.Enabled {
		tlsCfg := &tlsconfig.Config{
			Logger:   logger.WithModule("tls"),
			CertPath: cfg.TLS.CertPath,
			KeyPath:  cfg.TLS.KeyPath,
		}
		if cfg.Auth.MTLS.Enabled {
			tlsCfg.ClientCAFiles = cfg.Auth.MTLS.CAPaths
		}
		setup, err := tlsCfg.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS configuration: %w", err)
		}
		listenerTLS = setup.Server
		composerOpts.ClientCAs = setup.ClientCAs
	} else if cfg.Auth.MTLS.Enabled {
		logger.Warn("Client certificate authentication is enabled but TLS is not, the x509 adapter will never apply")
	}

	// Build adapters and the type registry
	composition, err := composer.Build(ctx, cfg.Auth, composerOpts, logger, obs.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authentication: %w", err)
	}

	authDispatcher := dispatcher.New(composition.Registry, dispatcher.Options{
		ValidationTimeout: cfg.Auth.ValidationTimeout,
	}, logger, obs.Metrics)

	proxyRouter := router.New(router.Config{
		UpstreamURL:     cfg.Upstream.URL,
		UpstreamTimeout: cfg.Upstream.Timeout,
		Rules:           convertRules(cfg.Rules),
	}, authDispatcher, logger, obs.Metrics)

	// Middleware chain: observability -> router -> per-route dispatch -> upstream
	srv := New(Config{
		Address:         cfg.Server.Address,
		MetricsAddress:  cfg.Metrics.Address,
		TLS:             listenerTLS,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, obs.Middleware(proxyRouter), obs.MetricsHandler(), logger)

	srv.reloader = NewReloader(authDispatcher, composition, cfg, composerOpts, cfg.Server.ShutdownTimeout, logger, obs.Metrics)

	if configPath != "" {
		err := config.Watch(configPath, logger, srv.reloader.Apply)
		if err != nil {
			srv.reloader.Close()
			return nil, fmt.Errorf("failed to watch configuration: %w", err)
		}
	}

	return srv, nil
}

// convertRules converts config.Rule to router.Rule
func convertRules(configRules []config.Rule) []router.Rule {
	routerRules := make([]router.Rule, len(configRules))
	for i, rule := range configRules {
		routerRules[i] = router.Rule{
			Name:           rule.Name,
			Action:         rule.Action,
			Paths:          rule.Paths,
			MatchPrefix:    rule.MatchPrefix,
			Methods:        rule.Methods,
			AuthTypes:      rule.AuthTypes,
			AllowAnonymous: rule.AllowAnonymous,
		}
	}
	return routerRules
}
