// internal/auth/composer/composer.go
package composer

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"authdispatch/internal/auth"
	"authdispatch/internal/auth/httpauth"
	"authdispatch/internal/auth/mtls"
	"authdispatch/internal/auth/oauth2"
	"authdispatch/internal/auth/registry"
	"authdispatch/internal/config"
	"authdispatch/internal/observability/logging"
	"authdispatch/internal/observability/metrics"
)

// Options carries collaborators that do not come from the auth configuration
type Options struct {
	// ClientCAs is the pool loaded for the TLS listener; the x509 adapter reuses it
	ClientCAs *x509.CertPool

	// Clock overrides time.Now in every adapter
	Clock func() time.Time
}

// Composition is a built registry together with the resources its adapters hold
type Composition struct {
	// Registry is ready to be handed to a dispatcher
	Registry *registry.Registry

	closers []func() error
	logger  *logging.Logger
}

// Close releases storage connections held by the composition's adapters.
// Call it only once no dispatch can still be using the registry.
func (c *Composition) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.logger.Warn("Failed to release adapter resources", logging.Err(err))
		}
	}
	c.closers = nil
}

// Build constructs the adapters described by cfg and the registry over them.
// Adapters are attached in the order HTTP, OAuth2, x509; that order is the
// fallback order for routes without authentication types.
func Build(ctx context.Context, cfg config.AuthConfig, opts Options, logger *logging.Logger, metricsCollector *metrics.Collector) (*Composition, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &Composition{logger: logger.WithModule("auth.composer")}

	adapters, err := c.buildAdapters(ctx, cfg, opts, logger, metricsCollector)
	if err != nil {
		c.Close()
		return nil, err
	}

	reg, err := registry.New(adapters, cfg.Types, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build type registry: %w", err)
	}
	c.Registry = reg

	if reg.Len() == 0 {
		c.logger.Warn("No authentication adapters configured, every request is anonymous")
	}
	c.logger.Info("Authentication registry built",
		"adapters", reg.Len(),
		"types", reg.Types(),
	)
	return c, nil
}

func (c *Composition) buildAdapters(ctx context.Context, cfg config.AuthConfig, opts Options, logger *logging.Logger, metricsCollector *metrics.Collector) ([]auth.Adapter, error) {
	var adapters []auth.Adapter

	httpAdapter, err := buildHTTP(cfg.HTTP, opts, logger)
	switch {
	case errors.Is(err, httpauth.ErrNoResolver):
		c.logger.Info("HTTP adapter has no Basic or Digest resolver, not registering it")
	case err != nil:
		return nil, fmt.Errorf("failed to initialize HTTP adapter: %w", err)
	default:
		adapters = append(adapters, httpAdapter)
		c.logger.Info("HTTP authentication enabled", "adapter", httpAdapter.Name(), "types", httpAdapter.Provides())
	}

	oauthAdapter, err := c.buildOAuth2(ctx, cfg.OAuth2, opts, logger, metricsCollector)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OAuth2 adapter: %w", err)
	}
	if oauthAdapter != nil {
		adapters = append(adapters, oauthAdapter)
		c.logger.Info("OAuth2 authentication enabled",
			"adapter", oauthAdapter.Name(),
			"storage", cfg.OAuth2.Storage,
			"grant_types", oauthAdapter.Server().GrantTypes(),
		)
	}

	if cfg.MTLS.Enabled {
		mtlsAdapter, err := mtls.New(mtls.Config{
			Name:            cfg.MTLS.Name,
			ClientCAs:       opts.ClientCAs,
			CAPaths:         cfg.MTLS.CAPaths,
			AllowDNSSubject: cfg.MTLS.AllowDNSSubject,
			Clock:           opts.Clock,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize x509 adapter: %w", err)
		}
		adapters = append(adapters, mtlsAdapter)
		c.logger.Info("Client certificate authentication enabled", "adapter", mtlsAdapter.Name())
	}

	return adapters, nil
}

// buildHTTP returns httpauth.ErrNoResolver when no credential source is configured
func buildHTTP(cfg config.HTTPAuthConfig, opts Options, logger *logging.Logger) (*httpauth.Adapter, error) {
	var basic httpauth.BasicChain
	var digest httpauth.DigestChain

	if cfg.Htpasswd != "" {
		htpasswd, err := httpauth.LoadHtpasswd(cfg.Htpasswd)
		if err != nil {
			return nil, err
		}
		basic = append(basic, htpasswd)
	}
	if cfg.Htdigest != "" {
		htdigest, err := httpauth.LoadHtdigest(cfg.Htdigest)
		if err != nil {
			return nil, err
		}
		digest = append(digest, htdigest)
	}
	if len(cfg.Users) > 0 {
		users := make(map[string]string, len(cfg.Users))
		for _, u := range cfg.Users {
			users[u.Username] = u.Password
		}
		static := httpauth.NewStaticResolver(users)
		basic = append(basic, static)
		digest = append(digest, static)
	}

	algorithm := cfg.DigestAlgorithm
	if cfg.Htdigest != "" && len(cfg.Users) == 0 && algorithm != httpauth.AlgorithmMD5 {
		// htdigest files only hold MD5 HA1 values.
		logger.WithModule("auth.composer").Info("Digest credentials come only from an htdigest file, challenging with MD5",
			"configured_algorithm", algorithm,
		)
		algorithm = httpauth.AlgorithmMD5
	}

	httpCfg := httpauth.Config{
		Name:            cfg.Name,
		Realm:           cfg.Realm,
		DigestAlgorithm: algorithm,
		NonceSecret:     []byte(cfg.NonceSecret),
		NonceTTL:        cfg.NonceTTL,
		Clock:           opts.Clock,
	}
	if len(basic) > 0 {
		httpCfg.Basic = basic
	}
	if len(digest) > 0 {
		httpCfg.Digest = digest
	}
	return httpauth.New(httpCfg, logger)
}

// buildOAuth2 returns a nil adapter when no usable storage is configured
func (c *Composition) buildOAuth2(ctx context.Context, cfg config.OAuth2Config, opts Options, logger *logging.Logger, metricsCollector *metrics.Collector) (*oauth2.Adapter, error) {
	if cfg.Storage == "" {
		c.logger.Info("OAuth2 adapter has no token storage configured, not registering it")
		return nil, nil
	}
	storageCfg, ok := cfg.Storages[cfg.Storage]
	if !ok {
		c.logger.Warn("OAuth2 adapter references an unknown token storage, not registering it",
			"storage", cfg.Storage,
		)
		return nil, nil
	}

	storage, err := c.openStorage(ctx, cfg.Storage, storageCfg)
	if err != nil {
		return nil, err
	}

	tokens, ok := storage.(oauth2.AccessTokenStorage)
	if !ok {
		return nil, fmt.Errorf("storage %q cannot look up access tokens", cfg.Storage)
	}
	if cfg.Cache.Enabled {
		tokens = oauth2.NewCachingStorage(tokens, oauth2.CacheConfig{
			Size:          cfg.Cache.Size,
			TTL:           cfg.Cache.TTL,
			LookupTimeout: cfg.Cache.LookupTimeout,
			Clock:         opts.Clock,
		}, metricsCollector)
	}

	server, err := oauth2.NewServer(tokens, oauth2.ServerOptions{Clock: opts.Clock})
	if err != nil {
		return nil, err
	}

	for _, name := range cfg.GrantTypes {
		grant, err := oauth2.NewGrantType(name, storage, opts.Clock)
		if errors.Is(err, oauth2.ErrStorageLacksGrant) {
			c.logger.Warn("Token storage does not support grant type, skipping it",
				"storage", cfg.Storage,
				"grant_type", name,
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := server.AddGrantType(grant); err != nil {
			return nil, err
		}
	}

	return oauth2.NewAdapter(server, oauth2.AdapterConfig{
		Name:           cfg.Name,
		Realm:          cfg.Realm,
		AllowQuery:     cfg.AllowQuery,
		AllowBody:      cfg.AllowBody,
		RequiredScopes: cfg.RequiredScopes,
	}, logger)
}

// openStorage builds the token storage named name
func (c *Composition) openStorage(ctx context.Context, name string, cfg config.StorageConfig) (any, error) {
	logger := c.logger.With("storage", name, "type", cfg.Type)

	switch cfg.Type {
	case "memory":
		if cfg.Fixtures == "" {
			logger.Warn("Memory token storage has no fixtures and is empty")
			return oauth2.NewMemoryStorage(), nil
		}
		return oauth2.LoadMemoryStorage(cfg.Fixtures)

	case "postgres":
		logger.Debug("Connecting to token database", "dsn", logging.RedactDSN(cfg.DSN))
		storage, err := oauth2.NewPostgresStorage(ctx, oauth2.PostgresConfig{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MigrateOnStart:  cfg.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, storage.Close)
		return storage, nil

	case "introspection":
		return oauth2.NewIntrospectionStorage(oauth2.IntrospectionConfig{
			URL:          cfg.URL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			Timeout:      cfg.Timeout,
		})

	case "jwt":
		return oauth2.NewJWTStorage(oauth2.JWTConfig{
			HMACSecret:    []byte(cfg.HMACSecret),
			PublicKeyFile: cfg.PublicKeyFile,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			Leeway:        cfg.Leeway,
		})

	case "oidc":
		return oauth2.NewOIDCStorage(ctx, oauth2.OIDCConfig{
			Issuer:   cfg.Issuer,
			JWKSURL:  cfg.JWKSURL,
			ClientID: cfg.ClientID,
		})

	default:
		return nil, fmt.Errorf("unknown token storage type %q", cfg.Type)
	}
}
