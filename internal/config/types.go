// internal/config/types.go
package config

import (
	"net/url"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	// Server holds HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// Metrics holds metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics"`

	// TLS holds listener TLS configuration
	TLS TLSConfig `mapstructure:"tls"`

	// Upstream holds configuration for the upstream service
	Upstream UpstreamConfig `mapstructure:"upstream"`

	// Auth holds authentication configuration
	Auth AuthConfig `mapstructure:"auth"`

	// Observability holds logging configuration
	Observability ObservabilityConfig `mapstructure:"observability"`

	// Rules holds route rules
	Rules []Rule `mapstructure:"rules" validate:"dive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Address is the address to listen on
	Address string `mapstructure:"address" validate:"required"`
	// ShutdownTimeout is the maximum time to wait for a graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	// Address is the address to listen on for the metrics server; empty disables it
	Address string `mapstructure:"address"`
}

// TLSConfig holds listener TLS configuration
type TLSConfig struct {
	// Enabled indicates whether TLS is enabled
	Enabled bool `mapstructure:"enabled"`
	// CertPath is the path to the TLS certificate
	CertPath string `mapstructure:"cert_path" validate:"required_if=Enabled true"`
	// KeyPath is the path to the TLS key
	KeyPath string `mapstructure:"key_path" validate:"required_if=Enabled true"`
}

// UpstreamConfig holds configuration for the upstream service
type UpstreamConfig struct {
	// RawURL is the URL of the upstream service as configured
	RawURL string `mapstructure:"url" validate:"required,url"`
	// URL is RawURL parsed during Load
	URL *url.URL `mapstructure:"-"`
	// Timeout is the maximum time to wait for upstream response headers
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// ValidationTimeout bounds each credential validation; zero disables the bound
	ValidationTimeout time.Duration `mapstructure:"validation_timeout" validate:"gte=0"`

	// Types maps authentication type names to adapter names
	Types map[string][]string `mapstructure:"types"`

	// HTTP holds Basic/Digest adapter configuration
	HTTP HTTPAuthConfig `mapstructure:"http"`

	// OAuth2 holds bearer token adapter configuration
	OAuth2 OAuth2Config `mapstructure:"oauth2"`

	// MTLS holds client certificate adapter configuration
	MTLS MTLSConfig `mapstructure:"mtls"`
}

// HTTPAuthConfig configures the HTTP Basic/Digest adapter.
// The adapter is only built when at least one credential source is set.
type HTTPAuthConfig struct {
	Name  string `mapstructure:"name"`
	Realm string `mapstructure:"realm"`

	// Htpasswd is an htpasswd file serving Basic credentials
	Htpasswd string `mapstructure:"htpasswd" validate:"omitempty,file"`

	// Htdigest is an htdigest file serving Digest credentials
	Htdigest string `mapstructure:"htdigest" validate:"omitempty,file"`

	// Users are plaintext credentials serving both schemes
	Users []User `mapstructure:"users" validate:"dive"`

	// DigestAlgorithm is offered in Digest challenges
	DigestAlgorithm string `mapstructure:"digest_algorithm" validate:"omitempty,oneof=MD5 SHA-256 SHA-512-256"`

	// NonceSecret keys Digest nonces; random per process when empty
	NonceSecret string `mapstructure:"nonce_secret"`

	// NonceTTL bounds Digest nonce validity
	NonceTTL time.Duration `mapstructure:"nonce_ttl" validate:"gte=0"`
}

// User is a statically configured HTTP user
type User struct {
	Username string `mapstructure:"username" validate:"required,excludes=:"`
	Password string `mapstructure:"password" validate:"required"`
}

// OAuth2Config configures the OAuth2 bearer adapter
type OAuth2Config struct {
	Name  string `mapstructure:"name"`
	Realm string `mapstructure:"realm"`

	// Storage selects one of Storages by name; empty disables the adapter
	Storage string `mapstructure:"storage"`

	// Storages are the named token storages
	Storages map[string]StorageConfig `mapstructure:"storages" validate:"dive"`

	// GrantTypes are added to the OAuth2 server at composition time
	GrantTypes []string `mapstructure:"grant_types" validate:"dive,oneof=client_credentials authorization_code"`

	// RequiredScopes must all be granted to a presented token
	RequiredScopes []string `mapstructure:"required_scopes"`

	// AllowQuery accepts the access_token query parameter
	AllowQuery bool `mapstructure:"allow_query"`

	// AllowBody accepts the access_token form body parameter
	AllowBody bool `mapstructure:"allow_body"`

	// Cache holds token lookup cache configuration
	Cache TokenCacheConfig `mapstructure:"cache"`
}

// TokenCacheConfig configures the token lookup cache
type TokenCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size" validate:"gte=0"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`

	// LookupTimeout bounds one shared backend lookup behind the cache
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" validate:"gte=0"`
}

// StorageConfig configures one token storage.
// Which fields apply depends on Type.
type StorageConfig struct {
	// Type is one of memory, postgres, introspection, jwt, oidc
	Type string `mapstructure:"type" validate:"required,oneof=memory postgres introspection jwt oidc"`

	// Fixtures is a YAML file loaded into memory storage
	Fixtures string `mapstructure:"fixtures" validate:"omitempty,file"`

	// DSN is the postgres connection string
	DSN             string        `mapstructure:"dsn" validate:"required_if=Type postgres"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" validate:"gte=0"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`

	// URL is the introspection endpoint
	URL          string        `mapstructure:"url" validate:"omitempty,url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url" validate:"omitempty,url"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// HMACSecret or PublicKeyFile verify JWT access tokens
	HMACSecret    string        `mapstructure:"hmac_secret"`
	PublicKeyFile string        `mapstructure:"public_key_file" validate:"omitempty,file"`
	Issuer        string        `mapstructure:"issuer" validate:"required_if=Type oidc"`
	Audience      string        `mapstructure:"audience"`
	Leeway        time.Duration `mapstructure:"leeway" validate:"gte=0"`

	// JWKSURL skips OIDC discovery
	JWKSURL string `mapstructure:"jwks_url" validate:"omitempty,url"`
}

// MTLSConfig configures the client certificate adapter
type MTLSConfig struct {
	// Enabled indicates whether client certificate authentication is enabled
	Enabled bool `mapstructure:"enabled"`
	// Name is the adapter name; defaults to "x509"
	Name string `mapstructure:"name"`
	// CAPaths is a list of paths to CA certificates for client verification
	CAPaths []string `mapstructure:"ca_paths" validate:"required_if=Enabled true,dive,file"`
	// AllowDNSSubject uses the first DNS SAN when the Common Name is empty
	AllowDNSSubject bool `mapstructure:"allow_dns_subject"`
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	// LogLevel is the minimum log level to emit
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat is the log format (json, text, console)
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text console"`
	// LogFile receives a rotated copy of the log when set
	LogFile string `mapstructure:"log_file"`
	// LogMaxSizeMB is the rotation threshold for LogFile
	LogMaxSizeMB int `mapstructure:"log_max_size_mb" validate:"gte=0"`
}

// Rule defines a routing rule for the proxy
type Rule struct {
	// Name is a unique identifier for the rule
	Name string `mapstructure:"name" validate:"required"`

	// Action is "auth" (authenticate then proxy) or "deny"
	Action string `mapstructure:"action" validate:"omitempty,oneof=auth deny"`

	// Paths is a list of URL paths this rule applies to
	Paths []string `mapstructure:"paths" validate:"required,min=1,dive,startswith=/"`

	// MatchPrefix indicates whether to match the path prefix instead of exact match
	MatchPrefix bool `mapstructure:"match_prefix"`

	// Methods is a list of HTTP methods this rule applies to (empty = all methods)
	Methods []string `mapstructure:"methods"`

	// AuthTypes are the authentication types eligible for this rule (empty = all adapters)
	AuthTypes []string `mapstructure:"auth_types"`

	// AllowAnonymous admits callers presenting no applicable credentials
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}
