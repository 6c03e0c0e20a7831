// internal/config/settings.go
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "AUTHDISPATCH"

// SettingType represents the type of a setting
type SettingType string

const (
	// String type for string settings
	String SettingType = "string"
	// Bool type for boolean settings
	Bool SettingType = "bool"
	// Int type for integer settings
	Int SettingType = "int"
	// Duration type for time.Duration settings
	Duration SettingType = "duration"
	// StringSlice type for string slice settings
	StringSlice SettingType = "stringSlice"
)

// Setting defines a scalar configuration setting that can come from the
// config file or the environment
type Setting struct {
	// Name is the dotted key of the setting in the config file
	Name string
	// Short is a short description of the setting
	Short string
	// Type is the type of the setting
	Type SettingType
	// Default is the default value of the setting
	Default interface{}
	// Env is the environment variable name for the setting, without EnvPrefix
	Env string
}

// SettingList is a list of settings
type SettingList []Setting

// PopulateViperDefaults sets default values for all settings in Viper
func (sl SettingList) PopulateViperDefaults(v *viper.Viper) {
	for _, s := range sl {
		v.SetDefault(s.Name, s.Default)
	}
}

// BindEnv binds every setting to its prefixed environment variable
func (sl SettingList) BindEnv(v *viper.Viper) error {
	for _, s := range sl {
		if err := v.BindEnv(s.Name, EnvPrefix+"_"+s.Env); err != nil {
			return fmt.Errorf("failed to bind environment variable for %s: %w", s.Name, err)
		}
	}
	return nil
}

// Settings defines all scalar application settings.
// Nested maps and lists (auth.types, auth.oauth2.storages, rules) are only read from the config file.
var Settings = SettingList{
	// Server settings
	{
		Name:    "server.address",
		Short:   "Address on which the server listens",
		Type:    String,
		Default: ":8000",
		Env:     "SERVER_ADDR",
	},
	{
		Name:    "server.shutdown_timeout",
		Short:   "Maximum time to wait for graceful shutdown",
		Type:    Duration,
		Default: "30s",
		Env:     "SHUTDOWN_TIMEOUT",
	},
	{
		Name:    "metrics.address",
		Short:   "Address on which the metrics server listens",
		Type:    String,
		Default: ":9090",
		Env:     "METRICS_ADDR",
	},

	// TLS settings
	{
		Name:    "tls.enabled",
		Short:   "Enable TLS for the server",
		Type:    Bool,
		Default: false,
		Env:     "TLS_ENABLED",
	},
	{
		Name:    "tls.cert_path",
		Short:   "Path to TLS certificate file",
		Type:    String,
		Default: "",
		Env:     "TLS_CERT_PATH",
	},
	{
		Name:    "tls.key_path",
		Short:   "Path to TLS key file",
		Type:    String,
		Default: "",
		Env:     "TLS_KEY_PATH",
	},

	// Upstream settings
	{
		Name:    "upstream.url",
		Short:   "URL of the upstream service",
		Type:    String,
		Default: "",
		Env:     "UPSTREAM_URL",
	},
	{
		Name:    "upstream.timeout",
		Short:   "Timeout for upstream response headers",
		Type:    Duration,
		Default: "30s",
		Env:     "UPSTREAM_TIMEOUT",
	},

	// Authentication
	{
		Name:    "auth.validation_timeout",
		Short:   "Upper bound for a single credential validation",
		Type:    Duration,
		Default: "5s",
		Env:     "AUTH_VALIDATION_TIMEOUT",
	},

	// Authentication: HTTP Basic/Digest
	{
		Name:    "auth.http.name",
		Short:   "Adapter name of the HTTP Basic/Digest adapter",
		Type:    String,
		Default: "http",
		Env:     "AUTH_HTTP_NAME",
	},
	{
		Name:    "auth.http.realm",
		Short:   "Realm announced in Basic and Digest challenges",
		Type:    String,
		Default: "authdispatch",
		Env:     "AUTH_HTTP_REALM",
	},
	{
		Name:    "auth.http.htpasswd",
		Short:   "htpasswd file for Basic authentication",
		Type:    String,
		Default: "",
		Env:     "AUTH_HTTP_HTPASSWD",
	},
	{
		Name:    "auth.http.htdigest",
		Short:   "htdigest file for Digest authentication",
		Type:    String,
		Default: "",
		Env:     "AUTH_HTTP_HTDIGEST",
	},
	{
		Name:    "auth.http.digest_algorithm",
		Short:   "Algorithm offered in Digest challenges",
		Type:    String,
		Default: "SHA-256",
		Env:     "AUTH_HTTP_DIGEST_ALGORITHM",
	},
	{
		Name:    "auth.http.nonce_secret",
		Short:   "Secret keying Digest nonces, shared between replicas",
		Type:    String,
		Default: "",
		Env:     "AUTH_HTTP_NONCE_SECRET",
	},
	{
		Name:    "auth.http.nonce_ttl",
		Short:   "Validity of a Digest nonce",
		Type:    Duration,
		Default: "5m",
		Env:     "AUTH_HTTP_NONCE_TTL",
	},

	// Authentication: OAuth2
	{
		Name:    "auth.oauth2.name",
		Short:   "Adapter name of the OAuth2 bearer adapter",
		Type:    String,
		Default: "oauth2",
		Env:     "AUTH_OAUTH2_NAME",
	},
	{
		Name:    "auth.oauth2.realm",
		Short:   "Realm announced in Bearer challenges",
		Type:    String,
		Default: "authdispatch",
		Env:     "AUTH_OAUTH2_REALM",
	},
	{
		Name:    "auth.oauth2.storage",
		Short:   "Name of the token storage backing the OAuth2 adapter",
		Type:    String,
		Default: "",
		Env:     "AUTH_OAUTH2_STORAGE",
	},
	{
		Name:    "auth.oauth2.grant_types",
		Short:   "Grant types configured on the OAuth2 server",
		Type:    StringSlice,
		Default: []string{"client_credentials", "authorization_code"},
		Env:     "AUTH_OAUTH2_GRANT_TYPES",
	},
	{
		Name:    "auth.oauth2.required_scopes",
		Short:   "Scopes every bearer token must carry",
		Type:    StringSlice,
		Default: []string{},
		Env:     "AUTH_OAUTH2_REQUIRED_SCOPES",
	},
	{
		Name:    "auth.oauth2.allow_query",
		Short:   "Accept the access_token query parameter",
		Type:    Bool,
		Default: false,
		Env:     "AUTH_OAUTH2_ALLOW_QUERY",
	},
	{
		Name:    "auth.oauth2.allow_body",
		Short:   "Accept the access_token form body parameter",
		Type:    Bool,
		Default: false,
		Env:     "AUTH_OAUTH2_ALLOW_BODY",
	},
	{
		Name:    "auth.oauth2.cache.enabled",
		Short:   "Cache successful token lookups",
		Type:    Bool,
		Default: false,
		Env:     "AUTH_OAUTH2_CACHE_ENABLED",
	},
	{
		Name:    "auth.oauth2.cache.size",
		Short:   "Maximum number of cached tokens",
		Type:    Int,
		Default: 1024,
		Env:     "AUTH_OAUTH2_CACHE_SIZE",
	},
	{
		Name:    "auth.oauth2.cache.ttl",
		Short:   "Maximum time a token lookup is reused",
		Type:    Duration,
		Default: "1m",
		Env:     "AUTH_OAUTH2_CACHE_TTL",
	},
	{
		Name:    "auth.oauth2.cache.lookup_timeout",
		Short:   "Maximum duration of one backend lookup shared by cached callers",
		Type:    Duration,
		Default: "10s",
		Env:     "AUTH_OAUTH2_CACHE_LOOKUP_TIMEOUT",
	},

	// Authentication: mTLS
	{
		Name:    "auth.mtls.enabled",
		Short:   "Enable client certificate authentication",
		Type:    Bool,
		Default: false,
		Env:     "AUTH_MTLS_ENABLED",
	},
	{
		Name:    "auth.mtls.name",
		Short:   "Adapter name of the client certificate adapter",
		Type:    String,
		Default: "x509",
		Env:     "AUTH_MTLS_NAME",
	},
	{
		Name:    "auth.mtls.ca_paths",
		Short:   "Paths to CA certificates for client verification",
		Type:    StringSlice,
		Default: []string{},
		Env:     "AUTH_MTLS_CA_PATHS",
	},
	{
		Name:    "auth.mtls.allow_dns_subject",
		Short:   "Use the first DNS SAN when a client certificate has no Common Name",
		Type:    Bool,
		Default: false,
		Env:     "AUTH_MTLS_ALLOW_DNS_SUBJECT",
	},

	// Observability settings
	{
		Name:    "observability.log_level",
		Short:   "Minimum log level (debug, info, warn, error)",
		Type:    String,
		Default: "info",
		Env:     "LOG_LEVEL",
	},
	{
		Name:    "observability.log_format",
		Short:   "Log format (json, text, console)",
		Type:    String,
		Default: "text",
		Env:     "LOG_FORMAT",
	},
	{
		Name:    "observability.log_file",
		Short:   "File receiving a rotated copy of the log",
		Type:    String,
		Default: "",
		Env:     "LOG_FILE",
	},
	{
		Name:    "observability.log_max_size_mb",
		Short:   "Rotation threshold of the log file in megabytes",
		Type:    Int,
		Default: 100,
		Env:     "LOG_MAX_SIZE_MB",
	},
}
