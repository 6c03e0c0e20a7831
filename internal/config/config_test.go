package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullConfig = `
upstream:
  url: http://backend.internal:8080
auth:
  validation_timeout: 2s
  types:
    Staff: [http, oauth2]
    machines: [x509]
  http:
    realm: staff
    users:
      - username: Alice
        password: wonderland
  oauth2:
    storage: Main
    grant_types: [client_credentials]
    cache:
      enabled: true
      ttl: 30s
    storages:
      main:
        type: memory
      remote:
        type: introspection
        url: https://idp.example.com/introspect
        client_id: proxy
        client_secret: s3cret
rules:
  - name: api
    paths: [/api]
    match_prefix: true
    auth_types: [Staff]
  - name: health
    paths: [/healthz]
    allow_anonymous: true
  - name: admin
    action: deny
    paths: [/admin]
`

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTHDISPATCH_UPSTREAM_URL", "http://localhost:9000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
	assert.Equal(t, "localhost:9000", cfg.Upstream.URL.Host)
	assert.Equal(t, 5*time.Second, cfg.Auth.ValidationTimeout)
	assert.Equal(t, "http", cfg.Auth.HTTP.Name)
	assert.Equal(t, "SHA-256", cfg.Auth.HTTP.DigestAlgorithm)
	assert.Equal(t, 5*time.Minute, cfg.Auth.HTTP.NonceTTL)
	assert.Equal(t, "oauth2", cfg.Auth.OAuth2.Name)
	assert.Empty(t, cfg.Auth.OAuth2.Storage)
	assert.Equal(t, []string{"client_credentials", "authorization_code"}, cfg.Auth.OAuth2.GrantTypes)
	assert.Equal(t, 1024, cfg.Auth.OAuth2.Cache.Size)
	assert.Equal(t, 10*time.Second, cfg.Auth.OAuth2.Cache.LookupTimeout)
	assert.Equal(t, "x509", cfg.Auth.MTLS.Name)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Empty(t, cfg.Rules)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Auth.ValidationTimeout)
	assert.Equal(t, []string{"http", "oauth2"}, cfg.Auth.Types["staff"])
	assert.Equal(t, []string{"x509"}, cfg.Auth.Types["machines"])

	assert.Equal(t, "staff", cfg.Auth.HTTP.Realm)
	require.Len(t, cfg.Auth.HTTP.Users, 1)
	assert.Equal(t, "Alice", cfg.Auth.HTTP.Users[0].Username)

	assert.Equal(t, "main", cfg.Auth.OAuth2.Storage)
	assert.Equal(t, []string{"client_credentials"}, cfg.Auth.OAuth2.GrantTypes)
	assert.True(t, cfg.Auth.OAuth2.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Auth.OAuth2.Cache.TTL)
	require.Contains(t, cfg.Auth.OAuth2.Storages, "remote")
	assert.Equal(t, "introspection", cfg.Auth.OAuth2.Storages["remote"].Type)
	assert.Equal(t, "proxy", cfg.Auth.OAuth2.Storages["remote"].ClientID)

	require.Len(t, cfg.Rules, 3)
	assert.Equal(t, "auth", cfg.Rules[0].Action)
	assert.Equal(t, []string{"staff"}, cfg.Rules[0].AuthTypes)
	assert.True(t, cfg.Rules[0].MatchPrefix)
	assert.True(t, cfg.Rules[1].AllowAnonymous)
	assert.Equal(t, "deny", cfg.Rules[2].Action)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AUTHDISPATCH_SERVER_ADDR", ":7000")
	t.Setenv("AUTHDISPATCH_AUTH_OAUTH2_GRANT_TYPES", "authorization_code")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, []string{"authorization_code"}, cfg.Auth.OAuth2.GrantTypes)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing upstream",
			content: "server:\n  address: ':8000'\n",
			want:    "upstream.url",
		},
		{
			name:    "unknown key",
			content: "upstream:\n  url: http://a\nauth:\n  kerberos: true\n",
			want:    "kerberos",
		},
		{
			name:    "unknown rule field",
			content: "upstream:\n  url: http://a\nrules:\n  - name: r\n    paths: [/]\n    permission: read\n",
			want:    "permission",
		},
		{
			name:    "unknown storage type",
			content: "upstream:\n  url: http://a\nauth:\n  oauth2:\n    storages:\n      s:\n        type: ldap\n",
			want:    "type",
		},
		{
			name:    "unknown grant type",
			content: "upstream:\n  url: http://a\nauth:\n  oauth2:\n    grant_types: [password]\n",
			want:    "grant_types",
		},
		{
			name:    "jwt without key",
			content: "upstream:\n  url: http://a\nauth:\n  oauth2:\n    storages:\n      s:\n        type: jwt\n",
			want:    "hmac_secret",
		},
		{
			name:    "postgres without dsn",
			content: "upstream:\n  url: http://a\nauth:\n  oauth2:\n    storages:\n      s:\n        type: postgres\n",
			want:    "dsn",
		},
		{
			name:    "rule without paths",
			content: "upstream:\n  url: http://a\nrules:\n  - name: r\n",
			want:    "paths",
		},
		{
			name:    "duplicate rules",
			content: "upstream:\n  url: http://a\nrules:\n  - name: r\n    paths: [/a]\n  - name: r\n    paths: [/b]\n",
			want:    "duplicate rule name",
		},
		{
			name:    "tls without certificate",
			content: "upstream:\n  url: http://a\ntls:\n  enabled: true\n",
			want:    "cert_path",
		},
		{
			name:    "bad log level",
			content: "upstream:\n  url: http://a\nobservability:\n  log_level: trace\n",
			want:    "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatch_RequiresFile(t *testing.T) {
	assert.ErrorIs(t, Watch("", nil, func(*Config) {}), ErrNoConfigFile)
}

func TestWatch_ReloadsValidRevisions(t *testing.T) {
	path := writeConfig(t, "upstream:\n  url: http://a\n")

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(path, nil, func(cfg *Config) { changes <- cfg }))

	require.NoError(t, os.WriteFile(path, []byte("upstream:\n  url: http://b\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "b", cfg.Upstream.URL.Host)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change was not observed")
	}
}
