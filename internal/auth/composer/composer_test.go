package composer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"authdispatch/internal/auth"
	"authdispatch/internal/auth/dispatcher"
	"authdispatch/internal/auth/oauth2"
	"authdispatch/internal/auth/registry"
	"authdispatch/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtures = `
clients:
  - id: billing
    secret: billing-secret
    grant_types: [client_credentials]
access_tokens:
  - token: good-token
    client_id: billing
    user_id: alice
    scopes: [read]
    expires: 2099-01-01T00:00:00Z
  - token: expired-token
    client_id: billing
    scopes: [read]
    expires: 2020-01-01T00:00:00Z
`

func writeFixtures(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oauth2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtures), 0o600))
	return path
}

func fullConfig(t *testing.T) config.AuthConfig {
	return config.AuthConfig{
		Types: map[string][]string{"oauth2-only": {"oauth2"}},
		HTTP: config.HTTPAuthConfig{
			Users: []config.User{{Username: "alice", Password: "secret"}},
		},
		OAuth2: config.OAuth2Config{
			Storage:    "main",
			GrantTypes: []string{oauth2.GrantClientCredentials, oauth2.GrantAuthorizationCode},
			Storages: map[string]config.StorageConfig{
				"main": {Type: "memory", Fixtures: writeFixtures(t)},
			},
		},
	}
}

func build(t *testing.T, cfg config.AuthConfig) *registry.Registry {
	t.Helper()
	c, err := Build(context.Background(), cfg, Options{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c.Registry
}

func dispatch(reg *registry.Registry, authorization string, route dispatcher.Route) dispatcher.Result {
	r := httptest.NewRequest(http.MethodGet, "/resource", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return dispatcher.New(reg, dispatcher.Options{}, nil, nil).Dispatch(context.Background(), r, route)
}

func basicHeader(user, pass string) string {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth(user, pass)
	return r.Header.Get("Authorization")
}

func adapterNames(reg *registry.Registry) []string {
	var names []string
	for _, a := range reg.Adapters() {
		names = append(names, a.Name())
	}
	return names
}

func TestBuild_AttachOrder(t *testing.T) {
	reg := build(t, fullConfig(t))
	assert.Equal(t, []string{"http", "oauth2"}, adapterNames(reg))
	assert.ElementsMatch(t, []string{"basic", "digest", "oauth2", "oauth2-only"}, reg.Types())
}

func TestBuild_BasicAndExpiredBearer(t *testing.T) {
	reg := build(t, fullConfig(t))
	route := dispatcher.Route{Name: "api"}

	result := dispatch(reg, basicHeader("alice", "secret"), route)
	require.Equal(t, dispatcher.Authenticated, result.Outcome)
	assert.Equal(t, auth.MechanismBasic, result.Identity.Mechanism)
	assert.Equal(t, "alice", result.Identity.Subject)
	assert.Equal(t, "http", result.Adapter)

	result = dispatch(reg, "Bearer expired-token", route)
	assert.Equal(t, dispatcher.CredentialsInvalid, result.Outcome)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "oauth2", result.Failures[0].Adapter)
	assert.Equal(t, auth.InvalidCredentials, result.Failures[0].Reason)

	result = dispatch(reg, "Bearer good-token", route)
	require.Equal(t, dispatcher.Authenticated, result.Outcome)
	assert.Equal(t, auth.MechanismOAuth2, result.Identity.Mechanism)
}

func TestBuild_NoResolverIsInert(t *testing.T) {
	withEmptyHTTP := fullConfig(t)
	withEmptyHTTP.HTTP = config.HTTPAuthConfig{Name: "http", Realm: "staff"}

	reg := build(t, withEmptyHTTP)
	assert.Equal(t, []string{"oauth2"}, adapterNames(reg))
	_, ok := reg.Adapter("http")
	assert.False(t, ok)

	withoutHTTP := fullConfig(t)
	withoutHTTP.HTTP = config.HTTPAuthConfig{}
	baseline := build(t, withoutHTTP)

	for _, allowAnonymous := range []bool{false, true} {
		route := dispatcher.Route{Name: "api", AllowAnonymous: allowAnonymous}
		got := dispatch(reg, basicHeader("alice", "secret"), route)
		want := dispatch(baseline, basicHeader("alice", "secret"), route)
		assert.Equal(t, want.Outcome, got.Outcome)
		assert.Empty(t, got.Failures)
	}
}

func digestChallenge(t *testing.T, reg *registry.Registry) string {
	t.Helper()
	adapter, ok := reg.Adapter("http")
	require.True(t, ok)
	challenger, ok := adapter.(auth.Challenger)
	require.True(t, ok)
	for _, c := range challenger.Challenge() {
		if strings.HasPrefix(c, "Digest ") {
			return c
		}
	}
	t.Fatal("no Digest challenge offered")
	return ""
}

func TestBuild_HtdigestOnlyChallengesWithMD5(t *testing.T) {
	sum := md5.Sum([]byte("bob:staff:builder"))
	path := filepath.Join(t.TempDir(), "htdigest")
	require.NoError(t, os.WriteFile(path, []byte("bob:staff:"+hex.EncodeToString(sum[:])+"\n"), 0o600))

	htdigestOnly := config.AuthConfig{HTTP: config.HTTPAuthConfig{
		Realm:           "staff",
		Htdigest:        path,
		DigestAlgorithm: "SHA-256",
	}}
	challenge := digestChallenge(t, build(t, htdigestOnly))
	assert.Contains(t, challenge, "algorithm=MD5")
	assert.NotContains(t, challenge, "SHA-256")

	withStaticUsers := htdigestOnly
	withStaticUsers.HTTP.Users = []config.User{{Username: "alice", Password: "secret"}}
	assert.Contains(t, digestChallenge(t, build(t, withStaticUsers)), "algorithm=SHA-256")
}

func TestBuild_TypeScoping(t *testing.T) {
	reg := build(t, fullConfig(t))

	result := dispatch(reg, basicHeader("alice", "secret"), dispatcher.Route{Name: "api", Types: []string{"oauth2-only"}})
	assert.Equal(t, dispatcher.AnonymousNotPermitted, result.Outcome)
	assert.Empty(t, result.Failures)
}

func TestBuild_OAuth2Lenience(t *testing.T) {
	noStorage := fullConfig(t)
	noStorage.OAuth2.Storage = ""
	assert.Equal(t, []string{"http"}, adapterNames(build(t, noStorage)))

	unknownStorage := fullConfig(t)
	unknownStorage.OAuth2.Storage = "missing"
	assert.Equal(t, []string{"http"}, adapterNames(build(t, unknownStorage)))
}

func TestBuild_GrantTypesFollowStorageCapabilities(t *testing.T) {
	reg := build(t, fullConfig(t))
	adapter, ok := reg.Adapter("oauth2")
	require.True(t, ok)
	server := adapter.(*oauth2.Adapter).Server()
	assert.True(t, server.HasGrantType(oauth2.GrantClientCredentials))
	assert.True(t, server.HasGrantType(oauth2.GrantAuthorizationCode))

	jwtOnly := fullConfig(t)
	jwtOnly.OAuth2.Storages["main"] = config.StorageConfig{Type: "jwt", HMACSecret: "0123456789abcdef0123456789abcdef"}
	reg = build(t, jwtOnly)
	adapter, ok = reg.Adapter("oauth2")
	require.True(t, ok)
	assert.Empty(t, adapter.(*oauth2.Adapter).Server().GrantTypes())
}

func TestBuild_CachedStorage(t *testing.T) {
	cfg := fullConfig(t)
	cfg.OAuth2.Cache = config.TokenCacheConfig{Enabled: true, Size: 8}
	reg := build(t, cfg)

	for i := 0; i < 2; i++ {
		result := dispatch(reg, "Bearer good-token", dispatcher.Route{Name: "api"})
		assert.Equal(t, dispatcher.Authenticated, result.Outcome)
	}
}

func TestBuild_Errors(t *testing.T) {
	badFixtures := fullConfig(t)
	badFixtures.OAuth2.Storages["main"] = config.StorageConfig{Type: "memory", Fixtures: filepath.Join(t.TempDir(), "absent.yaml")}
	_, err := Build(context.Background(), badFixtures, Options{}, nil, nil)
	assert.Error(t, err)

	mtlsWithoutCAs := fullConfig(t)
	mtlsWithoutCAs.MTLS = config.MTLSConfig{Enabled: true}
	_, err = Build(context.Background(), mtlsWithoutCAs, Options{}, nil, nil)
	assert.Error(t, err)

	duplicate := fullConfig(t)
	duplicate.OAuth2.Name = "http"
	_, err = Build(context.Background(), duplicate, Options{}, nil, nil)
	assert.ErrorIs(t, err, registry.ErrDuplicateAdapter)

	badHtpasswd := fullConfig(t)
	badHtpasswd.HTTP.Htpasswd = filepath.Join(t.TempDir(), "absent")
	_, err = Build(context.Background(), badHtpasswd, Options{}, nil, nil)
	assert.Error(t, err)
}
