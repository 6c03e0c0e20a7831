package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"authdispatch/internal/auth/composer"
	"authdispatch/internal/auth/dispatcher"
	"authdispatch/internal/config"
	"authdispatch/internal/contextutil"
	"authdispatch/internal/observability/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	u, err := url.Parse(upstream)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Upstream.RawURL = upstream
	cfg.Upstream.URL = u
	cfg.Upstream.Timeout = time.Second
	cfg.Observability.LogLevel = "error"
	cfg.Observability.LogFormat = "json"
	cfg.Auth.HTTP.Users = []config.User{{Username: "alice", Password: "secret"}}
	cfg.Rules = []config.Rule{{Name: "api", Action: "auth", Paths: []string{"/api"}, MatchPrefix: true}}
	return cfg
}

func basicRequest(user, pass string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.SetBasicAuth(user, pass)
	return r
}

func TestNewFromConfig_ServesAuthenticatedProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Request-ID", r.Header.Get(contextutil.RequestIDHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(upstream.Close)

	srv, err := NewFromConfig(context.Background(), baseConfig(t, upstream.URL), "")
	require.NoError(t, err)
	t.Cleanup(srv.Reloader().Close)
	assert.Nil(t, srv.metricsServer)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, basicRequest("alice", "secret"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Upstream-Request-ID"))
	assert.Equal(t, rec.Header().Get(contextutil.RequestIDHeader), rec.Header().Get("X-Upstream-Request-ID"))

	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, basicRequest("alice", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReloader_SwapsRegistry(t *testing.T) {
	cfg := baseConfig(t, "http://127.0.0.1:1")
	composition, err := composer.Build(context.Background(), cfg.Auth, composer.Options{}, nil, nil)
	require.NoError(t, err)

	d := dispatcher.New(composition.Registry, dispatcher.Options{}, nil, nil)
	reloader := NewReloader(d, composition, cfg, composer.Options{}, 0, nil, nil)
	t.Cleanup(reloader.Close)

	route := dispatcher.Route{Name: "api"}
	assert.Equal(t, dispatcher.CredentialsInvalid, d.Dispatch(context.Background(), basicRequest("bob", "builder"), route).Outcome)

	updated := baseConfig(t, "http://127.0.0.1:1")
	updated.Auth.HTTP.Users = append(updated.Auth.HTTP.Users, config.User{Username: "bob", Password: "builder"})
	require.NoError(t, reloader.Reload(context.Background(), updated))

	assert.Equal(t, dispatcher.Authenticated, d.Dispatch(context.Background(), basicRequest("bob", "builder"), route).Outcome)
	assert.NotSame(t, composition.Registry, d.Registry())
}

func TestReloader_FailedRebuildKeepsRegistry(t *testing.T) {
	cfg := baseConfig(t, "http://127.0.0.1:1")
	composition, err := composer.Build(context.Background(), cfg.Auth, composer.Options{}, nil, nil)
	require.NoError(t, err)

	d := dispatcher.New(composition.Registry, dispatcher.Options{}, nil, nil)
	reloader := NewReloader(d, composition, cfg, composer.Options{}, 0, nil, nil)
	t.Cleanup(reloader.Close)

	broken := baseConfig(t, "http://127.0.0.1:1")
	broken.Auth.MTLS = config.MTLSConfig{Enabled: true}
	assert.Error(t, reloader.Reload(context.Background(), broken))

	assert.Same(t, composition.Registry, d.Registry())
	assert.Equal(t, dispatcher.Authenticated, d.Dispatch(context.Background(), basicRequest("alice", "secret"), dispatcher.Route{Name: "api"}).Outcome)
}

func TestServer_StartStop(t *testing.T) {
	srv := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, http.NotFoundHandler(), nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// Shutdown before or after ListenAndServe begins must both end Start cleanly.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestReloader_ApplyLogsFailedRebuild(t *testing.T) {
	var out bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Level: "error", Format: "json", Output: &out})
	require.NoError(t, err)

	cfg := baseConfig(t, "http://127.0.0.1:1")
	composition, err := composer.Build(context.Background(), cfg.Auth, composer.Options{}, nil, nil)
	require.NoError(t, err)

	d := dispatcher.New(composition.Registry, dispatcher.Options{}, nil, nil)
	reloader := NewReloader(d, composition, cfg, composer.Options{}, 0, logger, nil)
	t.Cleanup(reloader.Close)

	broken := baseConfig(t, "http://127.0.0.1:1")
	broken.Auth.MTLS = config.MTLSConfig{Enabled: true}
	reloader.Apply(broken)

	assert.Same(t, composition.Registry, d.Registry())
	assert.Contains(t, out.String(), "Configuration change not applied")

	updated := baseConfig(t, "http://127.0.0.1:1")
	updated.Auth.HTTP.Users = []config.User{{Username: "bob", Password: "builder"}}
	reloader.Apply(updated)
	assert.Equal(t, dispatcher.Authenticated, d.Dispatch(context.Background(), basicRequest("bob", "builder"), dispatcher.Route{Name: "api"}).Outcome)
}
