package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"authdispatch/internal/auth"
	"authdispatch/internal/auth/dispatcher"
	"authdispatch/internal/auth/httpauth"
	"authdispatch/internal/auth/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamSeen struct {
	Path      string `json:"path"`
	Subject   string `json:"subject"`
	Mechanism string `json:"mechanism"`
}

func newUpstream(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(upstreamSeen{
			Path:      r.URL.Path,
			Subject:   r.Header.Get(HeaderSubject),
			Mechanism: r.Header.Get(HeaderMechanism),
		}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRouter(t *testing.T, upstream string) *Router {
	t.Helper()
	httpAdapter, err := httpauth.New(httpauth.Config{
		Basic: httpauth.NewStaticResolver(map[string]string{"alice": "secret"}),
	}, nil)
	require.NoError(t, err)

	reg, err := registry.New([]auth.Adapter{httpAdapter}, nil, nil)
	require.NoError(t, err)

	u, err := url.Parse(upstream)
	require.NoError(t, err)

	return New(Config{
		UpstreamURL:     u,
		UpstreamTimeout: 5 * time.Second,
		Rules: []Rule{
			{Name: "api", Action: ActionAuth, Paths: []string{"/api"}, MatchPrefix: true},
			{Name: "public", Action: ActionAuth, Paths: []string{"/public"}, AllowAnonymous: true},
			{Name: "admin", Action: ActionDeny, Paths: []string{"/admin"}},
			{Name: "reports", Paths: []string{"/reports"}, Methods: []string{http.MethodGet}, AuthTypes: []string{"basic"}},
		},
	}, dispatcher.New(reg, dispatcher.Options{}, nil, nil), nil, nil)
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeSeen(t *testing.T, rec *httptest.ResponseRecorder) upstreamSeen {
	t.Helper()
	var seen upstreamSeen
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seen))
	return seen
}

func TestRouter_AuthenticatedRequestCarriesIdentity(t *testing.T) {
	var calls atomic.Int32
	r := newRouter(t, newUpstream(t, &calls).URL)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.SetBasicAuth("alice", "secret")
	req.Header.Set(HeaderSubject, "mallory")

	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	seen := decodeSeen(t, rec)
	assert.Equal(t, "/api/orders", seen.Path)
	assert.Equal(t, "alice", seen.Subject)
	assert.Equal(t, "basic", seen.Mechanism)
}

func TestRouter_AnonymousRequestLosesSpoofedIdentity(t *testing.T) {
	var calls atomic.Int32
	r := newRouter(t, newUpstream(t, &calls).URL)

	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	req.Header.Set(HeaderSubject, "mallory")
	req.Header.Set(HeaderMechanism, "basic")

	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	seen := decodeSeen(t, rec)
	assert.Empty(t, seen.Subject)
	assert.Empty(t, seen.Mechanism)
}

func TestRouter_RejectsWithoutReachingUpstream(t *testing.T) {
	var calls atomic.Int32
	r := newRouter(t, newUpstream(t, &calls).URL)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	bad := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	bad.SetBasicAuth("alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(r, bad).Code)

	assert.Equal(t, http.StatusForbidden, serve(r, httptest.NewRequest(http.MethodGet, "/admin", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, httptest.NewRequest(http.MethodGet, "/elsewhere", nil)).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(r, httptest.NewRequest(http.MethodPost, "/reports", nil)).Code)

	assert.Zero(t, calls.Load())
}

func TestRouter_ScopedRule(t *testing.T) {
	var calls atomic.Int32
	r := newRouter(t, newUpstream(t, &calls).URL)

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.SetBasicAuth("alice", "secret")
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decodeSeen(t, rec).Subject)
}

func TestRouter_UpstreamDown(t *testing.T) {
	var calls atomic.Int32
	upstream := newUpstream(t, &calls)
	r := newRouter(t, upstream.URL)
	upstream.Close()

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/public", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
