// internal/proxy/router/router.go
package router

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"authdispatch/internal/auth"
	"authdispatch/internal/auth/dispatcher"
	"authdispatch/internal/contextutil"
	"authdispatch/internal/httputils"
	"authdispatch/internal/observability/logging"
	"authdispatch/internal/observability/metrics"

	"github.com/gorilla/mux"
)

// Identity headers set on proxied requests. Copies sent by clients are always removed.
const (
	HeaderSubject   = "X-Authenticated-Subject"
	HeaderMechanism = "X-Authenticated-Mechanism"
)

// Rule actions
const (
	ActionAuth = "auth"
	ActionDeny = "deny"
)

// Rule defines a routing rule
type Rule struct {
	// Name is a unique identifier for the rule
	Name string

	// Action is ActionAuth (authenticate, then proxy) or ActionDeny
	Action string

	// Paths is a list of URL paths this rule applies to
	Paths []string

	// MatchPrefix indicates whether to match the path prefix instead of exact match
	MatchPrefix bool

	// Methods is a list of HTTP methods this rule applies to (empty = all methods)
	Methods []string

	// AuthTypes are the authentication types eligible for the rule (empty = all adapters)
	AuthTypes []string

	// AllowAnonymous admits callers presenting no applicable credentials
	AllowAnonymous bool
}

// Router matches requests to rules, authenticates them and proxies them upstream
type Router struct {
	*mux.Router
	proxy      *httputil.ReverseProxy
	dispatcher *dispatcher.Dispatcher
	rules      []Rule
	logger     *logging.Logger
	metrics    *metrics.Collector
	upstream   string
}

// Config holds router configuration
type Config struct {
	// UpstreamURL is the URL of the upstream service
	UpstreamURL *url.URL

	// UpstreamTimeout bounds the wait for upstream response headers
	UpstreamTimeout time.Duration

	// Rules is the list of routing rules
	Rules []Rule
}

// New creates a new router
func New(config Config, d *dispatcher.Dispatcher, logger *logging.Logger, metricsCollector *metrics.Collector) *Router {
	if logger == nil {
		logger = logging.Discard()
	}

	r := &Router{
		Router:     mux.NewRouter(),
		dispatcher: d,
		rules:      config.Rules,
		logger:     logger.WithModule("proxy.router"),
		metrics:    metricsCollector,
		upstream:   config.UpstreamURL.String(),
	}
	r.proxy = r.newReverseProxy(config)
	r.setupRoutes()

	return r
}

func (r *Router) newReverseProxy(config Config) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = config.UpstreamTimeout
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	target := config.UpstreamURL
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			setIdentityHeaders(pr.Out.Header, auth.IdentityFromContext(pr.In.Context()))
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			logging.FromContextOr(req.Context(), r.logger).Error("Upstream request failed",
				"upstream", logging.RedactStringURL(r.upstream),
				logging.Err(err),
			)
			httputils.WriteProblem(w, http.StatusBadGateway, "upstream service unavailable")
		},
	}
}

// setIdentityHeaders replaces client supplied identity headers with the dispatched identity
func setIdentityHeaders(h http.Header, identity *auth.Identity) {
	h.Del(HeaderSubject)
	h.Del(HeaderMechanism)
	if identity.IsAnonymous() {
		return
	}
	h.Set(HeaderSubject, identity.Subject)
	h.Set(HeaderMechanism, identity.Mechanism.String())
}

// setupRoutes configures routes based on rules
func (r *Router) setupRoutes() {
	denyHandler := r.createDenyHandler()
	upstreamHandler := r.createUpstreamHandler()

	for _, rule := range r.rules {
		r.logger.Debug("Setting up route",
			"name", rule.Name,
			"action", rule.Action,
			"paths", rule.Paths,
			"methods", rule.Methods,
			"auth_types", rule.AuthTypes,
			"allow_anonymous", rule.AllowAnonymous,
		)

		var handler http.Handler
		switch rule.Action {
		case ActionAuth, "":
			handler = r.dispatcher.Handler(dispatcher.Route{
				Name:           rule.Name,
				Types:          rule.AuthTypes,
				AllowAnonymous: rule.AllowAnonymous,
			}, upstreamHandler)
		case ActionDeny:
			handler = denyHandler
		default:
			r.logger.Warn("Unknown action in rule, defaulting to deny",
				"rule", rule.Name, "action", rule.Action)
			handler = denyHandler
		}
		handler = withRouteName(rule.Name, handler)

		for _, path := range rule.Paths {
			var route *mux.Route
			if rule.MatchPrefix {
				route = r.PathPrefix(path)
			} else {
				route = r.Path(path)
			}

			if len(rule.Methods) > 0 {
				route = route.Methods(rule.Methods...)
			}

			route.Name(rule.Name + ":" + path).Handler(handler)
		}
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logging.FromContextOr(req.Context(), r.logger).Warn("Request received for undefined route", "path", req.URL.Path)
		httputils.WriteProblem(w, http.StatusNotFound, "no route matches the request")
	})
}

// withRouteName records the rule name for request logs and metrics
func withRouteName(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(contextutil.SetRoute(req.Context(), name)))
	})
}

// createDenyHandler creates a reusable handler for "deny" rules
func (r *Router) createDenyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logging.FromContextOr(req.Context(), r.logger).Debug("Deny handler called",
			"rule", contextutil.GetRoute(req.Context()),
			"path", req.URL.Path,
			"method", req.Method,
		)
		httputils.WriteProblem(w, http.StatusForbidden, "access to this route is denied")
	})
}

// createUpstreamHandler proxies an authenticated request and records upstream metrics
func (r *Router) createUpstreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		startTime := time.Now()
		wrapper := httputils.NewResponseWriter(w)

		r.proxy.ServeHTTP(wrapper, req)

		r.metrics.RecordUpstreamRequest(req.Method, r.upstream, wrapper.StatusCode, time.Since(startTime))
	})
}
