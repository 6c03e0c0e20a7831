// internal/auth/dispatcher/handler.go
package dispatcher

import (
	"net/http"

	"authdispatch/internal/auth"
	"authdispatch/internal/httputils"
	"authdispatch/internal/observability/logging"
)

// Handler wraps next so that it only runs once the caller's identity is known.
// The identity is stored in the request context; failing outcomes are answered
// with an application/problem+json response and next is not called.
func (d *Dispatcher) Handler(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContextOr(ctx, d.logger)

		result := d.Dispatch(ctx, r, route)

		switch result.Outcome {
		case Authenticated, Anonymous:
			ctx = auth.ContextWithIdentity(ctx, result.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))

		case AnonymousNotPermitted, CredentialsInvalid:
			logger.Info("Authentication rejected",
				"route", route.Name,
				"outcome", result.Outcome.String(),
				"remote_addr", r.RemoteAddr,
			)
			for _, challenge := range d.challenges(route) {
				w.Header().Add("WWW-Authenticate", challenge)
			}
			httputils.WriteProblem(w, http.StatusUnauthorized, result.Err().Error())

		case ServiceUnavailable:
			httputils.WriteProblem(w, http.StatusServiceUnavailable, result.Err().Error())

		case Timeout:
			httputils.WriteProblem(w, http.StatusGatewayTimeout, result.Err().Error())

		default:
			logger.Error("Dispatch produced an unknown outcome", "outcome", result.Outcome.String())
			httputils.WriteProblem(w, http.StatusInternalServerError, "internal authentication error")
		}
	})
}

// challenges collects WWW-Authenticate values from the adapters eligible for route
func (d *Dispatcher) challenges(route Route) []string {
	reg := d.registry.Load()
	if reg == nil {
		return nil
	}
	var out []string
	for _, adapter := range reg.Resolve(route.Types) {
		if challenger, ok := adapter.(auth.Challenger); ok {
			out = append(out, challenger.Challenge()...)
		}
	}
	return out
}
