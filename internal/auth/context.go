// internal/auth/context.go
package auth

import (
	"context"
)

// identityKey is a private type for the identity context key
type identityKey struct{}

// ContextWithIdentity adds an identity to a context
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext extracts the identity from the request context.
// Returns nil when dispatch has not run for this request.
func IdentityFromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return identity
	}
	return nil
}
