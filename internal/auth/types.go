// internal/auth/types.go
package auth

import (
	"context"
	"net/http"
)

// Mechanism identifies the family of credential validation that produced an identity
type Mechanism int

const (
	// MechanismNone is the mechanism of the anonymous identity
	MechanismNone Mechanism = iota
	// MechanismBasic is HTTP Basic authentication (RFC 7617)
	MechanismBasic
	// MechanismDigest is HTTP Digest authentication (RFC 7616)
	MechanismDigest
	// MechanismOAuth2 is OAuth2 bearer token authentication (RFC 6750)
	MechanismOAuth2
	// MechanismCustom is any other mechanism, such as client certificates
	MechanismCustom
)

// String returns the lower-case mechanism name used in logs, metrics and headers
func (m Mechanism) String() string {
	switch m {
	case MechanismBasic:
		return "basic"
	case MechanismDigest:
		return "digest"
	case MechanismOAuth2:
		return "oauth2"
	case MechanismCustom:
		return "custom"
	default:
		return "none"
	}
}

// Identity is the result of authentication for one request.
// It must not be modified after it has been produced.
type Identity struct {
	// Subject is the unique identifier for this identity
	Subject string

	// Mechanism is the mechanism that verified the subject
	Mechanism Mechanism

	// Attributes contains additional identity information
	Attributes map[string]string

	anonymous bool
}

// Anonymous returns a new identity of an unauthenticated caller
func Anonymous() *Identity {
	return &Identity{Attributes: map[string]string{}, anonymous: true}
}

// NewIdentity builds an authenticated identity, copying attrs
func NewIdentity(subject string, mechanism Mechanism, attrs map[string]string) *Identity {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Identity{
		Subject:    subject,
		Mechanism:  mechanism,
		Attributes: copied,
	}
}

// IsAnonymous reports whether the identity is the anonymous one
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.anonymous
}

// Attribute returns a single attribute, or "" when absent
func (i *Identity) Attribute(key string) string {
	if i == nil {
		return ""
	}
	return i.Attributes[key]
}

// Credentials is raw credential material pulled from a request by an adapter.
// Its concrete type is private to the adapter that extracted it.
type Credentials interface {
	// Scheme names the transport scheme the material came from (e.g. "basic", "bearer")
	Scheme() string
}

// Validator turns credential material into a verified identity.
// Failures are returned as *ValidationFailure.
type Validator interface {
	Validate(ctx context.Context, creds Credentials) (*Identity, error)
}

// Adapter binds a Validator to the rule for extracting its credentials from a request.
// Adapters are built once and shared by all requests, so they must be safe for concurrent use.
type Adapter interface {
	Validator

	// Name returns the unique name of this adapter
	Name() string

	// Mechanism returns the mechanism of identities this adapter produces
	Mechanism() Mechanism

	// Extract pulls this adapter's credential material from the request.
	// It returns false when the request carries nothing this adapter applies to.
	Extract(r *http.Request) (Credentials, bool)
}

// Challenger is implemented by adapters that can tell a client how to authenticate
type Challenger interface {
	// Challenge returns WWW-Authenticate header values
	Challenge() []string
}

// Provider is implemented by adapters that answer to built-in authentication type names
type Provider interface {
	// Provides returns the type names this adapter serves without explicit configuration
	Provides() []string
}
