// internal/auth/httpauth/resolver.go
package httpauth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// Resolver errors that mean the caller's credentials are wrong.
// Any other resolver error is treated as a backend fault.
var (
	ErrUnknownUser          = errors.New("unknown user")
	ErrPasswordMismatch     = errors.New("password mismatch")
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
)

// Principal is the verified user a resolver returns
type Principal struct {
	// Username is the subject of the resulting identity
	Username string

	// Attributes are copied into the identity
	Attributes map[string]string
}

// BasicResolver verifies a username and password
type BasicResolver interface {
	ResolveBasic(ctx context.Context, username, password string) (Principal, error)
}

// DigestResolver returns the hex HA1 of a user for a realm, computed with algorithm
// ("MD5", "SHA-256" or "SHA-512-256"; never a -sess variant)
type DigestResolver interface {
	ResolveDigest(ctx context.Context, username, realm, algorithm string) (string, error)
}

// BasicResolverFunc adapts a function to BasicResolver
type BasicResolverFunc func(ctx context.Context, username, password string) (Principal, error)

// ResolveBasic calls f
func (f BasicResolverFunc) ResolveBasic(ctx context.Context, username, password string) (Principal, error) {
	return f(ctx, username, password)
}

// StaticResolver holds plaintext passwords in memory and serves both schemes
type StaticResolver struct {
	users map[string]string
}

// NewStaticResolver creates a resolver over a username to password map
func NewStaticResolver(users map[string]string) *StaticResolver {
	copied := make(map[string]string, len(users))
	for user, password := range users {
		copied[user] = password
	}
	return &StaticResolver{users: copied}
}

// ResolveBasic implements BasicResolver
func (s *StaticResolver) ResolveBasic(_ context.Context, username, password string) (Principal, error) {
	expected, ok := s.users[username]
	if !ok {
		return Principal{}, ErrUnknownUser
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return Principal{}, ErrPasswordMismatch
	}
	return Principal{Username: username}, nil
}

// ResolveDigest implements DigestResolver
func (s *StaticResolver) ResolveDigest(_ context.Context, username, realm, algorithm string) (string, error) {
	password, ok := s.users[username]
	if !ok {
		return "", ErrUnknownUser
	}
	h, err := hashFor(algorithm)
	if err != nil {
		return "", err
	}
	return h(username + ":" + realm + ":" + password), nil
}

// BasicChain asks each resolver in turn until one knows the user
type BasicChain []BasicResolver

// ResolveBasic implements BasicResolver
func (c BasicChain) ResolveBasic(ctx context.Context, username, password string) (Principal, error) {
	for _, r := range c {
		p, err := r.ResolveBasic(ctx, username, password)
		if errors.Is(err, ErrUnknownUser) {
			continue
		}
		return p, err
	}
	return Principal{}, ErrUnknownUser
}

// DigestChain asks each resolver in turn until one knows the user
type DigestChain []DigestResolver

// ResolveDigest implements DigestResolver
func (c DigestChain) ResolveDigest(ctx context.Context, username, realm, algorithm string) (string, error) {
	for _, r := range c {
		ha1, err := r.ResolveDigest(ctx, username, realm, algorithm)
		if errors.Is(err, ErrUnknownUser) {
			continue
		}
		return ha1, err
	}
	return "", ErrUnknownUser
}
