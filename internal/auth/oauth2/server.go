// internal/auth/oauth2/server.go
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authdispatch/internal/auth"
)

// Grant type identifiers
const (
	GrantClientCredentials = "client_credentials"
	GrantAuthorizationCode = "authorization_code"
)

// Grant errors, named after RFC 6749 section 5.2
var (
	ErrNoStorage               = errors.New("oauth2 server requires an access token storage")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrGrantTypeExists         = errors.New("grant type already registered")
	ErrStorageLacksGrant       = errors.New("storage does not support grant type")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrTokenExpired            = errors.New("access token expired")
	ErrInsufficientScope       = errors.New("insufficient_scope")
	errUnknownAccessToken      = errors.New("unknown access token")
	errStorageReturnedNoRecord = errors.New("storage returned no token")
)

// GrantRequest is the input of a token request for any grant type
type GrantRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	Scopes       []string
}

// Grant is what a validated token request entitles the client to
type Grant struct {
	ClientID string
	UserID   string
	Scopes   []string
}

// GrantType validates token requests of one OAuth2 grant type
type GrantType interface {
	Identifier() string
	ValidateRequest(ctx context.Context, req GrantRequest) (*Grant, error)
}

// NewGrantType builds the named grant type over storage.
// It returns ErrStorageLacksGrant when storage does not implement what the grant type needs.
func NewGrantType(name string, storage any, clock func() time.Time) (GrantType, error) {
	switch name {
	case GrantClientCredentials:
		clients, ok := storage.(ClientCredentialsStorage)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrStorageLacksGrant, name)
		}
		return NewClientCredentials(clients), nil
	case GrantAuthorizationCode:
		codes, ok := storage.(AuthorizationCodeStorage)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrStorageLacksGrant, name)
		}
		clients, _ := storage.(ClientCredentialsStorage)
		return NewAuthorizationCode(codes, clients, clock), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrantType, name)
	}
}

// ClientCredentialsGrant is the client_credentials grant (RFC 6749 section 4.4)
type ClientCredentialsGrant struct {
	clients ClientCredentialsStorage
}

// NewClientCredentials creates the client_credentials grant type
func NewClientCredentials(clients ClientCredentialsStorage) *ClientCredentialsGrant {
	return &ClientCredentialsGrant{clients: clients}
}

// Identifier returns "client_credentials"
func (g *ClientCredentialsGrant) Identifier() string {
	return GrantClientCredentials
}

// ValidateRequest authenticates the client and checks the requested scopes
func (g *ClientCredentialsGrant) ValidateRequest(ctx context.Context, req GrantRequest) (*Grant, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client credentials required", ErrInvalidClient)
	}

	client, err := g.clients.CheckClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidClientSecret) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
		}
		return nil, fmt.Errorf("failed to check client credentials: %w", err)
	}
	if !client.AllowsGrant(GrantClientCredentials) {
		return nil, ErrUnauthorizedClient
	}

	scopes, err := grantedScopes(req.Scopes, client.Scopes)
	if err != nil {
		return nil, err
	}
	return &Grant{ClientID: client.ID, Scopes: scopes}, nil
}

// AuthorizationCodeGrant is the authorization_code grant (RFC 6749 section 4.1)
type AuthorizationCodeGrant struct {
	codes   AuthorizationCodeStorage
	clients ClientCredentialsStorage
	now     func() time.Time
}

// NewAuthorizationCode creates the authorization_code grant type.
// clients may be nil, in which case client secrets are not checked.
func NewAuthorizationCode(codes AuthorizationCodeStorage, clients ClientCredentialsStorage, clock func() time.Time) *AuthorizationCodeGrant {
	if clock == nil {
		clock = time.Now
	}
	return &AuthorizationCodeGrant{codes: codes, clients: clients, now: clock}
}

// Identifier returns "authorization_code"
func (g *AuthorizationCodeGrant) Identifier() string {
	return GrantAuthorizationCode
}

// ValidateRequest checks the code, its client binding and redirect URI
func (g *AuthorizationCodeGrant) ValidateRequest(ctx context.Context, req GrantRequest) (*Grant, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrInvalidRequest)
	}
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", ErrInvalidClient)
	}

	if g.clients != nil && req.ClientSecret != "" {
		client, err := g.clients.CheckClientCredentials(ctx, req.ClientID, req.ClientSecret)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidClientSecret) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
			}
			return nil, fmt.Errorf("failed to check client credentials: %w", err)
		}
		if !client.AllowsGrant(GrantAuthorizationCode) {
			return nil, ErrUnauthorizedClient
		}
	}

	code, err := g.codes.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown code", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	if !code.Expires.IsZero() && !g.now().Before(code.Expires) {
		return nil, fmt.Errorf("%w: code expired", ErrInvalidGrant)
	}
	if code.ClientID != req.ClientID {
		return nil, fmt.Errorf("%w: code was issued to another client", ErrInvalidGrant)
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	}

	return &Grant{ClientID: code.ClientID, UserID: code.UserID, Scopes: code.Scopes}, nil
}

// grantedScopes checks requested against allowed; an empty request grants everything allowed
func grantedScopes(requested, allowed []string) ([]string, error) {
	if len(requested) == 0 {
		return allowed, nil
	}
	if len(allowed) == 0 {
		return requested, nil
	}
	probe := AccessToken{Scopes: allowed}
	if !probe.HasScopes(requested) {
		return nil, ErrInvalidScope
	}
	return requested, nil
}

// ServerOptions tunes a Server
type ServerOptions struct {
	// Clock overrides time.Now for expiry checks
	Clock func() time.Time
}

// Server holds the token storage and the grant types configured at composition time.
// Per-request token verification only consults the storage.
type Server struct {
	tokens AccessTokenStorage
	grants map[string]GrantType
	order  []string
	now    func() time.Time
}

// NewServer creates an OAuth2 server over tokens
func NewServer(tokens AccessTokenStorage, opts ServerOptions) (*Server, error) {
	if tokens == nil {
		return nil, ErrNoStorage
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Server{
		tokens: tokens,
		grants: make(map[string]GrantType),
		now:    opts.Clock,
	}, nil
}

// AddGrantType registers a grant type
func (s *Server) AddGrantType(grant GrantType) error {
	id := grant.Identifier()
	if _, exists := s.grants[id]; exists {
		return fmt.Errorf("%w: %s", ErrGrantTypeExists, id)
	}
	s.grants[id] = grant
	s.order = append(s.order, id)
	return nil
}

// GrantTypes returns the registered grant type identifiers in registration order
func (s *Server) GrantTypes() []string {
	return append([]string(nil), s.order...)
}

// HasGrantType reports whether a grant type is registered
func (s *Server) HasGrantType(id string) bool {
	_, ok := s.grants[id]
	return ok
}

// ValidateGrant validates a token request with the named grant type
func (s *Server) ValidateGrant(ctx context.Context, grantType string, req GrantRequest) (*Grant, error) {
	grant, ok := s.grants[grantType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrantType, grantType)
	}
	return grant.ValidateRequest(ctx, req)
}

// VerifyAccessToken looks up token and checks expiry and scopes.
// Errors are *auth.ValidationFailure: unknown, expired or under-scoped tokens are
// InvalidCredentials and storage faults are BackendUnavailable.
func (s *Server) VerifyAccessToken(ctx context.Context, token string, scopes []string) (*AccessToken, error) {
	record, err := s.tokens.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.Invalid(errUnknownAccessToken)
		}
		if errors.Is(err, ErrInvalidToken) {
			return nil, auth.Invalid(err)
		}
		return nil, auth.Unavailable(fmt.Errorf("failed to get access token: %w", err))
	}
	if record == nil {
		return nil, auth.Unavailable(errStorageReturnedNoRecord)
	}
	if record.Expired(s.now()) {
		return nil, auth.Invalid(ErrTokenExpired)
	}
	if !record.HasScopes(scopes) {
		return nil, auth.Invalid(ErrInsufficientScope)
	}
	return record, nil
}
