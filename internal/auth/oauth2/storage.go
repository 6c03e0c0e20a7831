// internal/auth/oauth2/storage.go
package oauth2

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slices"
)

// Storage errors. ErrNotFound and ErrInvalidToken mean the caller presented a
// bad token or code; every other storage error is a backend fault.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidClientSecret = errors.New("invalid client secret")
)

// AccessToken is an issued bearer token as a storage knows it
type AccessToken struct {
	Token    string    `yaml:"token"`
	ClientID string    `yaml:"client_id"`
	UserID   string    `yaml:"user_id"`
	Scopes   []string  `yaml:"scopes"`
	Expires  time.Time `yaml:"expires"`
}

// Expired reports whether the token is past its expiry; a zero expiry never expires
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.Expires.IsZero() && !now.Before(t.Expires)
}

// HasScopes reports whether the token grants every scope in required
func (t *AccessToken) HasScopes(required []string) bool {
	for _, scope := range required {
		if !slices.Contains(t.Scopes, scope) {
			return false
		}
	}
	return true
}

// Client is a registered OAuth2 client
type Client struct {
	ID string `yaml:"id"`
	// Secret is a bcrypt hash, or plaintext for fixtures
	Secret      string   `yaml:"secret"`
	RedirectURI string   `yaml:"redirect_uri"`
	GrantTypes  []string `yaml:"grant_types"`
	Scopes      []string `yaml:"scopes"`
	UserID      string   `yaml:"user_id"`
}

// AllowsGrant reports whether the client may use grantType; no restriction means any
func (c *Client) AllowsGrant(grantType string) bool {
	return len(c.GrantTypes) == 0 || slices.Contains(c.GrantTypes, grantType)
}

// AuthorizationCode is an issued, not yet exchanged, authorization code
type AuthorizationCode struct {
	Code        string    `yaml:"code"`
	ClientID    string    `yaml:"client_id"`
	UserID      string    `yaml:"user_id"`
	RedirectURI string    `yaml:"redirect_uri"`
	Scopes      []string  `yaml:"scopes"`
	Expires     time.Time `yaml:"expires"`
}

// AccessTokenStorage looks up access tokens. Required by the bearer adapter.
type AccessTokenStorage interface {
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
}

// ClientCredentialsStorage verifies client credentials. Required by the client_credentials grant.
type ClientCredentialsStorage interface {
	CheckClientCredentials(ctx context.Context, clientID, secret string) (*Client, error)
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// AuthorizationCodeStorage looks up authorization codes. Required by the authorization_code grant.
type AuthorizationCodeStorage interface {
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// checkSecret compares a presented secret with a stored bcrypt hash or plaintext secret
func checkSecret(stored, presented string) error {
	if strings.HasPrefix(stored, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrInvalidClientSecret
			}
			return err
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrInvalidClientSecret
	}
	return nil
}

// splitScope parses a space separated scope string
func splitScope(scope string) []string {
	return strings.Fields(scope)
}
