// internal/auth/oauth2/jwt.go
package oauth2

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds self-contained JWT access token configuration (RFC 9068)
type JWTConfig struct {
	// HMACSecret verifies HS256/HS384/HS512 tokens
	HMACSecret []byte

	// PublicKeyFile is a PEM RSA public key verifying RS256/RS384/RS512 tokens
	PublicKeyFile string

	// Issuer is the expected iss claim; unchecked when empty
	Issuer string

	// Audience is the expected aud claim; unchecked when empty
	Audience string

	// Leeway tolerates clock skew on time based claims
	Leeway time.Duration
}

// JWTStorage treats signed JWTs as access tokens that need no lookup
type JWTStorage struct {
	key     any
	methods []string
	options []jwt.ParserOption
}

// NewJWTStorage creates a JWT storage
func NewJWTStorage(cfg JWTConfig) (*JWTStorage, error) {
	s := &JWTStorage{}

	switch {
	case cfg.PublicKeyFile != "":
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key %s: %w", cfg.PublicKeyFile, err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key %s: %w", cfg.PublicKeyFile, err)
		}
		s.key = key
		s.methods = []string{"RS256", "RS384", "RS512"}
	case len(cfg.HMACSecret) > 0:
		s.key = cfg.HMACSecret
		s.methods = []string{"HS256", "HS384", "HS512"}
	default:
		return nil, fmt.Errorf("JWT storage requires an HMAC secret or an RSA public key")
	}

	s.options = []jwt.ParserOption{jwt.WithValidMethods(s.methods)}
	if cfg.Issuer != "" {
		s.options = append(s.options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		s.options = append(s.options, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		s.options = append(s.options, jwt.WithLeeway(cfg.Leeway))
	}
	return s, nil
}

// accessTokenClaims are the RFC 9068 claims this storage reads
type accessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Azp      string `json:"azp"`
	Scope    string `json:"scope"`
}

// GetAccessToken implements AccessTokenStorage.
// Any parse or verification failure, including expiry, is ErrInvalidToken.
func (s *JWTStorage) GetAccessToken(_ context.Context, token string) (*AccessToken, error) {
	var claims accessTokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, s.options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return claimsToAccessToken(token, claims.Subject, claims.ClientID, claims.Azp, claims.Scope, claims.ExpiresAt), nil
}

// claimsToAccessToken maps JWT style claims; a subject equal to the client id is a client token
func claimsToAccessToken(token, subject, clientID, azp, scope string, expires *jwt.NumericDate) *AccessToken {
	if clientID == "" {
		clientID = azp
	}
	if clientID == "" {
		clientID = subject
	}
	userID := subject
	if userID == clientID {
		userID = ""
	}
	t := &AccessToken{
		Token:    token,
		ClientID: clientID,
		UserID:   userID,
		Scopes:   strings.Fields(scope),
	}
	if expires != nil {
		t.Expires = expires.Time
	}
	return t
}
