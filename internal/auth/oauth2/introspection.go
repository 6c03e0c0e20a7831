// internal/auth/oauth2/introspection.go
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// IntrospectionConfig holds RFC 7662 token introspection configuration
type IntrospectionConfig struct {
	// URL is the introspection endpoint
	URL string

	// ClientID and ClientSecret authenticate this proxy to the endpoint
	ClientID     string
	ClientSecret string

	// TokenURL switches endpoint authentication from HTTP Basic to a
	// client_credentials bearer token obtained from this URL
	TokenURL string

	// Scopes are requested with the client_credentials token
	Scopes []string

	// Timeout bounds each introspection call
	Timeout time.Duration

	// HTTPClient is the base client; http.DefaultClient when nil
	HTTPClient *http.Client
}

// IntrospectionStorage resolves opaque access tokens by asking the authorization server
type IntrospectionStorage struct {
	url          string
	clientID     string
	clientSecret string
	basicAuth    bool
	client       *http.Client
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Subject  string `json:"sub"`
	Expiry   int64  `json:"exp"`
}

// NewIntrospectionStorage creates an introspection storage
func NewIntrospectionStorage(cfg IntrospectionConfig) (*IntrospectionStorage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("introspection URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	s := &IntrospectionStorage{
		url:          cfg.URL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}

	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// The token source outlives any single request, so it gets its own context.
		ctx := context.WithValue(context.Background(), xoauth2.HTTPClient, base)
		s.client = cc.Client(ctx)
	} else {
		s.client = base
		s.basicAuth = cfg.ClientID != ""
	}
	s.client = &http.Client{
		Transport: s.client.Transport,
		Timeout:   cfg.Timeout,
	}
	return s, nil
}

// GetAccessToken implements AccessTokenStorage.
// Inactive tokens are reported as ErrNotFound.
func (s *IntrospectionStorage) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if s.basicAuth {
		req.SetBasicAuth(url.QueryEscape(s.clientID), url.QueryEscape(s.clientSecret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call introspection endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("introspection endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result introspectionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	if !result.Active {
		return nil, ErrNotFound
	}

	userID := result.Subject
	if userID == "" {
		userID = result.Username
	}
	if userID == result.ClientID {
		userID = ""
	}

	t := &AccessToken{
		Token:    token,
		ClientID: result.ClientID,
		UserID:   userID,
		Scopes:   splitScope(result.Scope),
	}
	if result.Expiry > 0 {
		t.Expires = time.Unix(result.Expiry, 0)
	}
	return t, nil
}
