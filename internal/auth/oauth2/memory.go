// internal/auth/oauth2/memory.go
package oauth2

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStorage keeps clients, tokens and codes in memory.
// It implements every storage interface of this package.
type MemoryStorage struct {
	mu      sync.RWMutex
	clients map[string]Client
	tokens  map[string]AccessToken
	codes   map[string]AuthorizationCode
}

// Fixtures is the YAML document LoadMemoryStorage reads
type Fixtures struct {
	Clients            []Client            `yaml:"clients"`
	AccessTokens       []AccessToken       `yaml:"access_tokens"`
	AuthorizationCodes []AuthorizationCode `yaml:"authorization_codes"`
}

// NewMemoryStorage creates an empty memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients: make(map[string]Client),
		tokens:  make(map[string]AccessToken),
		codes:   make(map[string]AuthorizationCode),
	}
}

// LoadMemoryStorage creates a memory storage from a YAML fixtures file
func LoadMemoryStorage(path string) (*MemoryStorage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth2 fixtures %s: %w", path, err)
	}

	var fixtures Fixtures
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("failed to parse oauth2 fixtures %s: %w", path, err)
	}

	s := NewMemoryStorage()
	if err := s.Load(fixtures); err != nil {
		return nil, fmt.Errorf("invalid oauth2 fixtures %s: %w", path, err)
	}
	return s, nil
}

// Load adds fixtures to the storage
func (s *MemoryStorage) Load(fixtures Fixtures) error {
	for _, c := range fixtures.Clients {
		if c.ID == "" {
			return fmt.Errorf("client without id")
		}
		s.PutClient(c)
	}
	for _, t := range fixtures.AccessTokens {
		if t.Token == "" {
			return fmt.Errorf("access token without token value")
		}
		s.PutAccessToken(t)
	}
	for _, c := range fixtures.AuthorizationCodes {
		if c.Code == "" {
			return fmt.Errorf("authorization code without code value")
		}
		s.PutAuthorizationCode(c)
	}
	return nil
}

// PutClient adds or replaces a client
func (s *MemoryStorage) PutClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

// PutAccessToken adds or replaces an access token
func (s *MemoryStorage) PutAccessToken(t AccessToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Token] = t
}

// PutAuthorizationCode adds or replaces an authorization code
func (s *MemoryStorage) PutAuthorizationCode(c AuthorizationCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[c.Code] = c
}

// GetAccessToken implements AccessTokenStorage
func (s *MemoryStorage) GetAccessToken(_ context.Context, token string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// GetClient implements ClientCredentialsStorage
func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// CheckClientCredentials implements ClientCredentialsStorage
func (s *MemoryStorage) CheckClientCredentials(ctx context.Context, clientID, secret string) (*Client, error) {
	c, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := checkSecret(c.Secret, secret); err != nil {
		return nil, err
	}
	return c, nil
}

// GetAuthorizationCode implements AuthorizationCodeStorage
func (s *MemoryStorage) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}
