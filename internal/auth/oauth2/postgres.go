// internal/auth/oauth2/postgres.go
package oauth2

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresConfig holds PostgreSQL storage configuration
type PostgresConfig struct {
	// DSN is the connection string
	DSN string

	// MaxConns is the maximum pool size
	MaxConns int32

	// MinConns is the minimum pool size
	MinConns int32

	// MaxConnLifetime recycles connections older than this
	MaxConnLifetime time.Duration

	// MigrateOnStart creates the oauth tables when missing
	MigrateOnStart bool
}

func (c *PostgresConfig) defaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = time.Hour
	}
}

// PostgresStorage reads clients, tokens and codes from the oauth_* tables.
// Scopes and grant types are stored space separated.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL and verifies connectivity
func NewPostgresStorage(ctx context.Context, cfg PostgresConfig) (*PostgresStorage, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStorage{pool: pool}
	if cfg.MigrateOnStart {
		if _, err := pool.Exec(ctx, postgresSchema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply oauth2 schema: %w", err)
		}
	}
	return s, nil
}

// GetAccessToken implements AccessTokenStorage
func (s *PostgresStorage) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	var (
		clientID string
		userID   *string
		expires  *time.Time
		scope    *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, user_id, expires, scope
		FROM oauth_access_tokens
		WHERE access_token = $1
	`, token).Scan(&clientID, &userID, &expires, &scope)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query access token: %w", err)
	}

	return &AccessToken{
		Token:    token,
		ClientID: clientID,
		UserID:   deref(userID),
		Scopes:   splitScope(deref(scope)),
		Expires:  derefTime(expires),
	}, nil
}

// GetClient implements ClientCredentialsStorage
func (s *PostgresStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var secret, redirectURI, grantTypes, scope, userID *string
	err := s.pool.QueryRow(ctx, `
		SELECT client_secret, redirect_uri, grant_types, scope, user_id
		FROM oauth_clients
		WHERE client_id = $1
	`, clientID).Scan(&secret, &redirectURI, &grantTypes, &scope, &userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query client: %w", err)
	}

	return &Client{
		ID:          clientID,
		Secret:      deref(secret),
		RedirectURI: deref(redirectURI),
		GrantTypes:  strings.Fields(deref(grantTypes)),
		Scopes:      splitScope(deref(scope)),
		UserID:      deref(userID),
	}, nil
}

// CheckClientCredentials implements ClientCredentialsStorage
func (s *PostgresStorage) CheckClientCredentials(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := checkSecret(client.Secret, secret); err != nil {
		return nil, err
	}
	return client, nil
}

// GetAuthorizationCode implements AuthorizationCodeStorage
func (s *PostgresStorage) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var (
		clientID    string
		userID      *string
		redirectURI *string
		expires     *time.Time
		scope       *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, user_id, redirect_uri, expires, scope
		FROM oauth_authorization_codes
		WHERE authorization_code = $1
	`, code).Scan(&clientID, &userID, &redirectURI, &expires, &scope)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query authorization code: %w", err)
	}

	return &AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      deref(userID),
		RedirectURI: deref(redirectURI),
		Scopes:      splitScope(deref(scope)),
		Expires:     derefTime(expires),
	}, nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
