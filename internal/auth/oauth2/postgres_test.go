package oauth2

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a migrated storage.
// Tests are skipped when no container runtime is available.
func setupPostgres(t *testing.T) *PostgresStorage {
	t.Helper()

	if testing.Short() || os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("skipping PostgreSQL integration tests")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("authdispatch_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := NewPostgresStorage(ctx, PostgresConfig{DSN: dsn, MaxConns: 4, MigrateOnStart: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	_, err = storage.pool.Exec(ctx, `
		INSERT INTO oauth_clients (client_id, client_secret, grant_types, scope)
		VALUES ('machine', 'machine-secret', 'client_credentials', 'read write');
		INSERT INTO oauth_access_tokens (access_token, client_id, user_id, expires, scope)
		VALUES ('user-token', 'webapp', 'alice', NOW() + INTERVAL '1 hour', 'read profile'),
		       ('client-token', 'machine', NULL, NULL, NULL);
		INSERT INTO oauth_authorization_codes (authorization_code, client_id, user_id, redirect_uri, expires, scope)
		VALUES ('code-1', 'webapp', 'alice', 'https://app.example.com/cb', NOW() + INTERVAL '1 minute', 'profile');
	`)
	require.NoError(t, err)

	return storage
}

func TestPostgresStorage_AccessTokens(t *testing.T) {
	storage := setupPostgres(t)
	ctx := context.Background()

	token, err := storage.GetAccessToken(ctx, "user-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", token.UserID)
	assert.Equal(t, []string{"read", "profile"}, token.Scopes)
	assert.False(t, token.Expires.IsZero())

	token, err = storage.GetAccessToken(ctx, "client-token")
	require.NoError(t, err)
	assert.Empty(t, token.UserID)
	assert.Empty(t, token.Scopes)
	assert.True(t, token.Expires.IsZero())

	_, err = storage.GetAccessToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.Ping(ctx))
}

func TestPostgresStorage_GrantTypes(t *testing.T) {
	storage := setupPostgres(t)
	ctx := context.Background()

	cc, err := NewGrantType(GrantClientCredentials, storage, nil)
	require.NoError(t, err)
	grant, err := cc.ValidateRequest(ctx, GrantRequest{ClientID: "machine", ClientSecret: "machine-secret"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, grant.Scopes)

	ac, err := NewGrantType(GrantAuthorizationCode, storage, nil)
	require.NoError(t, err)
	grant, err = ac.ValidateRequest(ctx, GrantRequest{ClientID: "webapp", Code: "code-1", RedirectURI: "https://app.example.com/cb"})
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.UserID)
}
