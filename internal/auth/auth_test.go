package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIdentity_CopiesAttributes(t *testing.T) {
	attrs := map[string]string{"client_id": "cli"}
	id := NewIdentity("alice", MechanismBasic, attrs)
	attrs["client_id"] = "changed"

	assert.Equal(t, "cli", id.Attribute("client_id"))
	assert.False(t, id.IsAnonymous())
	assert.Equal(t, "basic", id.Mechanism.String())
}

func TestAnonymous(t *testing.T) {
	assert.True(t, Anonymous().IsAnonymous())
	assert.Equal(t, MechanismNone, Anonymous().Mechanism)

	mutated := Anonymous()
	mutated.Subject = "mallory"
	mutated.Attributes["role"] = "admin"
	fresh := Anonymous()
	assert.NotSame(t, mutated, fresh)
	assert.Empty(t, fresh.Subject)
	assert.Empty(t, fresh.Attribute("role"))

	var nilIdentity *Identity
	assert.True(t, nilIdentity.IsAnonymous())
	assert.Equal(t, "", nilIdentity.Attribute("x"))
}

func TestAsFailure(t *testing.T) {
	cause := errors.New("bad password")

	vf := AsFailure("http", Invalid(cause))
	assert.Equal(t, "http", vf.Adapter)
	assert.Equal(t, InvalidCredentials, vf.Reason)
	assert.ErrorIs(t, &vf, cause)

	wrapped := fmt.Errorf("lookup: %w", &ValidationFailure{Adapter: "inner", Reason: MalformedCredentials})
	vf = AsFailure("outer", wrapped)
	assert.Equal(t, "inner", vf.Adapter)
	assert.Equal(t, MalformedCredentials, vf.Reason)

	vf = AsFailure("oauth2", errors.New("connection refused"))
	assert.Equal(t, BackendUnavailable, vf.Reason)
	assert.Equal(t, "oauth2: backend_unavailable: connection refused", vf.Error())
}

func TestIsContextError(t *testing.T) {
	assert.True(t, IsContextError(fmt.Errorf("lookup: %w", context.DeadlineExceeded)))
	assert.True(t, IsContextError(context.Canceled))
	assert.False(t, IsContextError(errors.New("boom")))
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, IdentityFromContext(ctx))

	id := NewIdentity("bob", MechanismOAuth2, nil)
	ctx = ContextWithIdentity(ctx, id)
	assert.Same(t, id, IdentityFromContext(ctx))
}
