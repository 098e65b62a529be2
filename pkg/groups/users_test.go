package groups_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

func ptr(s string) *string { return &s }

func TestSetAndGetUser(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.GetUser(ctx, member)
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	data := groups.User{UserNickname: ptr("maria"), IssuerNickname: ptr("Maria's Registry")}
	require.NoError(t, r.SetUser(ctx, member, data))

	got, err := r.GetUser(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Re-setting your own nicknames is fine.
	require.NoError(t, r.SetUser(ctx, member, data))
}

func TestSetUserUniqueNicknames(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.SetUser(ctx, member, groups.User{UserNickname: ptr("maria"), IssuerNickname: ptr("Registry")}))

	err := r.SetUser(ctx, stranger, groups.User{UserNickname: ptr("maria")})
	assert.ErrorIs(t, err, apierror.ErrAlreadyExists)
	assert.ErrorContains(t, err, "user nickname: maria")

	err = r.SetUser(ctx, stranger, groups.User{IssuerNickname: ptr("Registry")})
	assert.ErrorIs(t, err, apierror.ErrAlreadyExists)
	assert.ErrorContains(t, err, "issuer nickname: Registry")

	// A user nickname may equal someone else's issuer nickname.
	assert.NoError(t, r.SetUser(ctx, stranger, groups.User{UserNickname: ptr("Registry")}))
}

func TestUserOperationsRejectAnonymous(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	err := r.SetUser(ctx, principal.Anonymous, groups.User{UserNickname: ptr("x")})
	assert.ErrorIs(t, err, apierror.ErrNotAuthenticated)

	_, err = r.GetUser(ctx, principal.Anonymous)
	assert.ErrorIs(t, err, apierror.ErrNotAuthenticated)
}
