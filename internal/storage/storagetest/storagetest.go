// Package storagetest is a conformance suite for storage.Store implementations.
package storagetest

import (
	"context"
	"testing"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice principal.ID = "did:web:alice.example"
	bob   principal.ID = "did:web:bob.example"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("missing records", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Group(ctx, "Verified Age", alice)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.User(ctx, alice)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.Config(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		groups, err := s.Groups(ctx)
		require.NoError(t, err)
		assert.Empty(t, groups)
	})

	t.Run("groups keyed by name and owner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutGroup(ctx, "Verified Age", bob, []byte(`{"b":1}`)))
		require.NoError(t, s.PutGroup(ctx, "Verified Age", alice, []byte(`{"a":1}`)))
		require.NoError(t, s.PutGroup(ctx, "Book Club", bob, []byte(`{"c":1}`)))

		rec, err := s.Group(ctx, "Verified Age", alice)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(rec))

		require.NoError(t, s.PutGroup(ctx, "Verified Age", alice, []byte(`{"a":2}`)))
		rec, err = s.Group(ctx, "Verified Age", alice)
		require.NoError(t, err)
		assert.Equal(t, `{"a":2}`, string(rec))

		groups, err := s.Groups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 3)
		assert.Equal(t, "Book Club", groups[0].Name)
		assert.Equal(t, alice, groups[1].Owner)
		assert.Equal(t, bob, groups[2].Owner)
	})

	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutUser(ctx, bob, []byte(`bob`)))
		require.NoError(t, s.PutUser(ctx, alice, []byte(`alice`)))

		rec, err := s.User(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, "bob", string(rec))

		users, err := s.Users(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, alice, users[0].ID)
		assert.Equal(t, "alice", string(users[0].Record))
	})

	t.Run("config cell", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutConfig(ctx, []byte(`v1`)))
		require.NoError(t, s.PutConfig(ctx, []byte(`v2`)))
		rec, err := s.Config(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(rec))
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutUser(ctx, alice, []byte(`alice`)))
		rec, err := s.User(ctx, alice)
		require.NoError(t, err)
		rec[0] = 'X'

		rec, err = s.User(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "alice", string(rec))
	})
}
