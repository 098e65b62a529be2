// Package storage holds the durable state of the issuer: group records,
// user records and the single issuer configuration cell.
//
// Records are opaque encoded bytes. Decoding, and treating a record that fails
// to decode as corruption, is the caller's concern.
package storage

import (
	"context"
	"errors"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// GroupEntry is a stored group record and its key.
type GroupEntry struct {
	Name   string
	Owner  principal.ID
	Record []byte
}

// UserEntry is a stored user record and its key.
type UserEntry struct {
	ID     principal.ID
	Record []byte
}

// Store is the durable key-value area.
type Store interface {
	// Group returns the record for (name, owner) or ErrNotFound.
	Group(ctx context.Context, name string, owner principal.ID) ([]byte, error)
	// PutGroup inserts or replaces the record for (name, owner).
	PutGroup(ctx context.Context, name string, owner principal.ID, record []byte) error
	// Groups returns every group ordered by (name, owner).
	Groups(ctx context.Context) ([]GroupEntry, error)

	// User returns the record for id or ErrNotFound.
	User(ctx context.Context, id principal.ID) ([]byte, error)
	// PutUser inserts or replaces the record for id.
	PutUser(ctx context.Context, id principal.ID, record []byte) error
	// Users returns every user ordered by id.
	Users(ctx context.Context) ([]UserEntry, error)

	// Config returns the issuer configuration cell or ErrNotFound if it was never set.
	Config(ctx context.Context) ([]byte, error)
	// PutConfig replaces the issuer configuration cell.
	PutConfig(ctx context.Context, record []byte) error

	Close() error
}
