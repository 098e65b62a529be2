package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

type groupKey struct {
	name  string
	owner principal.ID
}

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[groupKey][]byte
	users  map[principal.ID][]byte
	config []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups: make(map[groupKey][]byte),
		users:  make(map[principal.ID][]byte),
	}
}

func (m *MemoryStore) Group(_ context.Context, name string, owner principal.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.groups[groupKey{name, owner}]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rec), nil
}

func (m *MemoryStore) PutGroup(_ context.Context, name string, owner principal.ID, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[groupKey{name, owner}] = slices.Clone(record)
	return nil
}

func (m *MemoryStore) Groups(_ context.Context) ([]GroupEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GroupEntry, 0, len(m.groups))
	for k, rec := range m.groups {
		out = append(out, GroupEntry{Name: k.name, Owner: k.owner, Record: slices.Clone(rec)})
	}
	slices.SortFunc(out, func(a, b GroupEntry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return principal.Compare(a.Owner, b.Owner)
	})
	return out, nil
}

func (m *MemoryStore) User(_ context.Context, id principal.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rec), nil
}

func (m *MemoryStore) PutUser(_ context.Context, id principal.ID, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = slices.Clone(record)
	return nil
}

func (m *MemoryStore) Users(_ context.Context) ([]UserEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UserEntry, 0, len(m.users))
	for id, rec := range m.users {
		out = append(out, UserEntry{ID: id, Record: slices.Clone(rec)})
	}
	slices.SortFunc(out, func(a, b UserEntry) int { return principal.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) Config(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, ErrNotFound
	}
	return slices.Clone(m.config), nil
}

func (m *MemoryStore) PutConfig(_ context.Context, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = slices.Clone(record)
	if m.config == nil {
		m.config = []byte{}
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
