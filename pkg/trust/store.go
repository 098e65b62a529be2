// Package trust holds the root of trust for identity-alias verification: the
// public keys each trusted alias issuer signs its assertions with.
package trust

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

// Common errors returned by this package.
var (
	ErrKeyNotFound    = errors.New("key not found in trust store")
	ErrIssuerNotFound = errors.New("issuer not found in trust store")
	ErrInvalidKey     = errors.New("invalid key format")
)

// Root is the serializable trust root: each alias issuer's key set.
type Root struct {
	Issuers map[principal.ID]jose.JSONWebKeySet `json:"issuers"`
}

// Store is the interface for a trust store.
type Store interface {
	// Add trusts key for assertions from issuer.
	Add(issuer principal.ID, key jose.JSONWebKey) error

	// Keys returns every key trusted for issuer.
	Keys(issuer principal.ID) ([]jose.JSONWebKey, error)

	// Issuers lists the issuers with at least one key, sorted.
	Issuers() ([]principal.ID, error)

	// Remove stops trusting the key kid for issuer.
	Remove(issuer principal.ID, kid string) error

	// Root exports the store contents.
	Root() (Root, error)
}

// normalizeKey validates key and assigns its RFC 7638 thumbprint as kid if it has none.
func normalizeKey(key jose.JSONWebKey) (jose.JSONWebKey, error) {
	if key.Key == nil || !key.Valid() {
		return key, fmt.Errorf("%w: not a usable key", ErrInvalidKey)
	}
	if !key.IsPublic() {
		key = key.Public()
	}
	if key.KeyID == "" {
		tp, err := key.Thumbprint(crypto.SHA256)
		if err != nil {
			return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		key.KeyID = base64.RawURLEncoding.EncodeToString(tp)
	}
	return key, nil
}

// MemoryStore is a Store held in memory, typically built from a Root.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[principal.ID][]jose.JSONWebKey
}

// NewMemoryStore creates a store pre-populated from root.
func NewMemoryStore(root Root) (*MemoryStore, error) {
	s := &MemoryStore{keys: make(map[principal.ID][]jose.JSONWebKey)}
	for issuer, set := range root.Issuers {
		for _, k := range set.Keys {
			if err := s.Add(issuer, k); err != nil {
				return nil, fmt.Errorf("issuer %s: %w", issuer, err)
			}
		}
	}
	return s, nil
}

// Replace swaps the whole content of the store for root. On error the
// store is left unchanged.
func (s *MemoryStore) Replace(root Root) error {
	next, err := NewMemoryStore(root)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = next.keys
	return nil
}

func (s *MemoryStore) Add(issuer principal.ID, key jose.JSONWebKey) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := slices.DeleteFunc(s.keys[issuer], func(k jose.JSONWebKey) bool { return k.KeyID == key.KeyID })
	s.keys[issuer] = append(keys, key)
	return nil
}

func (s *MemoryStore) Keys(issuer principal.ID) ([]jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.keys[issuer]
	if len(keys) == 0 {
		return nil, ErrIssuerNotFound
	}
	return slices.Clone(keys), nil
}

func (s *MemoryStore) Issuers() ([]principal.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.keys)), nil
}

func (s *MemoryStore) Remove(issuer principal.ID, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.keys[issuer]
	i := slices.IndexFunc(keys, func(k jose.JSONWebKey) bool { return k.KeyID == kid })
	if i < 0 {
		return ErrKeyNotFound
	}
	keys = slices.Delete(keys, i, i+1)
	if len(keys) == 0 {
		delete(s.keys, issuer)
	} else {
		s.keys[issuer] = keys
	}
	return nil
}

func (s *MemoryStore) Root() (Root, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root := Root{Issuers: make(map[principal.ID]jose.JSONWebKeySet, len(s.keys))}
	for issuer, keys := range s.keys {
		root.Issuers[issuer] = jose.JSONWebKeySet{Keys: slices.Clone(keys)}
	}
	return root, nil
}

// FileStore implements Store on the filesystem: one .jwk file per key and an
// issuers.json file mapping each issuer to its key ids.
// Default location: ~/.metaissuer/trust/
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// DefaultTrustDir returns the default trust store directory.
func DefaultTrustDir() string {
	if envPath := os.Getenv("METAISSUER_TRUST_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".metaissuer/trust"
	}
	return filepath.Join(home, ".metaissuer", "trust")
}

// NewFileStore creates a file-based trust store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultTrustDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create trust directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) keyPath(kid string) string {
	return filepath.Join(s.dir, sanitizeFilename(kid)+".jwk")
}

func (s *FileStore) issuersPath() string {
	return filepath.Join(s.dir, "issuers.json")
}

func (s *FileStore) Add(issuer principal.ID, key jose.JSONWebKey) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(key.KeyID), data, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	if !slices.Contains(issuers[issuer], key.KeyID) {
		issuers[issuer] = append(issuers[issuer], key.KeyID)
	}
	return s.saveIssuers(issuers)
}

func (s *FileStore) Keys(issuer principal.ID) ([]jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return nil, err
	}
	kids := issuers[issuer]
	if len(kids) == 0 {
		return nil, ErrIssuerNotFound
	}

	keys := make([]jose.JSONWebKey, 0, len(kids))
	for _, kid := range kids {
		key, err := s.readKey(kid)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %w", issuer, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *FileStore) Issuers() ([]principal.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(issuers)), nil
}

// Remove unmaps kid from issuer and deletes the key file once no issuer references it.
func (s *FileStore) Remove(issuer principal.ID, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	kids := issuers[issuer]
	i := slices.Index(kids, kid)
	if i < 0 {
		return ErrKeyNotFound
	}
	kids = slices.Delete(kids, i, i+1)
	if len(kids) == 0 {
		delete(issuers, issuer)
	} else {
		issuers[issuer] = kids
	}
	if err := s.saveIssuers(issuers); err != nil {
		return err
	}

	for _, other := range issuers {
		if slices.Contains(other, kid) {
			return nil
		}
	}
	if err := os.Remove(s.keyPath(kid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	return nil
}

func (s *FileStore) Root() (Root, error) {
	issuers, err := s.Issuers()
	if err != nil {
		return Root{}, err
	}
	root := Root{Issuers: make(map[principal.ID]jose.JSONWebKeySet, len(issuers))}
	for _, issuer := range issuers {
		keys, err := s.Keys(issuer)
		if err != nil {
			return Root{}, err
		}
		root.Issuers[issuer] = jose.JSONWebKeySet{Keys: keys}
	}
	return root, nil
}

// AddFromJWKS trusts every key of jwks for issuer.
func (s *FileStore) AddFromJWKS(jwks *jose.JSONWebKeySet, issuer principal.ID) error {
	for _, key := range jwks.Keys {
		if err := s.Add(issuer, key); err != nil {
			return fmt.Errorf("failed to add key %s: %w", key.KeyID, err)
		}
	}
	return nil
}

func (s *FileStore) readKey(kid string) (jose.JSONWebKey, error) {
	data, err := os.ReadFile(s.keyPath(kid))
	if os.IsNotExist(err) {
		return jose.JSONWebKey{}, ErrKeyNotFound
	}
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("failed to read key: %w", err)
	}
	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// loadIssuers returns the issuer mapping; a missing file is an empty mapping.
func (s *FileStore) loadIssuers() (map[principal.ID][]string, error) {
	data, err := os.ReadFile(s.issuersPath())
	if os.IsNotExist(err) {
		return make(map[principal.ID][]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read issuers file: %w", err)
	}
	issuers := make(map[principal.ID][]string)
	if err := json.Unmarshal(data, &issuers); err != nil {
		return nil, fmt.Errorf("failed to parse issuers file: %w", err)
	}
	return issuers, nil
}

func (s *FileStore) saveIssuers(issuers map[principal.ID][]string) error {
	data, err := json.MarshalIndent(issuers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal issuers: %w", err)
	}
	if err := os.WriteFile(s.issuersPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write issuers file: %w", err)
	}
	return nil
}

func sanitizeFilename(kid string) string {
	safe := make([]byte, 0, len(kid))
	for _, c := range []byte(kid) {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			safe = append(safe, '_')
		default:
			safe = append(safe, c)
		}
	}
	return string(safe)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
