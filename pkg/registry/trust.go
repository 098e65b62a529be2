package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/did"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/trust"
)

// TrustRegistry resolves keys from a local trust store, so verification
// works offline.
type TrustRegistry struct {
	store trust.Store
}

// NewTrustRegistry creates a resolver backed by store.
func NewTrustRegistry(store trust.Store) *TrustRegistry {
	return &TrustRegistry{store: store}
}

// PublicKeys implements KeyResolver.
func (r *TrustRegistry) PublicKeys(_ context.Context, issuer principal.ID) ([]jose.JSONWebKey, error) {
	keys, err := r.store.Keys(issuer)
	if errors.Is(err, trust.ErrIssuerNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIssuer, issuer)
	}
	if err != nil {
		return nil, fmt.Errorf("trust store: %w", err)
	}
	return keys, nil
}

// DIDKeyRegistry resolves did:key issuers to the key embedded in the identifier.
// Whether such an issuer is trusted at all is decided by the caller.
type DIDKeyRegistry struct{}

// PublicKeys implements KeyResolver.
func (DIDKeyRegistry) PublicKeys(_ context.Context, issuer principal.ID) ([]jose.JSONWebKey, error) {
	parsed, err := did.Parse(string(issuer))
	if err != nil || !parsed.IsKeyDID() {
		return nil, fmt.Errorf("%w: %s is not a did:key", ErrUnknownIssuer, issuer)
	}
	return []jose.JSONWebKey{{
		Key:       ed25519.PublicKey(parsed.PublicKey),
		KeyID:     string(issuer),
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	}}, nil
}
