// Package registry resolves the public keys that alias issuers sign with.
package registry

import (
	"context"
	"errors"

	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

// ErrUnknownIssuer is returned when a resolver has no keys for an issuer.
var ErrUnknownIssuer = errors.New("unknown issuer")

// KeyResolver resolves an issuer identity to the keys it signs with.
type KeyResolver interface {
	// PublicKeys returns the issuer's current public keys.
	// Returns ErrUnknownIssuer if the resolver has no keys for it.
	PublicKeys(ctx context.Context, issuer principal.ID) ([]jose.JSONWebKey, error)
}

// Chain tries each resolver in order and returns the first non-empty answer.
type Chain []KeyResolver

// PublicKeys implements KeyResolver.
func (c Chain) PublicKeys(ctx context.Context, issuer principal.ID) ([]jose.JSONWebKey, error) {
	var errs []error
	for _, r := range c {
		keys, err := r.PublicKeys(ctx, issuer)
		if err == nil && len(keys) > 0 {
			return keys, nil
		}
		if err != nil && !errors.Is(err, ErrUnknownIssuer) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrUnknownIssuer}, errs...)...)
	}
	return nil, ErrUnknownIssuer
}
