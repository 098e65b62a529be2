package alias

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/registry"
)

// Errors describing why a single issuer rejected an assertion.
var (
	ErrMalformed        = errors.New("malformed alias assertion")
	ErrSignature        = errors.New("alias assertion signature does not verify")
	ErrWrongIssuer      = errors.New("alias assertion issuer mismatch")
	ErrWrongSubject     = errors.New("alias assertion subject mismatch")
	ErrWrongOrigin      = errors.New("alias assertion origin mismatch")
	ErrExpired          = errors.New("alias assertion expired")
	ErrNotYetValid      = errors.New("alias assertion not yet valid")
	ErrMissingPseudonym = errors.New("alias assertion has no id_alias")
)

// Checker is the contract the issuer engine depends on.
type Checker interface {
	Verify(ctx context.Context, token string, expected principal.ID, trusted []principal.ID, origin string, now time.Time) (Tuple, error)
}

// Verifier checks alias assertions against a set of trusted alias issuers.
type Verifier struct {
	resolver registry.KeyResolver
	logger   *zap.Logger
}

var _ Checker = (*Verifier)(nil)

// NewVerifier creates a Verifier. A nil logger discards output.
func NewVerifier(resolver registry.KeyResolver, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{resolver: resolver, logger: logger}
}

// Verify tries each trusted issuer in order and returns the binding from the
// first one that accepts the assertion. If none does the error is
// INVALID_ID_ALIAS. Verify never mutates state.
func (v *Verifier) Verify(ctx context.Context, token string, expected principal.ID, trusted []principal.ID, origin string, now time.Time) (Tuple, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		v.logger.Debug("alias assertion rejected", zap.Error(err))
		return Tuple{}, invalidAlias()
	}

	for _, issuer := range trusted {
		v.logger.Debug("checking id_alias",
			zap.Stringer("subject", expected),
			zap.Stringer("alias_issuer", issuer),
			zap.String("derivation_origin", origin))

		tuple, err := v.verifyWith(ctx, jws, issuer, expected, origin, now)
		if err == nil {
			return tuple, nil
		}
		v.logger.Debug("id_alias check failed",
			zap.Stringer("alias_issuer", issuer),
			zap.Error(err))
	}
	return Tuple{}, invalidAlias()
}

func invalidAlias() error {
	return apierror.New(apierror.CodeInvalidIDAlias, "id alias could not be verified")
}

func (v *Verifier) verifyWith(ctx context.Context, jws *jose.JSONWebSignature, issuer, expected principal.ID, origin string, now time.Time) (Tuple, error) {
	keys, err := v.resolver.PublicKeys(ctx, issuer)
	if err != nil {
		return Tuple{}, err
	}

	var payload []byte
	for _, key := range keys {
		if p, err := jws.Verify(key.Public()); err == nil {
			payload = p
			break
		}
	}
	if payload == nil {
		return Tuple{}, ErrSignature
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Tuple{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return checkClaims(&claims, issuer, expected, origin, now)
}

func checkClaims(c *Claims, issuer, expected principal.ID, origin string, now time.Time) (Tuple, error) {
	switch {
	case c.Issuer != issuer:
		return Tuple{}, fmt.Errorf("%w: got %s", ErrWrongIssuer, c.Issuer)
	case c.Subject != expected:
		return Tuple{}, fmt.Errorf("%w: got %s, want %s", ErrWrongSubject, c.Subject, expected)
	case c.Origin != origin:
		return Tuple{}, fmt.Errorf("%w: got %q, want %q", ErrWrongOrigin, c.Origin, origin)
	case c.IDAlias.IsAnonymous():
		return Tuple{}, ErrMissingPseudonym
	case c.Expiry == 0 || !now.Before(time.Unix(c.Expiry, 0)):
		return Tuple{}, ErrExpired
	case c.NotBefore != 0 && now.Before(time.Unix(c.NotBefore, 0)):
		return Tuple{}, ErrNotYetValid
	}
	return Tuple{IDAlias: c.IDAlias, IDDapp: c.Subject}, nil
}
