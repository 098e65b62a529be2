package api

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/did"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// CallerTokenType is the JWS typ header of caller bearer tokens.
const CallerTokenType = "metaissuer-caller+jws"

// ErrInvalidCallerToken is returned for bearer tokens that fail verification.
var ErrInvalidCallerToken = errors.New("invalid caller token")

// CallerClaims is the payload of a caller bearer token. The token is signed
// with the key embedded in the did:key subject.
type CallerClaims struct {
	Subject  principal.ID `json:"sub"`
	IssuedAt int64        `json:"iat"`
	Expiry   int64        `json:"exp"`
}

// NewCallerToken signs a bearer token proving control of key's did:key.
func NewCallerToken(key ed25519.PrivateKey, now time.Time, ttl time.Duration) (string, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("not an Ed25519 key")
	}
	claims := CallerClaims{
		Subject:  principal.ID(did.NewKeyDID(pub)),
		IssuedAt: now.Unix(),
		Expiry:   now.Add(ttl).Unix(),
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: key},
		(&jose.SignerOptions{}).WithType(CallerTokenType))
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return jws.CompactSerialize()
}

// VerifyCallerToken returns the caller a bearer token authenticates.
// Tokens older than maxAge or past their exp are rejected.
func VerifyCallerToken(token string, now time.Time, maxAge time.Duration) (principal.ID, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return principal.Anonymous, fmt.Errorf("%w: %v", ErrInvalidCallerToken, err)
	}
	var unsafe CallerClaims
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &unsafe); err != nil {
		return principal.Anonymous, fmt.Errorf("%w: %v", ErrInvalidCallerToken, err)
	}
	pub, err := did.PublicKeyFromKeyDID(string(unsafe.Subject))
	if err != nil {
		return principal.Anonymous, fmt.Errorf("%w: %v", ErrInvalidCallerToken, err)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return principal.Anonymous, fmt.Errorf("%w: %v", ErrInvalidCallerToken, err)
	}
	var claims CallerClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return principal.Anonymous, fmt.Errorf("%w: %v", ErrInvalidCallerToken, err)
	}

	iat := time.Unix(claims.IssuedAt, 0)
	switch {
	case claims.IssuedAt == 0 || iat.After(now.Add(time.Minute)):
		return principal.Anonymous, fmt.Errorf("%w: bad iat", ErrInvalidCallerToken)
	case now.Sub(iat) > maxAge:
		return principal.Anonymous, fmt.Errorf("%w: token too old", ErrInvalidCallerToken)
	case claims.Expiry != 0 && !now.Before(time.Unix(claims.Expiry, 0)):
		return principal.Anonymous, fmt.Errorf("%w: token expired", ErrInvalidCallerToken)
	}
	return claims.Subject, nil
}

type callerKey struct{}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller principal.ID) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the authenticated caller, or Anonymous.
func CallerFromContext(ctx context.Context) principal.ID {
	id, _ := ctx.Value(callerKey{}).(principal.ID)
	return id
}

// authenticate resolves the Authorization header into the request caller.
// No header means Anonymous; a header that does not verify is rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), principal.Anonymous)))
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.writeError(w, r, notAuthenticated("authorization header must be a bearer token"))
			return
		}
		caller, err := VerifyCallerToken(strings.TrimSpace(token), s.now(), s.tokenMaxAge)
		if err != nil {
			s.log(r).Debug("caller token rejected")
			s.writeError(w, r, notAuthenticated(err.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
