package alias_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiscio/meta-issuer/pkg/alias"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/did"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/registry"
	"github.com/capiscio/meta-issuer/pkg/trust"
)

const origin = "https://rp.example"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type identity struct {
	id  principal.ID
	key ed25519.PrivateKey
}

func newIdentity(t *testing.T) identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return identity{id: principal.ID(did.NewKeyDID(pub)), key: priv}
}

func issue(t *testing.T, idp identity, mutate func(*alias.Claims)) (string, alias.Claims) {
	t.Helper()
	claims := alias.Claims{
		Issuer:   idp.id,
		Subject:  "did:web:dapp-user.example",
		IDAlias:  "did:web:alias.example:rp",
		Origin:   origin,
		IssuedAt: now.Add(-time.Minute).Unix(),
		Expiry:   now.Add(10 * time.Minute).Unix(),
	}
	if mutate != nil {
		mutate(&claims)
	}
	token, err := alias.Issue(claims, idp.key, "")
	require.NoError(t, err)
	return token, claims
}

func TestVerifyAcceptsTrustedIssuer(t *testing.T) {
	idp := newIdentity(t)
	token, claims := issue(t, idp, nil)
	v := alias.NewVerifier(registry.DIDKeyRegistry{}, nil)

	tuple, err := v.Verify(context.Background(), token, claims.Subject, []principal.ID{idp.id}, origin, now)
	require.NoError(t, err)
	assert.Equal(t, claims.IDAlias, tuple.IDAlias)
	assert.Equal(t, claims.Subject, tuple.IDDapp)
}

func TestVerifyTriesIssuersInOrder(t *testing.T) {
	other := newIdentity(t)
	idp := newIdentity(t)
	token, claims := issue(t, idp, nil)
	v := alias.NewVerifier(registry.DIDKeyRegistry{}, nil)

	trusted := []principal.ID{"did:web:unresolvable.example", other.id, idp.id}
	tuple, err := v.Verify(context.Background(), token, claims.Subject, trusted, origin, now)
	require.NoError(t, err)
	assert.Equal(t, claims.IDAlias, tuple.IDAlias)
}

func TestVerifyWithTrustStore(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	idp := identity{id: "did:web:idp.example", key: priv}

	store, err := trust.NewMemoryStore(trust.Root{})
	require.NoError(t, err)
	require.NoError(t, store.Add(idp.id, jose.JSONWebKey{Key: pub, Algorithm: string(jose.EdDSA)}))

	token, claims := issue(t, idp, nil)
	v := alias.NewVerifier(registry.NewTrustRegistry(store), nil)
	_, err = v.Verify(context.Background(), token, claims.Subject, []principal.ID{idp.id}, origin, now)
	assert.NoError(t, err)
}

func TestVerifyRejects(t *testing.T) {
	idp := newIdentity(t)
	impostor := newIdentity(t)

	tests := []struct {
		name     string
		token    func() string
		expected principal.ID
		trusted  []principal.ID
		origin   string
		now      time.Time
	}{
		{
			name:  "garbage",
			token: func() string { return "not-a-jws" },
		},
		{
			name:    "untrusted issuer",
			token:   func() string { tok, _ := issue(t, idp, nil); return tok },
			trusted: []principal.ID{impostor.id},
		},
		{
			name: "signed by another key",
			token: func() string {
				tok, _ := issue(t, impostor, func(c *alias.Claims) { c.Issuer = idp.id })
				return tok
			},
		},
		{
			name:     "wrong subject",
			token:    func() string { tok, _ := issue(t, idp, nil); return tok },
			expected: "did:web:someone-else.example",
		},
		{
			name:   "wrong origin",
			token:  func() string { tok, _ := issue(t, idp, nil); return tok },
			origin: "https://evil.example",
		},
		{
			name:  "expired",
			token: func() string { tok, _ := issue(t, idp, nil); return tok },
			now:   now.Add(time.Hour),
		},
		{
			name: "not yet valid",
			token: func() string {
				tok, _ := issue(t, idp, func(c *alias.Claims) { c.NotBefore = now.Add(time.Minute).Unix() })
				return tok
			},
		},
		{
			name: "no pseudonym",
			token: func() string {
				tok, _ := issue(t, idp, func(c *alias.Claims) { c.IDAlias = "" })
				return tok
			},
		},
		{
			name:    "no trusted issuers",
			token:   func() string { tok, _ := issue(t, idp, nil); return tok },
			trusted: []principal.ID{},
		},
	}

	v := alias.NewVerifier(registry.DIDKeyRegistry{}, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expected := tc.expected
			if expected == "" {
				expected = "did:web:dapp-user.example"
			}
			trusted := tc.trusted
			if trusted == nil {
				trusted = []principal.ID{idp.id}
			}
			o := tc.origin
			if o == "" {
				o = origin
			}
			at := tc.now
			if at.IsZero() {
				at = now
			}

			_, err := v.Verify(context.Background(), tc.token(), expected, trusted, o, at)
			require.Error(t, err)
			assert.ErrorIs(t, err, apierror.ErrInvalidIDAlias)
		})
	}
}

func TestIssueFillsDefaults(t *testing.T) {
	idp := newIdentity(t)
	token, err := alias.Issue(alias.Claims{
		Issuer:  idp.id,
		Subject: "did:web:dapp-user.example",
		IDAlias: "did:web:alias.example",
		Origin:  origin,
	}, idp.key, "kid-1")
	require.NoError(t, err)

	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	require.NoError(t, err)
	assert.Equal(t, "kid-1", jws.Signatures[0].Header.KeyID)
	assert.Equal(t, alias.AssertionType, jws.Signatures[0].Header.ExtraHeaders[jose.HeaderType])

	v := alias.NewVerifier(registry.DIDKeyRegistry{}, nil)
	_, err = v.Verify(context.Background(), token, "did:web:dapp-user.example", []principal.ID{idp.id}, origin, time.Now())
	assert.NoError(t, err)
}
