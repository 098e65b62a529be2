package credential_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/certification"
	"github.com/capiscio/meta-issuer/pkg/credential"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

const pseudonym principal.ID = "did:web:alias.example:rp"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ageSpec(n int32) catalog.Spec {
	return catalog.Spec{
		CredentialType: catalog.TypeVerifiedAge,
		Arguments:      catalog.Arguments{"ageAtLeast": catalog.IntValue(n)},
	}
}

type fixture struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return fixture{pub: pub, priv: priv}
}

// issue builds jwt, certifies its digest together with extra digests and returns the JWS and the certified root.
func (f fixture) issue(t *testing.T, spec catalog.Spec, extra int) (string, []byte) {
	t.Helper()
	jwt, err := credential.Build(credential.Params{Spec: spec, Subject: pseudonym, IssuerKey: f.pub, KeyID: "issuer-1", Now: now})
	require.NoError(t, err)
	digest, err := credential.Digest(jwt)
	require.NoError(t, err)

	sigs := certification.NewSignatureMap(certification.SignatureMapConfig{})
	require.NoError(t, sigs.Add(digest, now))
	for i := 0; i < extra; i++ {
		require.NoError(t, sigs.Add(certification.SigningDigest("other", nil, []byte{byte(i)}), now))
	}
	assets := certification.NewStaticAssets()
	require.NoError(t, assets.Add(certification.Asset{Path: "/index.html", Content: []byte("<html/>")}))

	root := certification.CommitmentRoot(assets.Root(), sigs.Root())
	certifier, err := certification.NewCertifier(f.priv, "issuer-1", credential.DefaultIssuerURL)
	require.NoError(t, err)
	cert, err := certifier.Certify(root, now)
	require.NoError(t, err)
	sigs.MarkFinalized()

	w, err := sigs.Witness(digest, now)
	require.NoError(t, err)
	token, err := credential.Assemble(jwt, certification.CertifiedSignature{
		Certificate: cert,
		LeafIndex:   w.LeafIndex,
		TreeSize:    w.TreeSize,
		Proof:       w.Proof,
		AssetRoot:   assets.Root(),
	})
	require.NoError(t, err)
	return token, root
}

func at(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestBuildShape(t *testing.T) {
	f := newFixture(t)
	jwt, err := credential.Build(credential.Params{Spec: ageSpec(18), Subject: pseudonym, IssuerKey: f.pub, Now: now})
	require.NoError(t, err)

	parts := strings.Split(jwt, ".")
	require.Len(t, parts, 2)

	var payload map[string]any
	data, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.Equal(t, credential.DefaultIssuerURL, payload["iss"])
	assert.Equal(t, string(pseudonym), payload["sub"])
	assert.Equal(t, float64(now.Add(15*time.Minute).Unix()), payload["exp"])
	assert.Equal(t,
		"data:text/plain;charset=UTF-8,issuer:https://metaissuer.vc,timestamp_ns:"+
			"1772366400000000000,subject:"+string(pseudonym),
		payload["jti"])

	vc := payload["vc"].(map[string]any)
	assert.Equal(t, []any{credential.Context}, vc["@context"])
	assert.Equal(t, []any{"VerifiableCredential", "VerifiedAge"}, vc["type"])
	assert.Equal(t, map[string]any{
		"id":          string(pseudonym),
		"VerifiedAge": map[string]any{"ageAtLeast": float64(18)},
	}, vc["credentialSubject"])

	header, claims, err := credential.Parse(jwt)
	require.NoError(t, err)
	assert.Equal(t, credential.Algorithm, header.Algorithm)
	assert.Equal(t, "JWT", header.Type)
	assert.Equal(t, f.pub, header.JWK.Key)

	spec, err := claims.Spec()
	require.NoError(t, err)
	assert.True(t, spec.Equal(ageSpec(18)))
}

func TestBuildWithoutArguments(t *testing.T) {
	f := newFixture(t)
	spec := catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity}
	jwt, err := credential.Build(credential.Params{Spec: spec, Subject: pseudonym, IssuerKey: f.pub, Now: now})
	require.NoError(t, err)

	_, claims, err := credential.Parse(jwt)
	require.NoError(t, err)
	got, err := claims.Spec()
	require.NoError(t, err)
	assert.True(t, got.Equal(spec))
}

func TestBuildRejects(t *testing.T) {
	f := newFixture(t)
	_, err := credential.Build(credential.Params{Spec: ageSpec(18), IssuerKey: f.pub, Now: now})
	assert.Error(t, err)
	_, err = credential.Build(credential.Params{Spec: ageSpec(18), Subject: pseudonym, Now: now})
	assert.Error(t, err)
}

func TestVerifyRoundTrip(t *testing.T) {
	f := newFixture(t)
	for _, extra := range []int{0, 1, 6} {
		token, root := f.issue(t, ageSpec(18), extra)
		spec := ageSpec(18)

		res, err := credential.Verify(token, credential.VerifyOptions{
			IssuerKey:     f.pub,
			PublishedRoot: root,
			Spec:          &spec,
			Now:           at(now.Add(time.Minute)),
		})
		require.NoError(t, err, "extra=%d", extra)
		assert.Equal(t, pseudonym, res.Claims.Subject)
		assert.Equal(t, root, res.Certificate.Root)
		assert.Equal(t, now.UnixNano(), res.Certificate.IssuedAt().UnixNano())
	}
}

func TestVerifyFailures(t *testing.T) {
	f := newFixture(t)
	other := newFixture(t)
	token, root := f.issue(t, ageSpec(18), 2)

	t.Run("wrong issuer key", func(t *testing.T) {
		_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: other.pub, Now: at(now)})
		assert.ErrorIs(t, err, credential.ErrKeyMismatch)
	})

	t.Run("no issuer key", func(t *testing.T) {
		_, err := credential.Verify(token, credential.VerifyOptions{Now: at(now)})
		assert.ErrorIs(t, err, credential.ErrKeyMismatch)
	})

	t.Run("other published root", func(t *testing.T) {
		bad := append([]byte{}, root...)
		bad[0] ^= 0xff
		_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, PublishedRoot: bad, Now: at(now)})
		assert.ErrorIs(t, err, credential.ErrRootMismatch)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, Now: at(now.Add(16 * time.Minute))})
		assert.ErrorIs(t, err, credential.ErrExpired)

		_, err = credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, SkipExpiryCheck: true, Now: at(now.Add(time.Hour))})
		assert.NoError(t, err)
	})

	t.Run("not yet valid", func(t *testing.T) {
		_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, Now: at(now.Add(-time.Minute))})
		assert.ErrorIs(t, err, credential.ErrNotYetValid)
	})

	t.Run("different spec", func(t *testing.T) {
		spec := ageSpec(21)
		_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, Spec: &spec, Now: at(now)})
		assert.ErrorIs(t, err, credential.ErrClaimsInvalid)
	})

	t.Run("unexpected issuer url", func(t *testing.T) {
		_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, IssuerURL: "https://other.example", Now: at(now)})
		assert.ErrorIs(t, err, credential.ErrClaimsInvalid)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		forged, err := credential.Build(credential.Params{Spec: ageSpec(99), Subject: pseudonym, IssuerKey: f.pub, KeyID: "issuer-1", Now: now})
		require.NoError(t, err)
		tampered := forged + "." + parts[2]
		_, err = credential.Verify(tampered, credential.VerifyOptions{IssuerKey: f.pub, Now: at(now)})
		assert.ErrorIs(t, err, credential.ErrSignatureInvalid)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, tok := range []string{"", "abc", "a.b.c", "a.b"} {
			_, err := credential.Verify(tok, credential.VerifyOptions{IssuerKey: f.pub, Now: at(now)})
			assert.ErrorIs(t, err, credential.ErrMalformed, tok)
		}
	})
}

func TestVerifyRejectsHeaderChanges(t *testing.T) {
	f := newFixture(t)
	token, _ := f.issue(t, ageSpec(18), 0)
	parts := strings.Split(token, ".")

	tests := []struct {
		name   string
		mutate func(h map[string]any)
	}{
		{"plain EdDSA algorithm", func(h map[string]any) { h["alg"] = "EdDSA" }},
		{"no algorithm", func(h map[string]any) { delete(h, "alg") }},
		{"no seed", func(h map[string]any) { delete(h, "seed") }},
		{"numeric seed", func(h map[string]any) { h["seed"] = 7 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := base64.RawURLEncoding.DecodeString(parts[0])
			require.NoError(t, err)
			var h map[string]any
			require.NoError(t, json.Unmarshal(raw, &h))
			tc.mutate(h)
			out, err := json.Marshal(h)
			require.NoError(t, err)

			changed := base64.RawURLEncoding.EncodeToString(out) + "." + parts[1] + "." + parts[2]
			_, err = credential.Verify(changed, credential.VerifyOptions{IssuerKey: f.pub, Now: at(now)})
			assert.ErrorIs(t, err, credential.ErrMalformed)
		})
	}
}

func TestParseRejectsSignedToken(t *testing.T) {
	f := newFixture(t)
	token, _ := f.issue(t, ageSpec(18), 0)
	_, _, err := credential.Parse(token)
	assert.ErrorIs(t, err, credential.ErrMalformed)
}

func TestVerifyErrorsUseIssuerCodes(t *testing.T) {
	f := newFixture(t)
	token, _ := f.issue(t, ageSpec(18), 0)

	_, err := credential.Verify(token, credential.VerifyOptions{IssuerKey: f.pub, Now: at(now.Add(time.Hour))})
	require.Error(t, err)
	apiErr, ok := apierror.AsError(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeCredentialExpired, apiErr.Code)
	assert.Equal(t, http.StatusUnauthorized, apierror.HTTPStatus(apiErr.Code))

	_, err = credential.Verify("a.b", credential.VerifyOptions{IssuerKey: f.pub, Now: at(now)})
	assert.Equal(t, apierror.CodeCredentialMalformed, apierror.GetErrorCode(err))
}

func TestSubjectRejectsNonIntegers(t *testing.T) {
	var s credential.Subject
	err := json.Unmarshal([]byte(`{"id":"x","VerifiedAge":{"ageAtLeast":18.5}}`), &s)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"id":"x","A":{},"B":{}}`), &s)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","VerifiedResidence":{"countryName":"CH"}}`), &s))
	assert.Equal(t, catalog.Arguments{"countryName": catalog.StringValue("CH")}, s.Arguments)
}
