package credential

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/certification"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// Params describes a credential to build.
type Params struct {
	// Spec is the plain credential spec (no owner argument).
	Spec catalog.Spec

	// Subject is the pseudonym the credential is bound to.
	Subject principal.ID

	// IssuerURL defaults to DefaultIssuerURL.
	IssuerURL string

	// IssuerKey is declared in the header as jwk.
	IssuerKey ed25519.PublicKey
	KeyID     string

	// Seed defaults to DefaultSeed().
	Seed []byte

	Now time.Time
}

// ID returns the credential id for a subject issued at now.
func ID(issuerURL string, subject principal.ID, now time.Time) string {
	return fmt.Sprintf("%sissuer:%s,timestamp_ns:%d,subject:%s", IDPrefix, issuerURL, now.UnixNano(), subject)
}

// Build returns the unsigned JWT (header.payload) for p.
func Build(p Params) (string, error) {
	if p.Subject.IsAnonymous() {
		return "", fmt.Errorf("credential subject is required")
	}
	if len(p.IssuerKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("issuer key must be an Ed25519 public key")
	}
	if p.IssuerURL == "" {
		p.IssuerURL = DefaultIssuerURL
	}
	if p.Seed == nil {
		p.Seed = DefaultSeed()
	}

	header := Header{
		Algorithm: Algorithm,
		Type:      "JWT",
		KeyID:     p.KeyID,
		JWK:       &jose.JSONWebKey{Key: p.IssuerKey, Algorithm: string(jose.EdDSA), Use: "sig"},
		Seed:      base64.RawURLEncoding.EncodeToString(p.Seed),
	}
	claims := Claims{
		Issuer:    p.IssuerURL,
		Subject:   p.Subject,
		JTI:       ID(p.IssuerURL, p.Subject, p.Now),
		IssuedAt:  p.Now.Unix(),
		NotBefore: p.Now.Unix(),
		Expiry:    p.Now.Add(Validity).Unix(),
		VC: VC{
			Context: []string{Context},
			Type:    []string{BaseType, p.Spec.CredentialType},
			CredentialSubject: Subject{
				ID:        string(p.Subject),
				Type:      p.Spec.CredentialType,
				Arguments: p.Spec.Arguments.Clone(),
			},
		},
	}

	h, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header: %w", err)
	}
	c, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(h) + "." + base64.RawURLEncoding.EncodeToString(c), nil
}

// Parse decodes an unsigned JWT produced by Build.
func Parse(jwt string) (*Header, *Claims, error) {
	if _, err := SigningInput(jwt); err != nil {
		return nil, nil, err
	}
	// An empty signature segment makes header.payload a compact JWS.
	jws, err := parseCompact(jwt + ".")
	if err != nil {
		return nil, nil, err
	}
	return decodeJWS(jws)
}

func parseCompact(token string) (*jose.JSONWebSignature, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{Algorithm})
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeCredentialMalformed, "invalid compact serialization", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, apierror.New(apierror.CodeCredentialMalformed, "expected exactly one signature")
	}
	return jws, nil
}

// decodeJWS maps the protected header and payload of a parsed credential.
func decodeJWS(jws *jose.JSONWebSignature) (*Header, *Claims, error) {
	h := jws.Signatures[0].Header
	header := &Header{
		Algorithm: h.Algorithm,
		KeyID:     h.KeyID,
		JWK:       h.JSONWebKey,
	}
	if typ, ok := h.ExtraHeaders[jose.HeaderType].(string); ok {
		header.Type = typ
	}
	seed, ok := h.ExtraHeaders[headerSeed].(string)
	if !ok {
		return nil, nil, apierror.New(apierror.CodeCredentialMalformed, "header has no seed")
	}
	header.Seed = seed

	var claims Claims
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &claims); err != nil {
		return nil, nil, apierror.Wrap(apierror.CodeCredentialMalformed, "invalid claims", err)
	}
	return header, &claims, nil
}

// SigningInput returns the bytes that are certified for jwt.
func SigningInput(jwt string) ([]byte, error) {
	if strings.Count(jwt, ".") != 1 {
		return nil, apierror.New(apierror.CodeCredentialMalformed, "signing input must be header.payload")
	}
	return []byte(jwt), nil
}

// Digest returns the signing digest of jwt under the seed declared in its header.
func Digest(jwt string) (certification.Digest, error) {
	header, _, err := Parse(jwt)
	if err != nil {
		return certification.Digest{}, err
	}
	seed, err := base64.RawURLEncoding.DecodeString(header.Seed)
	if err != nil {
		return certification.Digest{}, apierror.Wrap(apierror.CodeCredentialMalformed, "invalid seed", err)
	}
	input, err := SigningInput(jwt)
	if err != nil {
		return certification.Digest{}, err
	}
	return certification.SigningDigest(SigningDomain, seed, input), nil
}

// Assemble appends the encoded certified signature to jwt.
func Assemble(jwt string, sig certification.CertifiedSignature) (string, error) {
	if _, err := SigningInput(jwt); err != nil {
		return "", err
	}
	encoded, err := sig.Encode()
	if err != nil {
		return "", err
	}
	return jwt + "." + encoded, nil
}
