package credential

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/certification"
)

// VerifyOptions configures credential verification.
type VerifyOptions struct {
	// IssuerKey is the issuer's declared public key. Required: the key in the
	// token header must equal it.
	IssuerKey ed25519.PublicKey

	// IssuerURL is the expected iss claim. Defaults to DefaultIssuerURL.
	IssuerURL string

	// PublishedRoot, if set, must equal the root in the signature's certificate.
	PublishedRoot []byte

	// Spec, if set, must equal the spec the credential attests.
	Spec *catalog.Spec

	// SkipExpiryCheck disables the exp/nbf checks.
	SkipExpiryCheck bool

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// Result is a verified credential.
type Result struct {
	Header      *Header
	Claims      *Claims
	Spec        catalog.Spec
	Certificate *certification.Certificate
}

// Verify checks a credential JWS offline.
func Verify(token string, opts VerifyOptions) (*Result, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	issuerURL := opts.IssuerURL
	if issuerURL == "" {
		issuerURL = DefaultIssuerURL
	}
	if len(opts.IssuerKey) != ed25519.PublicKeySize {
		return nil, apierror.New(apierror.CodeCredentialKeyMismatch, "no issuer key to verify against")
	}

	// Step 1: decode
	jws, err := parseCompact(token)
	if err != nil {
		return nil, err
	}
	header, claims, err := decodeJWS(jws)
	if err != nil {
		return nil, err
	}
	// The digest covers header.payload exactly as received, not a re-serialization.
	jwt := token[:strings.LastIndexByte(token, '.')]

	// Step 2: header
	if header.Algorithm != Algorithm {
		return nil, apierror.New(apierror.CodeCredentialMalformed, fmt.Sprintf("unsupported algorithm: %s", header.Algorithm))
	}
	if header.JWK == nil {
		return nil, apierror.New(apierror.CodeCredentialMalformed, "header has no jwk")
	}
	declared, ok := header.JWK.Key.(ed25519.PublicKey)
	if !ok || !bytes.Equal(declared, opts.IssuerKey) {
		return nil, ErrKeyMismatch
	}

	// Step 3: certified signature
	sig, err := certification.UnmarshalCertifiedSignature(jws.Signatures[0].Signature)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeCredentialMalformed, "invalid signature segment", err)
	}
	digest, err := Digest(jwt)
	if err != nil {
		return nil, err
	}
	cert, err := certification.VerifyCertifiedSignature(digest, sig, opts.IssuerKey)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeCredentialSignatureInvalid, "signature verification failed", err)
	}
	if opts.PublishedRoot != nil && !bytes.Equal(cert.Root, opts.PublishedRoot) {
		return nil, ErrRootMismatch
	}

	// Step 4: claims
	if claims.Issuer != issuerURL {
		return nil, apierror.New(apierror.CodeCredentialClaimsInvalid, fmt.Sprintf("unexpected issuer %q", claims.Issuer))
	}
	if claims.Subject.IsAnonymous() || string(claims.Subject) != claims.VC.CredentialSubject.ID {
		return nil, apierror.New(apierror.CodeCredentialClaimsInvalid, "subject does not match credentialSubject.id")
	}
	spec, err := claims.Spec()
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeCredentialClaimsInvalid, "invalid vc", err)
	}
	if opts.Spec != nil && !opts.Spec.Equal(spec) {
		return nil, apierror.New(apierror.CodeCredentialClaimsInvalid, "credential does not attest the expected spec")
	}
	if !opts.SkipExpiryCheck {
		t := now()
		if !t.Before(time.Unix(claims.Expiry, 0)) {
			return nil, ErrExpired
		}
		if t.Before(time.Unix(claims.NotBefore, 0)) {
			return nil, ErrNotYetValid
		}
	}

	return &Result{Header: header, Claims: claims, Spec: spec, Certificate: cert}, nil
}
