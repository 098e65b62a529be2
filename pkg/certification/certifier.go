package certification

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// CertificateType is the JWS typ header of commitment certificates.
const CertificateType = "metaissuer-cert+jws"

// ErrInvalidCertificate is returned when a certificate fails verification.
var ErrInvalidCertificate = errors.New("invalid commitment certificate")

// Certificate is the signed statement "root was the issuer's commitment at Time".
type Certificate struct {
	Root   []byte `json:"root"`
	Time   int64  `json:"time"`
	Issuer string `json:"iss"`
}

// IssuedAt returns the certification time.
func (c *Certificate) IssuedAt() time.Time {
	return time.Unix(0, c.Time)
}

// Certifier signs commitment roots with the issuer's Ed25519 key.
type Certifier struct {
	issuer string
	signer jose.Signer
}

// NewCertifier creates a certifier. keyID is placed in the JWS kid header.
func NewCertifier(key ed25519.PrivateKey, keyID, issuer string) (*Certifier, error) {
	opts := (&jose.SignerOptions{}).WithType(CertificateType)
	if keyID != "" {
		opts = opts.WithHeader("kid", keyID)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: key}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &Certifier{issuer: issuer, signer: signer}, nil
}

// Certify signs root as of now and returns the compact JWS certificate.
func (c *Certifier) Certify(root []byte, now time.Time) (string, error) {
	payload, err := json.Marshal(Certificate{Root: root, Time: now.UnixNano(), Issuer: c.issuer})
	if err != nil {
		return "", fmt.Errorf("failed to marshal certificate: %w", err)
	}
	jws, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign certificate: %w", err)
	}
	return jws.CompactSerialize()
}

// VerifyCertificate checks a certificate's signature against the issuer key.
func VerifyCertificate(token string, key ed25519.PublicKey) (*Certificate, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	payload, err := jws.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	var cert Certificate
	if err := json.Unmarshal(payload, &cert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return &cert, nil
}
