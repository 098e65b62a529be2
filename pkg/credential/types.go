// Package credential builds and verifies the JWT verifiable credentials
// signed through certified signatures.
//
// A credential is a compact JWS whose signature segment is an encoded
// certification.CertifiedSignature instead of a conventional signature. The
// header declares the issuer key (jwk) and the signing seed; a verifier
// recomputes the signing digest from the header and payload and checks that
// the digest is committed to by a root certified with that key.
package credential

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

const (
	// Algorithm is the JWS alg of certified credentials.
	Algorithm = "CertEdDSA"

	// SigningDomain separates credential digests from other certified digests.
	SigningDomain = "vc_signing_input"

	// DefaultIssuerURL is the iss claim of issued credentials.
	DefaultIssuerURL = "https://metaissuer.vc"

	// Context is the W3C VC data model context.
	Context = "https://www.w3.org/2018/credentials/v1"

	// BaseType is the first entry of every credential's type list.
	BaseType = "VerifiableCredential"

	// IDPrefix prefixes the data: URL used as credential id.
	IDPrefix = "data:text/plain;charset=UTF-8,"

	// Validity is the lifetime of an issued credential.
	Validity = 15 * time.Minute

	headerSeed jose.HeaderKey = "seed"
)

// DefaultSeed returns the seed under which the issuer signs credentials.
func DefaultSeed() []byte {
	s := sha256.Sum256([]byte("MetaIssuer"))
	return s[:]
}

// Header is the protected JWS header of a credential.
type Header struct {
	Algorithm string           `json:"alg"`
	Type      string           `json:"typ"`
	KeyID     string           `json:"kid,omitempty"`
	JWK       *jose.JSONWebKey `json:"jwk"`
	// Seed is base64url (unpadded).
	Seed string `json:"seed"`
}

// Claims are the JWT claims of a credential.
type Claims struct {
	Issuer    string       `json:"iss"`
	Subject   principal.ID `json:"sub"`
	JTI       string       `json:"jti"`
	IssuedAt  int64        `json:"iat"`
	NotBefore int64        `json:"nbf"`
	Expiry    int64        `json:"exp"`
	VC        VC           `json:"vc"`
}

// VC is the W3C verifiable credential object embedded in the JWT.
type VC struct {
	Context           []string `json:"@context"`
	Type              []string `json:"type"`
	CredentialSubject Subject  `json:"credentialSubject"`
}

// Subject renders as {"id": ..., "<Type>": {<arguments>}}.
type Subject struct {
	ID        string
	Type      string
	Arguments catalog.Arguments
}

// MarshalJSON implements json.Marshaler.
func (s Subject) MarshalJSON() ([]byte, error) {
	args := make(map[string]any, len(s.Arguments))
	for k, v := range s.Arguments {
		if n, ok := v.AsInt(); ok {
			args[k] = n
		} else {
			str, _ := v.AsString()
			args[k] = str
		}
	}
	return json.Marshal(map[string]any{"id": s.ID, s.Type: args})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Subject) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idRaw, ok := raw["id"]
	if !ok {
		return fmt.Errorf("credentialSubject has no id")
	}
	if err := json.Unmarshal(idRaw, &s.ID); err != nil {
		return fmt.Errorf("credentialSubject id: %w", err)
	}
	delete(raw, "id")
	if len(raw) != 1 {
		return fmt.Errorf("credentialSubject must have exactly one claim, got %d", len(raw))
	}
	for typ, body := range raw {
		s.Type = typ
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return fmt.Errorf("credentialSubject %s: %w", typ, err)
		}
		if len(fields) == 0 {
			s.Arguments = nil
			return nil
		}
		s.Arguments = make(catalog.Arguments, len(fields))
		for k, v := range fields {
			switch val := v.(type) {
			case string:
				s.Arguments[k] = catalog.StringValue(val)
			case float64:
				if val != math.Trunc(val) || val < math.MinInt32 || val > math.MaxInt32 {
					return fmt.Errorf("credentialSubject %s.%s is not an int32", typ, k)
				}
				s.Arguments[k] = catalog.IntValue(int32(val))
			default:
				return fmt.Errorf("credentialSubject %s.%s has unsupported type %T", typ, k, v)
			}
		}
	}
	return nil
}

// Spec returns the credential spec the claims attest.
func (c *Claims) Spec() (catalog.Spec, error) {
	if len(c.VC.Type) != 2 || c.VC.Type[0] != BaseType {
		return catalog.Spec{}, fmt.Errorf("unexpected credential type list %v", c.VC.Type)
	}
	if c.VC.Type[1] != c.VC.CredentialSubject.Type {
		return catalog.Spec{}, fmt.Errorf("credential type %s does not match subject claim %s", c.VC.Type[1], c.VC.CredentialSubject.Type)
	}
	return catalog.Spec{
		CredentialType: c.VC.Type[1],
		Arguments:      c.VC.CredentialSubject.Arguments.Clone(),
	}, nil
}
