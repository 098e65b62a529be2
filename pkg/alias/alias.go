// Package alias verifies signed identity-alias assertions.
//
// An alias issuer attests that a real identity (sub) may present itself to a
// relying party under a pseudonym (id_alias). The issuer checks that
// assertion before it signs anything for the pseudonym.
package alias

import (
	"crypto"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

// AssertionType is the JWS typ header of alias assertions.
const AssertionType = "id-alias+jws"

// DefaultValidity is the lifetime Issue gives an assertion without an explicit expiry.
const DefaultValidity = 15 * time.Minute

// Claims is the payload of a signed alias assertion.
type Claims struct {
	JTI       string       `json:"jti,omitempty"`
	Issuer    principal.ID `json:"iss"`
	Subject   principal.ID `json:"sub"`
	IDAlias   principal.ID `json:"id_alias"`
	Origin    string       `json:"origin"`
	IssuedAt  int64        `json:"iat"`
	NotBefore int64        `json:"nbf,omitempty"`
	Expiry    int64        `json:"exp"`
}

// Tuple is the verified binding between a pseudonym and a real identity.
type Tuple struct {
	IDAlias principal.ID `json:"id_alias"`
	IDDapp  principal.ID `json:"id_dapp"`
}

// Issue signs claims with key and returns the compact JWS.
// Missing jti, iat and exp are filled in.
func Issue(claims Claims, key crypto.PrivateKey, keyID string) (string, error) {
	if claims.JTI == "" {
		claims.JTI = uuid.NewString()
	}
	if claims.IssuedAt == 0 {
		claims.IssuedAt = time.Now().Unix()
	}
	if claims.Expiry == 0 {
		claims.Expiry = time.Unix(claims.IssuedAt, 0).Add(DefaultValidity).Unix()
	}

	opts := (&jose.SignerOptions{}).WithType(AssertionType)
	if keyID != "" {
		opts = opts.WithHeader("kid", keyID)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: key}, opts)
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
