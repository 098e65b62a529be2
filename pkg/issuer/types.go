package issuer

import (
	"github.com/go-jose/go-jose/v4"

	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// SignedIDAlias carries the alias assertion issued by an alias issuer.
type SignedIDAlias struct {
	CredentialJWS string `json:"credential_jws"`
}

// PrepareCredentialRequest asks the issuer to prepare a credential.
// Owner may be omitted if the spec carries the owner argument.
type PrepareCredentialRequest struct {
	CredentialSpec catalog.Spec  `json:"credential_spec"`
	Owner          principal.ID  `json:"owner,omitempty"`
	SignedIDAlias  SignedIDAlias `json:"signed_id_alias"`
}

// PreparedCredential is returned by PrepareCredential.
type PreparedCredential struct {
	// PreparedContext is opaque to the client and must be passed back to GetCredential.
	PreparedContext string `json:"prepared_context"`
}

// GetCredentialRequest retrieves a prepared credential.
type GetCredentialRequest struct {
	CredentialSpec  catalog.Spec  `json:"credential_spec"`
	Owner           principal.ID  `json:"owner,omitempty"`
	SignedIDAlias   SignedIDAlias `json:"signed_id_alias"`
	PreparedContext string        `json:"prepared_context"`
}

// IssuedCredential is the signed credential.
type IssuedCredential struct {
	VCJWS string `json:"vc_jws"`
}

// ConsentRequest asks for the consent text of a spec.
type ConsentRequest struct {
	CredentialSpec catalog.Spec `json:"credential_spec"`
	Owner          principal.ID `json:"owner,omitempty"`
}

// DerivationOriginData is the origin alias assertions are derived for.
type DerivationOriginData struct {
	Origin string `json:"origin"`
}

// CertifiedData is the issuer's current published commitment.
type CertifiedData struct {
	Certificate   string          `json:"certificate"`
	Root          []byte          `json:"root"`
	AssetRoot     []byte          `json:"asset_root"`
	SignatureRoot []byte          `json:"signature_root"`
	IssuerKey     jose.JSONWebKey `json:"issuer_key"`
	IssuerURL     string          `json:"issuer_url"`
}
