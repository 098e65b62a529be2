package certification

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
)

// CertifiedSignature proves that a signing digest was committed to by the
// issuer. It replaces a conventional signature over the digest.
type CertifiedSignature struct {
	Certificate string   `json:"certificate"`
	LeafIndex   uint64   `json:"leaf_index"`
	TreeSize    uint64   `json:"tree_size"`
	Proof       [][]byte `json:"proof"`
	AssetRoot   []byte   `json:"asset_root"`
}

// Encode returns the base64url (unpadded) JSON encoding of s.
func (s CertifiedSignature) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal certified signature: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCertifiedSignature parses the output of Encode.
func DecodeCertifiedSignature(encoded string) (CertifiedSignature, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return CertifiedSignature{}, fmt.Errorf("decode certified signature: %w", err)
	}
	return UnmarshalCertifiedSignature(data)
}

// UnmarshalCertifiedSignature parses the JSON form of a certified signature,
// as carried in the decoded signature segment of a JWS.
func UnmarshalCertifiedSignature(data []byte) (CertifiedSignature, error) {
	var s CertifiedSignature
	if err := json.Unmarshal(data, &s); err != nil {
		return CertifiedSignature{}, fmt.Errorf("decode certified signature: %w", err)
	}
	return s, nil
}

// VerifyCertifiedSignature checks that digest is included under the signature
// root that, combined with the asset root, the issuer certified. It returns
// the verified certificate.
func VerifyCertifiedSignature(digest Digest, sig CertifiedSignature, key ed25519.PublicKey) (*Certificate, error) {
	cert, err := VerifyCertificate(sig.Certificate, key)
	if err != nil {
		return nil, err
	}
	leaf := rfc6962.DefaultHasher.HashLeaf(digest[:])
	sigRoot, err := proof.RootFromInclusionProof(rfc6962.DefaultHasher, sig.LeafIndex, sig.TreeSize, leaf, sig.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: inclusion proof: %v", ErrInvalidCertificate, err)
	}
	if !bytes.Equal(CommitmentRoot(sig.AssetRoot, sigRoot), cert.Root) {
		return nil, fmt.Errorf("%w: digest is not committed to by the certified root", ErrInvalidCertificate)
	}
	return cert, nil
}
