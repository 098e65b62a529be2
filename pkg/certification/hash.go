// Package certification maintains the issuer's published state commitment.
//
// Pending credential signatures and static assets each form an RFC 6962
// Merkle tree. Their roots are combined into one commitment root, which the
// issuer signs with its Ed25519 key. A relying party holding the issuer's
// public key can check that a given signing digest was committed to at a
// given time without contacting the issuer.
package certification

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// Digest identifies a signing request.
type Digest [sha256.Size]byte

// Hex returns the lowercase hex encoding of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Domain separators for the combining hashes.
const (
	labeledDomain = "metaissuer-labeled"
	forkDomain    = "metaissuer-fork"
)

// LabelSignatures is the label the signature root is committed under.
const LabelSignatures = "sig"

// writePrefixed writes b preceded by its uvarint length.
func writePrefixed(h io.Writer, b []byte) {
	h.Write(binary.AppendUvarint(nil, uint64(len(b))))
	h.Write(b)
}

// SigningDigest binds message to a domain separator and the issuer's signing seed.
func SigningDigest(domain string, seed, message []byte) Digest {
	seedHash := sha256.Sum256(seed)
	h := sha256.New()
	writePrefixed(h, []byte(domain))
	h.Write(seedHash[:])
	h.Write(message)
	var d Digest
	h.Sum(d[:0])
	return d
}

// LabeledHash commits to h under label.
func LabeledHash(label string, h []byte) []byte {
	s := sha256.New()
	writePrefixed(s, []byte(labeledDomain))
	writePrefixed(s, []byte(label))
	s.Write(h)
	return s.Sum(nil)
}

// ForkHash commits to an ordered pair of hashes.
func ForkHash(left, right []byte) []byte {
	s := sha256.New()
	writePrefixed(s, []byte(forkDomain))
	s.Write(left)
	s.Write(right)
	return s.Sum(nil)
}

// CommitmentRoot combines the asset root and the signature root. The asset
// root always comes first; verifiers depend on this order.
func CommitmentRoot(assetRoot, sigRoot []byte) []byte {
	return ForkHash(assetRoot, LabeledHash(LabelSignatures, sigRoot))
}
