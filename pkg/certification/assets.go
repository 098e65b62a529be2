package certification

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
)

// Asset is a certified static file.
type Asset struct {
	Path        string
	ContentType string
	Content     []byte
}

// StaticAssets certifies static content by path. Its root is the asset half of
// the commitment root.
type StaticAssets struct {
	mu     sync.RWMutex
	assets map[string]Asset
	paths  []string
	root   []byte
}

// NewStaticAssets creates an empty asset set.
func NewStaticAssets() *StaticAssets {
	return &StaticAssets{
		assets: make(map[string]Asset),
		root:   rfc6962.DefaultHasher.EmptyRoot(),
	}
}

func assetLeaf(path string, content []byte) []byte {
	sum := sha256.Sum256(content)
	data := make([]byte, 0, len(path)+1+len(sum))
	data = append(data, path...)
	data = append(data, 0)
	data = append(data, sum[:]...)
	return rfc6962.DefaultHasher.HashLeaf(data)
}

// Add certifies content under path, replacing any previous asset there.
func (s *StaticAssets) Add(a Asset) error {
	if !strings.HasPrefix(a.Path, "/") {
		return fmt.Errorf("asset path %q must be absolute", a.Path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Content = slices.Clone(a.Content)
	s.assets[a.Path] = a
	return s.rebuild()
}

func (s *StaticAssets) leaves() [][]byte {
	leaves := make([][]byte, len(s.paths))
	for i, p := range s.paths {
		leaves[i] = assetLeaf(p, s.assets[p].Content)
	}
	return leaves
}

func (s *StaticAssets) rebuild() error {
	s.paths = s.paths[:0]
	for p := range s.assets {
		s.paths = append(s.paths, p)
	}
	slices.Sort(s.paths)
	root, err := treeRoot(s.leaves())
	if err != nil {
		return err
	}
	s.root = root
	return nil
}

// Get returns the asset at path.
func (s *StaticAssets) Get(path string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[path]
	return a, ok
}

// Root returns the asset tree root.
func (s *StaticAssets) Root() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.root)
}

// Witness returns the inclusion proof for the asset at path.
func (s *StaticAssets) Witness(path string) (Witness, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, found := slices.BinarySearch(s.paths, path)
	if !found {
		return Witness{}, false
	}
	return Witness{
		LeafIndex: uint64(idx),
		TreeSize:  uint64(len(s.paths)),
		Proof:     inclusionProof(idx, s.leaves()),
	}, true
}

// CertifiedAsset proves that an asset's content was committed to by the issuer.
type CertifiedAsset struct {
	Certificate string   `json:"certificate"`
	LeafIndex   uint64   `json:"leaf_index"`
	TreeSize    uint64   `json:"tree_size"`
	Proof       [][]byte `json:"proof"`
	SigRoot     []byte   `json:"sig_root"`
}

// VerifyCertifiedAsset checks content served at path against the issuer's certificate.
func VerifyCertifiedAsset(path string, content []byte, ca CertifiedAsset, key ed25519.PublicKey) (*Certificate, error) {
	cert, err := VerifyCertificate(ca.Certificate, key)
	if err != nil {
		return nil, err
	}
	assetRoot, err := proof.RootFromInclusionProof(rfc6962.DefaultHasher, ca.LeafIndex, ca.TreeSize, assetLeaf(path, content), ca.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: inclusion proof: %v", ErrInvalidCertificate, err)
	}
	if !bytes.Equal(CommitmentRoot(assetRoot, ca.SigRoot), cert.Root) {
		return nil, fmt.Errorf("%w: asset is not committed to by the certified root", ErrInvalidCertificate)
	}
	return cert, nil
}
