package certification

import (
	"fmt"
	"math/bits"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

var rangeFactory = &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}

// treeRoot returns the RFC 6962 root over leaf hashes.
func treeRoot(leaves [][]byte) ([]byte, error) {
	r := rangeFactory.NewEmptyRange(0)
	for _, l := range leaves {
		if err := r.Append(l, nil); err != nil {
			return nil, fmt.Errorf("append leaf: %w", err)
		}
	}
	root, err := r.GetRootHash(nil)
	if err != nil {
		return nil, fmt.Errorf("compute root: %w", err)
	}
	if root == nil {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	return root, nil
}

// inclusionProof returns the RFC 6962 audit path for leaves[index], leaf to root.
func inclusionProof(index int, leaves [][]byte) [][]byte {
	n := len(leaves)
	if n <= 1 {
		return nil
	}
	k := splitPoint(n)
	if index < k {
		return append(inclusionProof(index, leaves[:k]), subtreeHash(leaves[k:]))
	}
	return append(inclusionProof(index-k, leaves[k:]), subtreeHash(leaves[:k]))
}

func subtreeHash(leaves [][]byte) []byte {
	switch len(leaves) {
	case 0:
		return rfc6962.DefaultHasher.EmptyRoot()
	case 1:
		return leaves[0]
	}
	k := splitPoint(len(leaves))
	return rfc6962.DefaultHasher.HashChildren(subtreeHash(leaves[:k]), subtreeHash(leaves[k:]))
}

// splitPoint is the largest power of two strictly less than n (n > 1).
func splitPoint(n int) int {
	return 1 << (bits.Len(uint(n-1)) - 1)
}
