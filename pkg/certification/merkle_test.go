package certification

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
)

func testLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		sum := sha256.Sum256([]byte(fmt.Sprintf("leaf-%d", i)))
		leaves[i] = rfc6962.DefaultHasher.HashLeaf(sum[:])
	}
	return leaves
}

func TestSplitPoint(t *testing.T) {
	for n, want := range map[int]int{2: 1, 3: 2, 4: 2, 5: 4, 8: 4, 9: 8, 17: 16} {
		assert.Equal(t, want, splitPoint(n), "n=%d", n)
	}
}

func TestTreeRootEmpty(t *testing.T) {
	root, err := treeRoot(nil)
	require.NoError(t, err)
	assert.Equal(t, rfc6962.DefaultHasher.EmptyRoot(), root)
}

func TestInclusionProofsVerify(t *testing.T) {
	for size := 1; size <= 17; size++ {
		leaves := testLeaves(size)
		root, err := treeRoot(leaves)
		require.NoError(t, err)
		assert.Equal(t, subtreeHash(leaves), root, "size %d", size)

		for idx := 0; idx < size; idx++ {
			p := inclusionProof(idx, leaves)
			err := proof.VerifyInclusion(rfc6962.DefaultHasher, uint64(idx), uint64(size), leaves[idx], p, root)
			assert.NoError(t, err, "size %d index %d", size, idx)
		}
	}
}
