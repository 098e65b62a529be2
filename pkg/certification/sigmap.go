package certification

import (
	"bytes"
	"slices"
	"time"

	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/capiscio/meta-issuer/pkg/apierror"
)

// DefaultSignatureTTL is how long a prepared signature stays retrievable.
const DefaultSignatureTTL = time.Minute

// State is the lifecycle state of a pending signature.
type State int

// Entries move Requested -> Finalized -> Retrieved and never back.
// Expiry removes an entry from any state.
const (
	Requested State = iota
	Finalized
	Retrieved
)

func (s State) String() string {
	switch s {
	case Requested:
		return "Requested"
	case Finalized:
		return "Finalized"
	case Retrieved:
		return "Retrieved"
	default:
		return "unknown"
	}
}

// SignatureMapConfig configures a SignatureMap.
type SignatureMapConfig struct {
	// TTL is the entry lifetime (default: DefaultSignatureTTL).
	TTL time.Duration

	// MaxEntries bounds the map; the entry closest to expiry is evicted first (0 = unlimited).
	MaxEntries int
}

type sigEntry struct {
	leaf      []byte
	expiresAt time.Time
	state     State
}

// SignatureMap holds pending signatures keyed by signing digest and
// maintains the Merkle root over them. It is not safe for concurrent use.
type SignatureMap struct {
	config  SignatureMapConfig
	entries map[Digest]*sigEntry
	order   []Digest
	root    []byte
}

// NewSignatureMap creates an empty map.
func NewSignatureMap(config SignatureMapConfig) *SignatureMap {
	if config.TTL <= 0 {
		config.TTL = DefaultSignatureTTL
	}
	return &SignatureMap{
		config:  config,
		entries: make(map[Digest]*sigEntry),
		root:    rfc6962.DefaultHasher.EmptyRoot(),
	}
}

// Add prunes expired entries, registers d as Requested and recomputes the root.
// Adding a digest that is already present restarts its lifetime.
func (m *SignatureMap) Add(d Digest, now time.Time) error {
	m.prune(now)
	if _, ok := m.entries[d]; !ok && m.config.MaxEntries > 0 && len(m.entries) >= m.config.MaxEntries {
		m.evictOldest()
	}
	m.entries[d] = &sigEntry{
		leaf:      rfc6962.DefaultHasher.HashLeaf(d[:]),
		expiresAt: now.Add(m.config.TTL),
		state:     Requested,
	}
	return m.rebuild()
}

// Prune removes expired entries and recomputes the root if anything changed.
// It returns the number of removed entries.
func (m *SignatureMap) Prune(now time.Time) (int, error) {
	n := m.prune(now)
	if n == 0 {
		return 0, nil
	}
	return n, m.rebuild()
}

func (m *SignatureMap) prune(now time.Time) int {
	n := 0
	for d, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, d)
			n++
		}
	}
	return n
}

func (m *SignatureMap) evictOldest() {
	var (
		oldest Digest
		found  bool
		at     time.Time
	)
	for d, e := range m.entries {
		if !found || e.expiresAt.Before(at) {
			oldest, at, found = d, e.expiresAt, true
		}
	}
	if found {
		delete(m.entries, oldest)
	}
}

func (m *SignatureMap) rebuild() error {
	m.order = m.order[:0]
	for d := range m.entries {
		m.order = append(m.order, d)
	}
	slices.SortFunc(m.order, func(a, b Digest) int { return bytes.Compare(a[:], b[:]) })

	leaves := make([][]byte, len(m.order))
	for i, d := range m.order {
		leaves[i] = m.entries[d].leaf
	}
	root, err := treeRoot(leaves)
	if err != nil {
		return apierror.Internal("compute signature root", err)
	}
	m.root = root
	return nil
}

// Clone returns an independent copy of m. Changes to the copy, including
// entry states, do not affect m.
func (m *SignatureMap) Clone() *SignatureMap {
	c := &SignatureMap{
		config:  m.config,
		entries: make(map[Digest]*sigEntry, len(m.entries)),
		order:   slices.Clone(m.order),
		root:    slices.Clone(m.root),
	}
	for d, e := range m.entries {
		cp := *e
		c.entries[d] = &cp
	}
	return c
}

// MarkFinalized moves every Requested entry to Finalized. Call it once the
// current root has been certified.
func (m *SignatureMap) MarkFinalized() {
	for _, e := range m.entries {
		if e.state == Requested {
			e.state = Finalized
		}
	}
}

// Root returns the current Merkle root.
func (m *SignatureMap) Root() []byte {
	return slices.Clone(m.root)
}

// Len returns the number of entries, expired or not.
func (m *SignatureMap) Len() int {
	return len(m.entries)
}

// State returns the lifecycle state of d.
func (m *SignatureMap) State(d Digest) (State, bool) {
	e, ok := m.entries[d]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Witness proves that d is committed to by the current root.
type Witness struct {
	LeafIndex uint64
	TreeSize  uint64
	Proof     [][]byte
}

// Witness returns the inclusion proof for d and marks it Retrieved. It fails
// with SIGNATURE_NOT_FOUND if d was never prepared, is not yet certified, or
// has expired. It does not prune, so the certified root stays valid.
func (m *SignatureMap) Witness(d Digest, now time.Time) (Witness, error) {
	e, ok := m.entries[d]
	if !ok || e.state == Requested || !now.Before(e.expiresAt) {
		return Witness{}, apierror.New(apierror.CodeSignatureNotFound, "signature not prepared or expired")
	}
	idx, found := slices.BinarySearchFunc(m.order, d, func(a, b Digest) int { return bytes.Compare(a[:], b[:]) })
	if !found {
		return Witness{}, apierror.Internal("signature index out of sync", nil)
	}

	leaves := make([][]byte, len(m.order))
	for i, od := range m.order {
		leaves[i] = m.entries[od].leaf
	}
	e.state = Retrieved
	return Witness{
		LeafIndex: uint64(idx),
		TreeSize:  uint64(len(leaves)),
		Proof:     inclusionProof(idx, leaves),
	}, nil
}
