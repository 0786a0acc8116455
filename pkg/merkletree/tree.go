// Package merkletree builds OpenZeppelin-compatible Merkle trees over
// Keccak256 leaves: inner nodes hash the sibling pair in sorted order so
// that proof verification does not need to track left/right, and an odd
// trailing node at any level is propagated to the next level unchanged
// (it is not duplicated, unlike a classic Merkle tree). This matches the
// ROOT MerkleRoot verifier contract and the leaf ordering promised by
// spec.md section 4.6 / 8.
//
// Grounded on the teacher's pkg/merkle/tree.go (tree-by-levels structure,
// proof construction) generalized to Keccak256 + sorted-pair hashing,
// the semantics actually used by original_source/relayer/src/merkle.rs
// (rs_merkle Keccak256Algorithm::concat_and_hash).
package merkletree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEmptyTree is returned when attempting to build a tree from zero leaves.
var ErrEmptyTree = errors.New("merkletree: cannot build a tree from zero leaves")

// Leaf pairs an ordered key (e.g. a CHILD withdraw event index) with its
// 32-byte leaf hash.
type Leaf struct {
	Key  uint64
	Hash [32]byte
}

// Tree is an immutable Merkle tree built over an ordered leaf sequence.
type Tree struct {
	levels [][][32]byte // levels[0] = leaves, in the order they were given
	leaves []Leaf
}

// Build constructs a tree from leaves, preserving the caller's order.
// The caller is responsible for sorting leaves by ascending key first,
// since the root depends on leaf order (spec.md section 8: "the ordered
// leaf sequence whose event indices equal the affected-id set").
func Build(leaves []Leaf) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = l.Hash
	}
	levels := [][][32]byte{level}
	for len(level) > 1 {
		level = nextLevel(level)
		levels = append(levels, level)
	}
	cp := make([]Leaf, len(leaves))
	copy(cp, leaves)
	return &Tree{levels: levels, leaves: cp}, nil
}

func nextLevel(level [][32]byte) [][32]byte {
	out := make([][32]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			out = append(out, hashPair(level[i], level[i+1]))
		} else {
			// Odd node propagates unchanged to the next level.
			out = append(out, level[i])
		}
	}
	return out
}

// hashPair hashes two sibling nodes after sorting them, so proof
// verification order-independently reproduces the same parent.
func hashPair(a, b [32]byte) [32]byte {
	var buf [64]byte
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(buf[:32], a[:])
		copy(buf[32:], b[:])
	} else {
		copy(buf[:32], b[:])
		copy(buf[32:], a[:])
	}
	return crypto.Keccak256Hash(buf[:])
}

// Root returns the tree's root hash.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves in the tree.
func (t *Tree) Len() int { return len(t.leaves) }

// ProofNode is one step of an inclusion proof: a sibling hash and
// whether it sits to the left or right of the accumulated node.
type ProofNode struct {
	Hash  [32]byte
	Left  bool // true if this sibling is to the left of the running hash
}

// Proof is an ordered list of sibling hashes from a leaf up to the root.
type Proof struct {
	LeafIndex int
	Nodes     []ProofNode
}

// ErrLeafNotFound is returned by ProofForKey when no leaf with the given
// key is present in the tree.
var ErrLeafNotFound = errors.New("merkletree: leaf not found")

// ProofForKey builds an inclusion proof for the leaf with the given key.
func (t *Tree) ProofForKey(key uint64) (Proof, error) {
	idx := -1
	for i, l := range t.leaves {
		if l.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Proof{}, fmt.Errorf("%w: key %d", ErrLeafNotFound, key)
	}
	return t.proofForIndex(idx), nil
}

func (t *Tree) proofForIndex(idx int) Proof {
	nodes := make([]ProofNode, 0, len(t.levels))
	pos := idx
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		var siblingIdx int
		var isLeft bool
		if pos%2 == 0 {
			siblingIdx = pos + 1
			isLeft = false
		} else {
			siblingIdx = pos - 1
			isLeft = true
		}
		if siblingIdx < len(cur) {
			nodes = append(nodes, ProofNode{Hash: cur[siblingIdx], Left: isLeft})
		}
		// else: pos was the odd trailing node, propagated unchanged —
		// no sibling hashed in at this level.
		pos /= 2
	}
	return Proof{LeafIndex: idx, Nodes: nodes}
}

// Verify reports whether proof proves that leafHash is included under root.
func Verify(root [32]byte, leafHash [32]byte, proof Proof) bool {
	acc := leafHash
	for _, n := range proof.Nodes {
		if n.Left {
			acc = hashPair(n.Hash, acc)
		} else {
			acc = hashPair(acc, n.Hash)
		}
	}
	return acc == root
}
