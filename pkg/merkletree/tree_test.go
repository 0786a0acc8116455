package merkletree

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func hashOf(s string) [32]byte {
	return crypto.Keccak256Hash([]byte(s))
}

func TestBuild_SingleLeaf(t *testing.T) {
	leaf := hashOf("leaf-0")
	tree, err := Build([]Leaf{{Key: 0, Hash: leaf}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tree.Root() != leaf {
		t.Errorf("single-leaf root = %x, want leaf hash %x", tree.Root(), leaf)
	}
	if tree.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tree.Len())
	}
}

func TestBuild_EmptyIsError(t *testing.T) {
	if _, err := Build(nil); err != ErrEmptyTree {
		t.Errorf("Build(nil) error = %v, want ErrEmptyTree", err)
	}
}

func TestBuild_TwoLeaves_SortedPairHash(t *testing.T) {
	a, b := hashOf("leaf-a"), hashOf("leaf-b")
	tree, err := Build([]Leaf{{Key: 0, Hash: a}, {Key: 1, Hash: b}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := hashPair(a, b)
	if tree.Root() != want {
		t.Errorf("root = %x, want %x", tree.Root(), want)
	}
}

func TestBuild_OddLeafPropagatesUnchanged(t *testing.T) {
	a, b, c := hashOf("leaf-a"), hashOf("leaf-b"), hashOf("leaf-c")
	tree, err := Build([]Leaf{{Key: 0, Hash: a}, {Key: 1, Hash: b}, {Key: 2, Hash: c}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// level 1: [hash(a,b), c] (c propagates unchanged since it has no pair)
	level1 := hashPair(a, b)
	want := hashPair(level1, c)
	if tree.Root() != want {
		t.Errorf("root = %x, want %x", tree.Root(), want)
	}
}

func TestHashPair_OrderIndependent(t *testing.T) {
	a, b := hashOf("x"), hashOf("y")
	if hashPair(a, b) != hashPair(b, a) {
		t.Error("hashPair must be order-independent (min/max sorted)")
	}
}

func TestProofForKey_VerifiesAgainstRoot(t *testing.T) {
	leaves := make([]Leaf, 7)
	for i := range leaves {
		leaves[i] = Leaf{Key: uint64(i), Hash: hashOf(string(rune('a' + i)))}
	}
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	root := tree.Root()

	for _, l := range leaves {
		proof, err := tree.ProofForKey(l.Key)
		if err != nil {
			t.Fatalf("ProofForKey(%d): %v", l.Key, err)
		}
		if !Verify(root, l.Hash, proof) {
			t.Errorf("Verify failed for leaf key %d", l.Key)
		}
	}
}

func TestProofForKey_NotFound(t *testing.T) {
	tree, err := Build([]Leaf{{Key: 5, Hash: hashOf("only")}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := tree.ProofForKey(99); err == nil {
		t.Error("expected ErrLeafNotFound for an absent key")
	}
}

func TestVerify_TamperedLeafFails(t *testing.T) {
	a, b := hashOf("leaf-a"), hashOf("leaf-b")
	tree, err := Build([]Leaf{{Key: 0, Hash: a}, {Key: 1, Hash: b}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, err := tree.ProofForKey(0)
	if err != nil {
		t.Fatalf("ProofForKey: %v", err)
	}
	tampered := hashOf("not-leaf-a")
	if Verify(tree.Root(), tampered, proof) {
		t.Error("Verify should fail for a leaf hash that was not built into the tree")
	}
}

func TestBuild_LeafOrderAffectsRoot(t *testing.T) {
	a, b, c, d := hashOf("leaf-a"), hashOf("leaf-b"), hashOf("leaf-c"), hashOf("leaf-d")
	ascending, err := Build([]Leaf{{Key: 0, Hash: a}, {Key: 1, Hash: b}, {Key: 2, Hash: c}, {Key: 3, Hash: d}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	shuffled, err := Build([]Leaf{{Key: 2, Hash: c}, {Key: 0, Hash: a}, {Key: 3, Hash: d}, {Key: 1, Hash: b}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ascending.Root() == shuffled.Root() {
		t.Error("root must depend on leaf order; callers must sort by event index ascending before Build")
	}
}
