package merkleworker

import (
	"math/big"
	"testing"
	"time"

	"github.com/rootchild-bridge/relayer/pkg/store"
)

func TestNewWorker_SeedsLeavesFromSnapshot(t *testing.T) {
	unset := []store.PendingWithdrawal{
		{EventIndex: 1, LeafHash: [32]byte{0x01}},
		{EventIndex: 2, LeafHash: [32]byte{0x02}},
	}
	w := NewWorker(nil, Config{}, unset, 0, false, nil)
	if w.LeafCount() != 2 {
		t.Errorf("LeafCount() = %d, want 2", w.LeafCount())
	}
}

func TestNewWorker_ResumesPendingAttempt(t *testing.T) {
	resume := &store.PendingMerkleUpdate{
		Root:        [32]byte{0xaa},
		AffectedIDs: []uint64{1, 2, 3},
		Nonce:       5,
		Variants: []store.RootTransaction{
			{Hash: [32]byte{0xbb}, Nonce: 5, GasPrice: big.NewInt(10)},
		},
	}
	w := NewWorker(nil, Config{}, nil, 0, false, resume)
	if w.pending == nil {
		t.Fatal("expected a resumed pending attempt, got nil")
	}
	if len(w.pending.variants) != 1 || w.pending.variants[0].hash != resume.Variants[0].Hash {
		t.Errorf("pending.variants = %+v, want one variant with hash %x", w.pending.variants, resume.Variants[0].Hash)
	}
	if w.pending.nonce != 5 {
		t.Errorf("pending.nonce = %d, want 5", w.pending.nonce)
	}
	if len(w.pending.affected) != 3 {
		t.Errorf("pending.affected = %v, want 3 entries", w.pending.affected)
	}
}

func TestNewWorker_ResumesMultipleEscalationVariants(t *testing.T) {
	resume := &store.PendingMerkleUpdate{
		Root:        [32]byte{0xaa},
		AffectedIDs: []uint64{1},
		Nonce:       5,
		Variants: []store.RootTransaction{
			{Hash: [32]byte{0xbb}, Nonce: 5, GasPrice: big.NewInt(10)},
			{Hash: [32]byte{0xcc}, Nonce: 5, GasPrice: big.NewInt(15)},
		},
	}
	w := NewWorker(nil, Config{}, nil, 0, false, resume)
	if len(w.pending.variants) != 2 {
		t.Fatalf("pending.variants = %+v, want 2 entries", w.pending.variants)
	}
	if w.pending.variants[0].hash != resume.Variants[0].Hash || w.pending.variants[1].hash != resume.Variants[1].Hash {
		t.Errorf("pending.variants out of order: %+v", w.pending.variants)
	}
}

func TestAddLeaf_BelowHighWatermarkIsDropped(t *testing.T) {
	w := NewWorker(nil, Config{}, nil, 100, true, nil)
	w.AddLeaf(50, [32]byte{0x01})
	if w.LeafCount() != 0 {
		t.Errorf("LeafCount() = %d, want 0: a leaf at or below the approved high watermark must not be re-added", w.LeafCount())
	}
}

func TestAddLeaf_AboveHighWatermarkIsKept(t *testing.T) {
	w := NewWorker(nil, Config{}, nil, 100, true, nil)
	w.AddLeaf(101, [32]byte{0x01})
	if w.LeafCount() != 1 {
		t.Errorf("LeafCount() = %d, want 1", w.LeafCount())
	}
}

func TestAddLeaf_NoHighWatermarkYetAlwaysKeeps(t *testing.T) {
	w := NewWorker(nil, Config{}, nil, 0, false, nil)
	w.AddLeaf(0, [32]byte{0x01})
	if w.LeafCount() != 1 {
		t.Errorf("LeafCount() = %d, want 1: with no approved high watermark yet, every leaf is unset", w.LeafCount())
	}
}

func TestTick_NoLeavesAndNoPendingIsNoop(t *testing.T) {
	w := NewWorker(nil, Config{EscalationInterval: time.Second}, nil, 0, false, nil)
	if err := w.Tick(nil); err != nil {
		t.Errorf("Tick on an empty worker should be a no-op, got %v", err)
	}
}
