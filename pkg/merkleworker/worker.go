// Package merkleworker is the C6 component: it holds the in-memory set
// of CHILD withdraw leaves not yet covered by a set Merkle root, and
// periodically builds, sends, escalates, and confirms the ROOT
// setMerkleRoot transaction that covers them.
//
// Grounded directly on original_source/relayer/src/merkle.rs's
// MerkleSetterClient / ethereum_tx_sender_worker / wait_pending /
// send_ethereum_tx, translated from an Arc<Mutex<BTreeMap>> + tokio task
// into a single goroutine owning an unsynchronized map (nothing else
// touches it) driven by a time.Ticker, in the teacher's own
// pkg/batch/confirmation_tracker.go polling idiom.
package merkleworker

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/merkletree"
	"github.com/rootchild-bridge/relayer/pkg/rootchain"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

// Config controls the worker's tick cadence and gas policy.
type Config struct {
	UpdateInterval     time.Duration
	EscalationInterval time.Duration
	WarnDuration       time.Duration
	MaxGasPrice        *big.Int
	GasLimit           uint64
}

// Commands the worker asks the router to persist. The worker never
// writes to the database directly: C4 is the single writer.
type Command interface{ isCommand() }

// InsertRootMerkleTxCmd asks the router to record a freshly sent
// setMerkleRoot transaction.
type InsertRootMerkleTxCmd struct {
	Tx       store.RootTransaction
	Affected []uint64
}

// AddRootMerkleTxVariantCmd asks the router to record an additional
// gas-escalated variant of the in-flight update: same nonce and root as
// every sibling, a new hash and gas price. No sibling is marked missing
// here — that only happens once one variant actually confirms.
type AddRootMerkleTxVariantCmd struct {
	Tx store.RootTransaction
}

// FinalizeRootMerkleTxCmd asks the router to mark TxHash confirmed and
// every hash in Superseded (the sibling escalation variants that did
// not confirm) missing.
type FinalizeRootMerkleTxCmd struct {
	TxHash     [32]byte
	Root       [32]byte
	Superseded [][32]byte
}

// ReleaseRootMerkleTxCmd asks the router to release an update that will
// never confirm, returning its leaves to the unset pool.
type ReleaseRootMerkleTxCmd struct {
	TxHash [32]byte
	Root   [32]byte
}

func (InsertRootMerkleTxCmd) isCommand()     {}
func (AddRootMerkleTxVariantCmd) isCommand() {}
func (FinalizeRootMerkleTxCmd) isCommand()   {}
func (ReleaseRootMerkleTxCmd) isCommand()    {}

// CommandEnvelope pairs a Command with the channel its consumer must use
// to ack the persist attempt. The worker blocks on Done before acting on
// the command's on-chain side effect (broadcasting a transaction,
// clearing pending state) so a crash can never leave an on-chain send
// unrecorded in the database.
type CommandEnvelope struct {
	Cmd  Command
	Done chan<- error
}

// Worker owns the unset leaf set and the single in-flight setMerkleRoot
// attempt, if any.
type Worker struct {
	root *rootchain.Client
	cfg  Config

	leaves    map[uint64][32]byte // unset withdraw leaves, by event index
	highWater uint64              // highest event index ROOT has already confirmed
	haveHigh  bool
	pending   *pendingAttempt

	commands chan CommandEnvelope
}

// merkleVariant is one gas-escalation attempt at the same logical
// update. Replace-by-fee never guarantees which variant a miner
// actually includes, so every variant must be tracked and polled until
// one of them confirms.
type merkleVariant struct {
	hash     [32]byte
	gasPrice *big.Int
}

type pendingAttempt struct {
	nonce         uint64
	root          [32]byte
	affected      []uint64
	sentAt        time.Time
	lastEscalated time.Time
	variants      []merkleVariant // ascending age/gas price; last is newest
}

// NewWorker constructs a Worker from the startup snapshot read by
// pkg/store: the unset withdrawals, the approved high watermark, and any
// in-flight setMerkleRoot transaction to resume waiting on.
func NewWorker(root *rootchain.Client, cfg Config, unset []store.PendingWithdrawal, highWater uint64, haveHigh bool, resume *store.PendingMerkleUpdate) *Worker {
	w := &Worker{
		root:      root,
		cfg:       cfg,
		leaves:    make(map[uint64][32]byte, len(unset)),
		highWater: highWater,
		haveHigh:  haveHigh,
		commands:  make(chan CommandEnvelope),
	}
	for _, l := range unset {
		w.leaves[l.EventIndex] = l.LeafHash
	}
	if resume != nil {
		variants := make([]merkleVariant, len(resume.Variants))
		for i, t := range resume.Variants {
			variants[i] = merkleVariant{hash: t.Hash, gasPrice: t.GasPrice}
		}
		w.pending = &pendingAttempt{
			nonce:         resume.Nonce,
			root:          resume.Root,
			affected:      resume.AffectedIDs,
			sentAt:        resume.Variants[0].InsertedAt,
			lastEscalated: resume.Variants[len(resume.Variants)-1].InsertedAt,
			variants:      variants,
		}
	}
	return w
}

// Commands returns the channel of persistence commands for the router to
// apply and acknowledge.
func (w *Worker) Commands() <-chan CommandEnvelope { return w.commands }

// send delivers cmd to the router and blocks for its ack before
// returning, so the caller never broadcasts a transaction or mutates
// in-memory state ahead of the database recording it.
func (w *Worker) send(ctx context.Context, cmd Command) error {
	done := make(chan error, 1)
	select {
	case w.commands <- CommandEnvelope{Cmd: cmd, Done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddLeaf folds a newly observed CHILD withdraw into the unset pool,
// unless it is at or below the approved high watermark (already covered
// by a confirmed root). Leaves already in the pool are removed by
// finalize once a root covering them confirms.
func (w *Worker) AddLeaf(eventIndex uint64, leafHash [32]byte) {
	if w.haveHigh && eventIndex <= w.highWater {
		return
	}
	w.leaves[eventIndex] = leafHash
}

// Tick runs one cycle of the wait/escalate/send state machine. Call it
// on every UpdateInterval from the supervisor.
func (w *Worker) Tick(ctx context.Context) error {
	if w.pending != nil {
		return w.checkPending(ctx)
	}
	if len(w.leaves) == 0 {
		return nil
	}
	return w.sendNewRoot(ctx)
}

// checkPending polls the receipt of every outstanding escalation
// variant, newest gas price first (most likely to have been mined, so
// the common case returns fastest), since replace-by-fee never
// guarantees that the latest resend is the one a miner actually
// included.
func (w *Worker) checkPending(ctx context.Context) error {
	for i := len(w.pending.variants) - 1; i >= 0; i-- {
		v := w.pending.variants[i]
		receipt, err := w.root.TransactionReceipt(ctx, common.Hash(v.hash))
		if err != nil {
			return err
		}
		if receipt == nil {
			continue
		}
		if receipt.Status != 1 {
			// Release the reverted update: its leaves return to the unset
			// pool and the next tick sends a new root at the next nonce.
			for _, sib := range w.pending.variants {
				if err := w.send(ctx, ReleaseRootMerkleTxCmd{TxHash: sib.hash, Root: w.pending.root}); err != nil {
					return err
				}
			}
			w.pending = nil
			return bridgeerr.New(bridgeerr.KindUnexpectedFailedConfirmation, "checkPending",
				fmt.Errorf("setMerkleRoot tx %x reverted", v.hash))
		}
		return w.finalize(ctx, v.hash)
	}
	return w.maybeEscalate(ctx)
}

// finalize commits whichever variant actually confirmed, marking every
// sibling variant missing in the same persisted command.
func (w *Worker) finalize(ctx context.Context, confirmed [32]byte) error {
	superseded := make([][32]byte, 0, len(w.pending.variants)-1)
	for _, v := range w.pending.variants {
		if v.hash != confirmed {
			superseded = append(superseded, v.hash)
		}
	}
	if err := w.send(ctx, FinalizeRootMerkleTxCmd{TxHash: confirmed, Root: w.pending.root, Superseded: superseded}); err != nil {
		return err
	}
	for _, idx := range w.pending.affected {
		delete(w.leaves, idx)
		if !w.haveHigh || idx > w.highWater {
			w.highWater = idx
			w.haveHigh = true
		}
	}
	w.pending = nil
	return nil
}

func (w *Worker) maybeEscalate(ctx context.Context) error {
	since := time.Since(w.pending.sentAt)
	if since > w.cfg.WarnDuration {
		// Not treated as a failure: the tx may still land. No warning
		// is emitted for an attempt pending longer than WarnDuration;
		// nothing else in the relayer reports it either.
	}
	if time.Since(w.pending.lastEscalated) < w.cfg.EscalationInterval {
		return nil
	}

	latest := w.pending.variants[len(w.pending.variants)-1]
	current, err := w.root.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}
	next, exceedsMax := rootchain.NextGasPrice(latest.gasPrice, current, w.cfg.MaxGasPrice)
	if exceedsMax {
		return nil // keep waiting at the current gas price
	}

	signed, err := w.root.BuildSetMerkleRootTx(w.pending.root, w.pending.nonce, next, w.cfg.GasLimit)
	if err != nil {
		return err
	}

	if err := w.send(ctx, AddRootMerkleTxVariantCmd{
		Tx: store.RootTransaction{
			Hash: signed.Hash, RawSignedBytes: signed.RawBytes, Nonce: signed.Nonce,
			GasPrice: next, Root: w.pending.root, Status: store.RootTxPending,
		},
	}); err != nil {
		return err
	}

	if err := w.root.SendRawTransaction(ctx, signed.Tx); err != nil {
		return err
	}
	w.pending.variants = append(w.pending.variants, merkleVariant{hash: signed.Hash, gasPrice: next})
	w.pending.lastEscalated = time.Now()
	return nil
}

func (w *Worker) sendNewRoot(ctx context.Context) error {
	affected := make([]uint64, 0, len(w.leaves))
	for idx := range w.leaves {
		affected = append(affected, idx)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })

	leaves := make([]merkletree.Leaf, len(affected))
	for i, idx := range affected {
		leaves[i] = merkletree.Leaf{Key: idx, Hash: w.leaves[idx]}
	}
	tree, err := merkletree.Build(leaves)
	if err != nil {
		return err
	}
	root := tree.Root()

	nonce, err := w.root.PendingNonce(ctx)
	if err != nil {
		return err
	}
	gasPrice, err := w.root.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}

	signed, err := w.root.BuildSetMerkleRootTx(root, nonce, gasPrice, w.cfg.GasLimit)
	if err != nil {
		return err
	}

	if err := w.send(ctx, InsertRootMerkleTxCmd{
		Tx: store.RootTransaction{
			Hash: signed.Hash, RawSignedBytes: signed.RawBytes, Nonce: nonce,
			GasPrice: gasPrice, Root: root, Status: store.RootTxPending,
		},
		Affected: affected,
	}); err != nil {
		return err
	}

	if err := w.root.SendRawTransaction(ctx, signed.Tx); err != nil {
		return err
	}

	w.pending = &pendingAttempt{
		nonce: nonce, root: root, affected: affected,
		sentAt: time.Now(), lastEscalated: time.Now(),
		variants: []merkleVariant{{hash: signed.Hash, gasPrice: gasPrice}},
	}
	return nil
}

// LeafCount reports the current unset leaf set size, for the metrics
// tick.
func (w *Worker) LeafCount() int { return len(w.leaves) }
