// Package router is the C4 single-writer: every mutation the pipeline
// makes to the database passes through one goroutine's inbox, so commit
// order always matches arrival order and two components can never race
// to write the same row.
//
// Grounded on original_source/relayer/src/db.rs's handle_database
// reconnect-and-replay loop (a database error requeues the batch rather
// than drops it) and the teacher's channel-owning-goroutine idiom from
// pkg/anchor/event_watcher.go's dispatchLoop.
package router

import (
	"context"
	"log"
	"time"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/merkleworker"
	"github.com/rootchild-bridge/relayer/pkg/rootchain"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

// Message is one unit of work the router applies atomically.
type Message interface{ isMessage() }

// RootBatchMsg carries a confirmation-windowed ROOT observation.
type RootBatchMsg struct {
	Height  uint64
	Decoded rootchain.DecodedBatch
	Done    chan<- error
}

// ChildBatchMsg carries one CHILD block's decoded events, plus the
// precomputed Merkle leaf hash for every withdraw event in it.
type ChildBatchMsg struct {
	Height     int64
	Events     []store.ChildEvent
	LeafHashes map[uint64][32]byte
	Done       chan<- error
}

// EnqueueChildTxMsg asks the router to persist a newly built outgoing
// CHILD transaction.
type EnqueueChildTxMsg struct {
	Tx   store.ChildTransaction
	Done chan<- error
}

// MarkChildTxStatusMsg updates a submitted CHILD transaction's status.
type MarkChildTxStatusMsg struct {
	Hash   [32]byte
	Status store.ChildTxStatus
	Done   chan<- error
}

// MerkleCommandMsg wraps a merkleworker.Command for persistence.
type MerkleCommandMsg struct {
	Cmd  merkleworker.Command
	Done chan<- error
}

func (RootBatchMsg) isMessage()         {}
func (ChildBatchMsg) isMessage()        {}
func (EnqueueChildTxMsg) isMessage()    {}
func (MarkChildTxStatusMsg) isMessage() {}
func (MerkleCommandMsg) isMessage()     {}

// Router owns the Repository and applies every Message serially.
type Router struct {
	repo   *store.Repository
	inbox  chan Message
	logger *log.Logger
}

// NewRouter constructs a Router with a bounded inbox.
func NewRouter(repo *store.Repository, logger *log.Logger, inboxSize int) *Router {
	if logger == nil {
		logger = log.New(log.Writer(), "[router] ", log.LstdFlags)
	}
	return &Router{repo: repo, inbox: make(chan Message, inboxSize), logger: logger}
}

// Inbox returns the channel producers send Messages on.
func (r *Router) Inbox() chan<- Message { return r.inbox }

// Run drains the inbox until ctx is canceled, applying each message with
// retry on database errors, with no limit on attempts and a backoff that
// stops doubling past 30 seconds (a transient connection drop does not
// drop the batch: it is retried until the database comes back or ctx is
// canceled).
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.inbox:
			r.applyWithRetry(ctx, msg)
		}
	}
}

// applyWithRetry retries a database-kind failure silently (reconnect
// backoff) and only replies to the sender once a terminal outcome is
// reached, success or a non-database error. A mid-retry failure must
// never reach the sender: it would read as the batch having failed for
// good while the router keeps trying it in the background, and the
// sender would skip work (e.g. CHILD dispatch) that the eventual commit
// still requires.
func (r *Router) applyWithRetry(ctx context.Context, msg Message) {
	backoff := time.Second
	for {
		err := r.apply(ctx, msg)
		if err == nil || !bridgeerr.Is(err, bridgeerr.KindDatabase) {
			r.reply(msg, err)
			return
		}
		r.logger.Printf("database error, retrying in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *Router) apply(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case RootBatchMsg:
		return r.repo.InsertRootBatch(ctx, m.Height, m.Decoded.Deposits, m.Decoded.TokenMaps, m.Decoded.WithdrawConfirms)
	case ChildBatchMsg:
		return r.repo.InsertChildBatch(ctx, uint64(m.Height), m.Events, m.LeafHashes)
	case EnqueueChildTxMsg:
		return r.repo.EnqueueChildTransaction(ctx, m.Tx)
	case MarkChildTxStatusMsg:
		return r.repo.MarkChildTxStatus(ctx, m.Hash, m.Status)
	case MerkleCommandMsg:
		return r.applyMerkleCommand(ctx, m.Cmd)
	default:
		return nil
	}
}

func (r *Router) applyMerkleCommand(ctx context.Context, cmd merkleworker.Command) error {
	switch c := cmd.(type) {
	case merkleworker.InsertRootMerkleTxCmd:
		return r.repo.InsertRootMerkleTx(ctx, c.Tx, c.Affected)
	case merkleworker.AddRootMerkleTxVariantCmd:
		return r.repo.AddRootMerkleTxVariant(ctx, c.Tx)
	case merkleworker.FinalizeRootMerkleTxCmd:
		return r.repo.FinalizeRootMerkleTx(ctx, c.TxHash, c.Root, c.Superseded)
	case merkleworker.ReleaseRootMerkleTxCmd:
		return r.repo.ReleaseRootMerkleTx(ctx, c.TxHash, c.Root)
	default:
		return nil
	}
}

func (r *Router) reply(msg Message, err error) {
	var done chan<- error
	switch m := msg.(type) {
	case RootBatchMsg:
		done = m.Done
	case ChildBatchMsg:
		done = m.Done
	case EnqueueChildTxMsg:
		done = m.Done
	case MarkChildTxStatusMsg:
		done = m.Done
	case MerkleCommandMsg:
		done = m.Done
	}
	if done == nil {
		return
	}
	select {
	case done <- err:
	default:
	}
}
