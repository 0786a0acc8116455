// Package supervisor is the C7 component: it wires every other package
// into one running process, drives their Run loops under a shared
// context, reacts to a fatal error from any of them by canceling that
// context, and reports a 30-second metrics tick.
//
// Grounded on the teacher's main.go orchestration (context.WithCancel +
// signal.Notify(SIGINT, SIGTERM) + cooperative shutdown with a bounded
// drain timeout), generalized from one process driving a single
// CometBFT validator to one process driving six independently-ticking
// components plus the single-writer router.
package supervisor

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/childchain"
	"github.com/rootchild-bridge/relayer/pkg/merkletree"
	"github.com/rootchild-bridge/relayer/pkg/merkleworker"
	"github.com/rootchild-bridge/relayer/pkg/metrics"
	"github.com/rootchild-bridge/relayer/pkg/rootchain"
	"github.com/rootchild-bridge/relayer/pkg/router"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

// Config controls the supervisor's own tick cadences.
type Config struct {
	MetricsInterval time.Duration
	MerkleTick      time.Duration
}

// Supervisor owns every long-running component and the shared lifetime
// context that cancels them together.
type Supervisor struct {
	cfg Config

	repo        *store.Repository
	rootClient  *rootchain.Client
	rootObs     *rootchain.Observer
	childClient *childchain.Client
	childObs    *childchain.Observer
	sender      *childchain.Sender
	merkle      *merkleworker.Worker
	rtr         *router.Router
	registry    *metrics.Registry

	logger *log.Logger
}

// New assembles a Supervisor from its already-constructed components.
// Construction (dialing chains, opening the database, loading keys) is
// the caller's responsibility — New only wires run loops together.
func New(
	cfg Config,
	repo *store.Repository,
	rootClient *rootchain.Client,
	rootObs *rootchain.Observer,
	childClient *childchain.Client,
	childObs *childchain.Observer,
	sender *childchain.Sender,
	merkle *merkleworker.Worker,
	rtr *router.Router,
	registry *metrics.Registry,
	logger *log.Logger,
) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[supervisor] ", log.LstdFlags)
	}
	return &Supervisor{
		cfg: cfg, repo: repo, rootClient: rootClient, rootObs: rootObs,
		childClient: childClient, childObs: childObs, sender: sender,
		merkle: merkle, rtr: rtr, registry: registry, logger: logger,
	}
}

// ResubmitPending resubmits every CHILD transaction left pending by a
// prior process's crash, verbatim (same nonce, same raw bytes), so a
// restart never forges a new transaction for a nonce that may already
// have been broadcast. Call this once before Run.
func (s *Supervisor) ResubmitPending(ctx context.Context) error {
	pending, err := s.repo.PendingChildTransactions(ctx)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		if _, err := s.sender.Submit(ctx, tx.RawBytes); err != nil {
			s.logger.Printf("resubmit child tx %x error: %v", tx.Hash, err)
			continue
		}
		hash := tx.Hash
		go func() {
			status, err := s.sender.AwaitConfirmation(ctx, hash[:])
			if err != nil {
				s.logger.Printf("await resubmitted child tx confirmation error: %v", err)
				return
			}
			markDone := make(chan error, 1)
			s.rtr.Inbox() <- router.MarkChildTxStatusMsg{Hash: hash, Status: status, Done: markDone}
			<-markDone
		}()
	}
	return nil
}

// Run drives every component until ctx is canceled (by the caller, or by
// this Supervisor itself after a fatal error from any component), then
// waits a fixed 30 seconds, giving in-flight router work time to drain,
// before returning.
func (s *Supervisor) Run(ctx context.Context, rootFromHeight uint64, childFromHeight int64) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 8)

	go s.rtr.Run(runCtx)
	go s.rootObs.Run(runCtx, rootFromHeight)
	go s.childObs.Run(runCtx, childFromHeight)
	go s.drainRootBatches(runCtx, fatal)
	go s.drainChildBatches(runCtx, fatal)
	go s.drainMerkleCommands(runCtx, fatal)
	go s.tickMerkleWorker(runCtx, fatal)
	go s.tickMetrics(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-fatal:
		s.registry.FatalErrors.Inc()
		s.logger.Printf("fatal error, shutting down: %v", err)
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	<-shutdownCtx.Done()

	s.logger.Printf("supervisor stopped")
	return runErr
}

func (s *Supervisor) drainRootBatches(ctx context.Context, fatal chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.rootObs.Batches():
			done := make(chan error, 1)
			s.rtr.Inbox() <- router.RootBatchMsg{Height: batch.ToHeight, Decoded: batch.Decoded, Done: done}
			err := <-done
			if err != nil {
				if bridgeerr.Fatal(err) {
					select {
					case fatal <- err:
					default:
					}
				}
				continue
			}
			for _, d := range batch.Decoded.Deposits {
				s.dispatchDeposit(ctx, d, fatal)
			}
			for _, m := range batch.Decoded.TokenMaps {
				if m.Added {
					s.dispatchTokenMap(ctx, m, fatal)
				}
			}
		case err := <-s.rootObs.Errors():
			if bridgeerr.Fatal(err) {
				select {
				case fatal <- err:
				default:
				}
			} else {
				s.logger.Printf("root observer error: %v", err)
			}
		}
	}
}

// dispatchDeposit is the C5 tx-sender path: a ROOT deposit persisted by
// the router is applied to CHILD as a single minted transfer, keyed by
// the ROOT event id so the CHILD contract rejects a resubmission after a
// crash as a duplicate rather than double-minting.
func (s *Supervisor) dispatchDeposit(ctx context.Context, d store.RootDepositEvent, fatal chan<- error) {
	raw, hash, nonce := s.sender.BuildDepositTx(d.OriginEventID, d.RootToken, d.Amount, d.CCDReceiver)

	tx := store.ChildTransaction{
		Nonce: nonce, RawBytes: raw, Hash: hash, OriginRootTxHash: d.OriginTxHash,
		OriginRootEventID: d.OriginEventID, Status: store.ChildTxPending,
	}
	done := make(chan error, 1)
	s.rtr.Inbox() <- router.EnqueueChildTxMsg{Tx: tx, Done: done}
	if err := <-done; err != nil {
		if bridgeerr.Fatal(err) {
			select {
			case fatal <- err:
			default:
			}
		} else {
			s.logger.Printf("enqueue child tx error: %v", err)
		}
		return
	}

	if _, err := s.sender.Submit(ctx, raw); err != nil {
		s.logger.Printf("submit child tx error: %v", err)
		return
	}

	go func() {
		status, err := s.sender.AwaitConfirmation(ctx, hash[:])
		if err != nil {
			s.logger.Printf("await child tx confirmation error: %v", err)
			return
		}
		markDone := make(chan error, 1)
		s.rtr.Inbox() <- router.MarkChildTxStatusMsg{Hash: hash, Status: status, Done: markDone}
		if err := <-markDone; err != nil && bridgeerr.Fatal(err) {
			select {
			case fatal <- err:
			default:
			}
		}
	}()
}

// dispatchTokenMap is the C5 tx-sender path for a newly observed ROOT
// TokenMapAdded event: it registers the root/child token pair
// bidirectionally in the CHILD bridge manager contract, keyed by the
// ROOT event id so a crash-and-replay is rejected as a duplicate rather
// than re-registering.
func (s *Supervisor) dispatchTokenMap(ctx context.Context, m store.RootTokenMapEvent, fatal chan<- error) {
	raw, hash, nonce := s.sender.BuildTokenMapTx(m.OriginEventID, m.RootToken, m.ChildIndex, m.ChildSubindex)

	tx := store.ChildTransaction{
		Nonce: nonce, RawBytes: raw, Hash: hash, OriginRootTxHash: m.OriginTxHash,
		OriginRootEventID: m.OriginEventID, Status: store.ChildTxPending,
	}
	done := make(chan error, 1)
	s.rtr.Inbox() <- router.EnqueueChildTxMsg{Tx: tx, Done: done}
	if err := <-done; err != nil {
		if bridgeerr.Fatal(err) {
			select {
			case fatal <- err:
			default:
			}
		} else {
			s.logger.Printf("enqueue child tx error: %v", err)
		}
		return
	}

	if _, err := s.sender.Submit(ctx, raw); err != nil {
		s.logger.Printf("submit child tx error: %v", err)
		return
	}

	go func() {
		status, err := s.sender.AwaitConfirmation(ctx, hash[:])
		if err != nil {
			s.logger.Printf("await child tx confirmation error: %v", err)
			return
		}
		markDone := make(chan error, 1)
		s.rtr.Inbox() <- router.MarkChildTxStatusMsg{Hash: hash, Status: status, Done: markDone}
		if err := <-markDone; err != nil && bridgeerr.Fatal(err) {
			select {
			case fatal <- err:
			default:
			}
		}
	}()
}

// withdrawLeafHash computes the Merkle leaf hash for a decoded CHILD
// withdraw event, the value the database stores alongside it and the
// Merkle set worker folds into its in-memory leaf map.
func withdrawLeafHash(ev store.ChildEvent) [32]byte {
	leaf := merkletree.WithdrawLeafInput{
		ChildContractIndex:    ev.ChildContractIndex,
		ChildContractSubindex: ev.ChildContractSubindex,
		Amount:                ev.Amount,
		UserWallet:            common.Address(ev.Receiver),
		ChildTxHash:           ev.TxHash,
		EventIndex:            ev.EventIndex,
		TokenID:               ev.TokenID,
	}
	hash, err := leaf.Hash()
	if err != nil {
		return [32]byte{}
	}
	return hash
}

func (s *Supervisor) drainChildBatches(ctx context.Context, fatal chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.childObs.Batches():
			leafHashes := make(map[uint64][32]byte)
			for _, ev := range batch.Events {
				if ev.Type == store.ChildEventWithdraw {
					leaf := withdrawLeafHash(ev)
					leafHashes[ev.EventIndex] = leaf
					s.merkle.AddLeaf(ev.EventIndex, leaf)
				}
			}
			done := make(chan error, 1)
			s.rtr.Inbox() <- router.ChildBatchMsg{Height: batch.Height, Events: batch.Events, LeafHashes: leafHashes, Done: done}
			if err := <-done; err != nil && bridgeerr.Fatal(err) {
				select {
				case fatal <- err:
				default:
				}
			}
		case err := <-s.childObs.Errors():
			if bridgeerr.Fatal(err) {
				select {
				case fatal <- err:
				default:
				}
			} else {
				s.logger.Printf("child observer error: %v", err)
			}
		}
	}
}

func (s *Supervisor) drainMerkleCommands(ctx context.Context, fatal chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.merkle.Commands():
			done := make(chan error, 1)
			s.rtr.Inbox() <- router.MerkleCommandMsg{Cmd: env.Cmd, Done: done}
			err := <-done
			select {
			case env.Done <- err:
			default:
			}
			if err != nil && bridgeerr.Fatal(err) {
				select {
				case fatal <- err:
				default:
				}
			}
		}
	}
}

func (s *Supervisor) tickMerkleWorker(ctx context.Context, fatal chan<- error) {
	ticker := time.NewTicker(s.cfg.MerkleTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.merkle.Tick(ctx); err != nil {
				if bridgeerr.Fatal(err) {
					select {
					case fatal <- err:
					default:
					}
				} else {
					s.logger.Printf("merkle worker tick error: %v", err)
				}
			}
		}
	}
}

func (s *Supervisor) tickMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recordMetrics(ctx)
		}
	}
}

func (s *Supervisor) recordMetrics(ctx context.Context) {
	if head, err := s.rootClient.HeadNumber(ctx); err == nil {
		s.registry.RootHeadHeight.Set(float64(head))
	}
	if bal, err := s.rootClient.Balance(ctx); err == nil {
		balF, _ := new(big.Float).SetInt(bal).Float64()
		s.registry.RootSignerBalance.Set(balF)
	}
	if head, err := s.childClient.LatestFinalizedHeight(ctx); err == nil {
		s.registry.ChildHeadHeight.Set(float64(head))
	}
	s.registry.UnsetLeafCount.Set(float64(s.merkle.LeafCount()))
	if pending, err := s.repo.PendingChildTransactions(ctx); err == nil {
		s.registry.PendingChildTxCount.Set(float64(len(pending)))
	}
	s.registry.RouterInboxDepth.Set(float64(len(s.rtr.Inbox())))
}
