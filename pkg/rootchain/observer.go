package rootchain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

// ObserverConfig configures the confirmation-windowed poll loop.
type ObserverConfig struct {
	PollInterval  time.Duration
	Confirmations uint64
	MaxBlockRange uint64
	// MaxRetries bounds the exponential backoff around a single chunk's
	// FilterLogs call. Exhausting it is fatal: the provider has been
	// failing for the whole backoff window, not just one call.
	MaxRetries int
	// RetryBaseDelay is the first retry's delay; it doubles on every
	// subsequent attempt.
	RetryBaseDelay time.Duration
}

// DefaultObserverConfig matches the teacher's event watcher defaults,
// widened to a realistic ROOT confirmation depth.
func DefaultObserverConfig(confirmations uint64) ObserverConfig {
	return ObserverConfig{
		PollInterval:   15 * time.Second,
		Confirmations:  confirmations,
		MaxBlockRange:  2000,
		MaxRetries:     7,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// Observer polls the ROOT chain for logs inside [next, head-confirmations]
// and emits decoded batches on Batches(). It never re-observes inside the
// confirmation window and treats a disappearing log (removed=true, i.e. a
// reorg reaching into an already-confirmed window) as fatal: the provider
// has become inconsistent with what was already durably recorded.
//
// Grounded on the teacher's pkg/anchor/event_watcher.go poll loop,
// generalized from a single contract address to the two bridge contracts
// (state sender + chain manager) and from "all events" filtering to the
// fixed topic set in events.go.
type Observer struct {
	client    *Client
	addresses []common.Address
	cfg       ObserverConfig

	batches chan ObservedBatch
	errs    chan error
}

// ObservedBatch pairs a decoded batch with the height it advances the
// ROOT checkpoint to.
type ObservedBatch struct {
	ToHeight uint64
	Decoded  DecodedBatch
}

// NewObserver constructs an Observer watching addresses.
func NewObserver(client *Client, addresses []common.Address, cfg ObserverConfig) *Observer {
	return &Observer{
		client:    client,
		addresses: addresses,
		cfg:       cfg,
		batches:   make(chan ObservedBatch, 16),
		errs:      make(chan error, 16),
	}
}

// Batches returns the channel of decoded, confirmation-windowed batches.
func (o *Observer) Batches() <-chan ObservedBatch { return o.batches }

// Errors returns the channel of poll errors, including the fatal error
// sent just before Run returns. Sends never block: an error is dropped
// when the channel is full.
func (o *Observer) Errors() <-chan error { return o.errs }

// Run polls from fromHeight+1 until ctx is canceled, closing both
// channels on exit. A fatal decode/provider error is sent on errs and
// terminates the loop; the caller decides whether to abort the process.
func (o *Observer) Run(ctx context.Context, fromHeight uint64) {
	defer close(o.batches)
	defer close(o.errs)

	next := fromHeight + 1
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			advanced, err := o.pollOnce(ctx, next)
			if err != nil {
				select {
				case o.errs <- err:
				default:
				}
				if bridgeerr.Fatal(err) {
					return
				}
				continue
			}
			next = advanced
		}
	}
}

// pollOnce fetches and decodes one confirmation-windowed range, returning
// the next "from" height to use. If the window is empty it returns next
// unchanged.
func (o *Observer) pollOnce(ctx context.Context, next uint64) (uint64, error) {
	head, err := o.client.HeadNumber(ctx)
	if err != nil {
		return next, err
	}
	if head < o.cfg.Confirmations {
		return next, nil
	}
	safeHead := head - o.cfg.Confirmations
	if next > safeHead {
		return next, nil
	}

	to := safeHead
	if to-next > o.cfg.MaxBlockRange {
		to = next + o.cfg.MaxBlockRange
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(next),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: o.addresses,
		Topics:    [][]common.Hash{Topics()},
	}

	var logs []types.Log
	var lastErr error
	delay := o.cfg.RetryBaseDelay
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		l, err := o.client.eth.FilterLogs(ctx, query)
		if err == nil {
			logs = l
			lastErr = nil
			break
		}
		lastErr = err
		if attempt == o.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return next, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if lastErr != nil {
		return next, bridgeerr.New(bridgeerr.KindRetriesExhausted, "FilterLogs",
			fmt.Errorf("exhausted %d retries fetching blocks [%d,%d]: %w", o.cfg.MaxRetries, next, to, lastErr))
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	var batch DecodedBatch
	for _, l := range logs {
		if l.Removed {
			return next, bridgeerr.New(bridgeerr.KindProviderInconsistency, "pollOnce",
				fmt.Errorf("log at block %d tx %s reported removed inside the confirmed window", l.BlockNumber, l.TxHash))
		}
		if err := DecodeLog(&batch, l); err != nil {
			return next, err
		}
	}

	o.batches <- ObservedBatch{ToHeight: to, Decoded: batch}
	return to + 1, nil
}
