package childchain

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/cometbft/cometbft/crypto/tmhash"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

// TxHash computes a CHILD transaction's hash from its final signed wire
// bytes, the same way the observer computes it for transactions already
// on chain (tmhash.Sum), so a transaction can be keyed by hash before it
// is ever broadcast.
func TxHash(raw []byte) [32]byte {
	var h [32]byte
	copy(h[:], tmhash.Sum(raw))
	return h
}

// signTx prepends a fixed-width ed25519 signature over payload, matching
// the CHILD account-signed transaction envelope: sig(64) || payload.
func signTx(key ed25519.PrivateKey, payload []byte) []byte {
	sig := ed25519.Sign(key, payload)
	out := make([]byte, 0, len(sig)+len(payload))
	out = append(out, sig...)
	out = append(out, payload...)
	return out
}

// depositApplyTag marks a CHILD transaction that delivers a ROOT deposit
// (mints/transfers the bridged amount to the CCD receiver).
const depositApplyTag byte = 0xAA

// tokenMapApplyTag marks a CHILD transaction that registers a ROOT
// TokenMapAdded event as a bidirectional token mapping in the bridge
// manager contract.
const tokenMapApplyTag byte = 0xAB

// BuildDepositTx encodes a CHILD transaction applying a ROOT deposit:
// nonce(8) tag(1) originEventId(32 big-endian) rootToken(20) amount(32
// big-endian) receiver(variable, CHILD-native account encoding).
func BuildDepositTx(nonce uint64, originEventID *big.Int, rootToken [20]byte, amount *big.Int, receiver []byte) []byte {
	buf := make([]byte, 0, 8+1+32+20+32+len(receiver))
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	buf = append(buf, nonceBytes[:]...)
	buf = append(buf, depositApplyTag)

	var idBytes [32]byte
	originEventID.FillBytes(idBytes[:])
	buf = append(buf, idBytes[:]...)
	buf = append(buf, rootToken[:]...)

	var amountBytes [32]byte
	amount.FillBytes(amountBytes[:])
	buf = append(buf, amountBytes[:]...)
	buf = append(buf, receiver...)
	return buf
}

// BuildTokenMapTx encodes a CHILD transaction applying a ROOT
// TokenMapAdded event: nonce(8) tag(1) originEventId(32 big-endian)
// rootToken(20) childIndex(8 big-endian) childSubindex(8 big-endian).
func BuildTokenMapTx(nonce uint64, originEventID *big.Int, rootToken [20]byte, childIndex, childSubindex uint64) []byte {
	buf := make([]byte, 0, 8+1+32+20+8+8)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	buf = append(buf, nonceBytes[:]...)
	buf = append(buf, tokenMapApplyTag)

	var idBytes [32]byte
	originEventID.FillBytes(idBytes[:])
	buf = append(buf, idBytes[:]...)
	buf = append(buf, rootToken[:]...)

	var childIndexBytes, childSubindexBytes [8]byte
	binary.BigEndian.PutUint64(childIndexBytes[:], childIndex)
	binary.BigEndian.PutUint64(childSubindexBytes[:], childSubindex)
	buf = append(buf, childIndexBytes[:]...)
	buf = append(buf, childSubindexBytes[:]...)
	return buf
}

// Sender serializes CHILD transaction submission behind a single next
// nonce, FIFO, so that a transaction never needs replacing for a nonce
// conflict: it is either sent once or resubmitted verbatim after a
// restart with the exact same bytes it was built with.
//
// Grounded on original_source/relayer/src/db.rs's submit_missing_txs /
// nonce-derivation pattern and the teacher's single-writer goroutine
// idiom (pkg/batch/confirmation_tracker.go's polling loop).
type Sender struct {
	client       *Client
	key          ed25519.PrivateKey
	nextNonce    uint64
	pollInterval time.Duration
}

// NewSender seeds the nonce counter from startNonce (cmd/relayer passes
// one past the highest stored CHILD transaction nonce, or 0 when none is
// stored; the chain account's sequence number is not queried) and holds
// the relayer's CHILD account key,
// used to sign every outgoing transaction.
func NewSender(client *Client, key ed25519.PrivateKey, startNonce uint64, pollInterval time.Duration) *Sender {
	return &Sender{client: client, key: key, nextNonce: startNonce, pollInterval: pollInterval}
}

// NextNonce allocates and returns the next nonce to use, then advances
// the counter. The caller must persist the resulting transaction before
// calling NextNonce again, so a crash never loses a nonce.
func (s *Sender) NextNonce() uint64 {
	n := s.nextNonce
	s.nextNonce++
	return n
}

// BuildDepositTx allocates a nonce and returns the signed wire bytes and
// hash of a CHILD transaction applying a ROOT deposit.
func (s *Sender) BuildDepositTx(originEventID *big.Int, rootToken [20]byte, amount *big.Int, receiver []byte) (raw []byte, hash [32]byte, nonce uint64) {
	nonce = s.NextNonce()
	payload := BuildDepositTx(nonce, originEventID, rootToken, amount, receiver)
	raw = signTx(s.key, payload)
	hash = TxHash(raw)
	return raw, hash, nonce
}

// BuildTokenMapTx allocates a nonce and returns the signed wire bytes and
// hash of a CHILD transaction applying a ROOT TokenMapAdded event.
func (s *Sender) BuildTokenMapTx(originEventID *big.Int, rootToken [20]byte, childIndex, childSubindex uint64) (raw []byte, hash [32]byte, nonce uint64) {
	nonce = s.NextNonce()
	payload := BuildTokenMapTx(nonce, originEventID, rootToken, childIndex, childSubindex)
	raw = signTx(s.key, payload)
	hash = TxHash(raw)
	return raw, hash, nonce
}

// Submit broadcasts a previously built-and-persisted transaction. A
// KindDomainDuplicate rejection (the CHILD contract already applied this
// nonce/event id) is returned as success: a nil error and the node's hash.
func (s *Sender) Submit(ctx context.Context, raw []byte) ([]byte, error) {
	result, err := s.client.BroadcastTxSync(ctx, raw)
	if err != nil {
		if bridgeerr.Is(err, bridgeerr.KindDomainDuplicate) {
			return []byte(result.Hash), nil
		}
		return nil, err
	}
	return []byte(result.Hash), nil
}

// AwaitConfirmation polls for a transaction's inclusion, returning its
// final status. It never blocks past ctx's deadline.
func (s *Sender) AwaitConfirmation(ctx context.Context, hash []byte) (store.ChildTxStatus, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return store.ChildTxMissing, ctx.Err()
		case <-ticker.C:
			res, err := s.client.Tx(ctx, hash)
			if err != nil {
				continue // transient: not yet indexed, keep polling
			}
			if res.TxResult.Code == 0 {
				return store.ChildTxFinalized, nil
			}
			return store.ChildTxFailed, fmt.Errorf("child tx failed: code=%d log=%s", res.TxResult.Code, res.TxResult.Log)
		}
	}
}
