package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

// Repository is the single-writer's handle onto the schema: every method
// here is called from the C4 router goroutine and, where it touches more
// than one table, wraps its writes in one transaction so a crash between
// statements can never leave the projection half-updated.
//
// Grounded on original_source/relayer/src/db.rs's insert_* functions
// (atomic multi-table batches, checkpoint-advance-in-same-transaction).
type Repository struct {
	client *Client
}

// NewRepository wraps a Client.
func NewRepository(c *Client) *Repository { return &Repository{client: c} }

func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	return bridgeerr.New(bridgeerr.KindDatabase, op, err)
}

// InsertRootBatch atomically records a confirmed-window batch of decoded
// ROOT events and advances the ROOT checkpoint to height.
func (r *Repository) InsertRootBatch(ctx context.Context, height uint64, deposits []RootDepositEvent, tokenMaps []RootTokenMapEvent, withdrawConfirms []RootWithdrawConfirmation) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("InsertRootBatch.begin", err)
	}
	defer tx.Rollback()

	for _, d := range deposits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO root_deposit_events
				(origin_tx_hash, origin_event_id, depositor, ccd_receiver, root_token, amount)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (origin_event_id) DO NOTHING`,
			d.OriginTxHash[:], d.OriginEventID.String(), d.Depositor[:], d.CCDReceiver, d.RootToken[:], d.Amount.String())
		if err != nil {
			return wrapDB("InsertRootBatch.deposit", err)
		}
	}

	for _, m := range tokenMaps {
		if m.Added {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO token_maps (root_address, child_index, child_subindex, eth_name, decimals)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (root_address, child_index, child_subindex) DO UPDATE
					SET eth_name = EXCLUDED.eth_name, decimals = EXCLUDED.decimals`,
				m.RootToken[:], m.ChildIndex, m.ChildSubindex, m.EthName, m.Decimals)
			if err != nil {
				return wrapDB("InsertRootBatch.tokenMapAdd", err)
			}
		} else {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM token_maps WHERE root_address=$1 AND child_index=$2 AND child_subindex=$3`,
				m.RootToken[:], m.ChildIndex, m.ChildSubindex)
			if err != nil {
				return wrapDB("InsertRootBatch.tokenMapRemove", err)
			}
		}
	}

	for _, w := range withdrawConfirms {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO root_withdraw_events
				(root_tx_hash, origin_event_id, amount, receiver, origin_child_tx_hash, origin_child_event_index)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (origin_event_id) DO NOTHING`,
			w.RootTxHash[:], w.OriginEventID.String(), w.Amount.String(), w.Receiver[:], w.OriginChildTxHash[:], w.OriginChildEventIndex)
		if err != nil {
			return wrapDB("InsertRootBatch.withdrawConfirm", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE child_events SET processed=$1, pending_root=NULL
			WHERE event_index=$2 AND processed IS NULL`,
			w.RootTxHash[:], w.OriginChildEventIndex)
		if err != nil {
			return wrapDB("InsertRootBatch.markProcessed", err)
		}
	}

	if err := upsertCheckpoint(ctx, tx, "root", height); err != nil {
		return err
	}
	return wrapDB("InsertRootBatch.commit", tx.Commit())
}

// InsertChildBatch atomically records a batch of decoded CHILD events and
// advances the CHILD checkpoint to height. leafHashes supplies the
// precomputed Merkle leaf hash for every withdraw-typed event in events,
// keyed by EventIndex (the router computes these via pkg/merkletree
// before calling in, since store has no opinion on leaf encoding).
func (r *Repository) InsertChildBatch(ctx context.Context, height uint64, events []ChildEvent, leafHashes map[uint64][32]byte) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("InsertChildBatch.begin", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		var leaf []byte
		if h, ok := leafHashes[e.EventIndex]; ok {
			leaf = h[:]
		}
		var amount sql.NullString
		if e.Amount != nil {
			amount = sql.NullString{String: e.Amount.String(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO child_events
				(tx_hash, event_index, event_type, child_contract_index, child_contract_subindex,
				 receiver, amount, token_id, event_data, event_merkle_leaf_hash)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (event_index) DO NOTHING`,
			e.TxHash[:], e.EventIndex, string(e.Type), e.ChildContractIndex, e.ChildContractSubindex,
			e.Receiver[:], amount, e.TokenID, e.RawData, leaf)
		if err != nil {
			return wrapDB("InsertChildBatch.event", err)
		}
	}

	if err := upsertCheckpoint(ctx, tx, "child", height); err != nil {
		return err
	}
	return wrapDB("InsertChildBatch.commit", tx.Commit())
}

func upsertCheckpoint(ctx context.Context, tx *sql.Tx, network string, height uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (network, last_processed_height) VALUES ($1,$2)
		ON CONFLICT (network) DO UPDATE SET last_processed_height = EXCLUDED.last_processed_height`,
		network, height)
	return wrapDB("upsertCheckpoint", err)
}

// EnqueueChildTransaction records a CHILD transaction built to serve a
// ROOT event id. The UNIQUE constraint on origin_root_event_id makes this
// idempotent across a crash-and-replay of the same ROOT batch.
func (r *Repository) EnqueueChildTransaction(ctx context.Context, t ChildTransaction) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO child_transactions
			(nonce, raw_bytes, hash, origin_root_tx_hash, origin_root_event_id, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (origin_root_event_id) DO NOTHING`,
		t.Nonce, t.RawBytes, t.Hash[:], t.OriginRootTxHash[:], t.OriginRootEventID.String(), t.Status)
	return wrapDB("EnqueueChildTransaction", err)
}

// MarkChildTxStatus updates a submitted CHILD transaction's confirmation
// status.
func (r *Repository) MarkChildTxStatus(ctx context.Context, hash [32]byte, status ChildTxStatus) error {
	_, err := r.client.db.ExecContext(ctx,
		`UPDATE child_transactions SET status=$1 WHERE hash=$2`, status, hash[:])
	return wrapDB("MarkChildTxStatus", err)
}

// InsertRootMerkleTx records a freshly signed setMerkleRoot transaction
// and stamps every affected CHILD withdraw row with the root it is now
// pending under, so a crash before confirmation can be resumed without
// double-sending. pending_root is keyed by the Merkle root rather than
// the transaction hash because a logical update keeps the same root
// across every gas-escalation variant it may need.
func (r *Repository) InsertRootMerkleTx(ctx context.Context, t RootTransaction, affected []uint64) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("InsertRootMerkleTx.begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO root_transactions (hash, raw_signed_bytes, nonce, gas_price, root, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		t.Hash[:], t.RawSignedBytes, t.Nonce, t.GasPrice.String(), t.Root[:])
	if err != nil {
		return wrapDB("InsertRootMerkleTx.insert", err)
	}

	for _, idx := range affected {
		_, err := tx.ExecContext(ctx, `
			UPDATE child_events SET pending_root=$1 WHERE event_index=$2 AND processed IS NULL`,
			t.Root[:], idx)
		if err != nil {
			return wrapDB("InsertRootMerkleTx.markPending", err)
		}
	}
	return wrapDB("InsertRootMerkleTx.commit", tx.Commit())
}

// AddRootMerkleTxVariant records a gas-escalated resend of an in-flight
// setMerkleRoot update: same nonce and root, a new hash and gas price.
// The prior variant is left pending rather than marked missing here —
// replace-by-fee never guarantees which variant a miner actually
// includes, so the old one can still confirm. A variant only becomes
// missing once a sibling confirms (FinalizeRootMerkleTx). child_events
// is untouched: pending_root already holds the shared root, not a hash.
func (r *Repository) AddRootMerkleTxVariant(ctx context.Context, t RootTransaction) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO root_transactions (hash, raw_signed_bytes, nonce, gas_price, root, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		t.Hash[:], t.RawSignedBytes, t.Nonce, t.GasPrice.String(), t.Root[:])
	return wrapDB("AddRootMerkleTxVariant", err)
}

// FinalizeRootMerkleTx marks the confirming variant's hash confirmed,
// marks every superseded sibling variant missing, records the new root,
// and clears pending_root on every row it covered.
func (r *Repository) FinalizeRootMerkleTx(ctx context.Context, txHash [32]byte, root [32]byte, superseded [][32]byte) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("FinalizeRootMerkleTx.begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE root_transactions SET status='confirmed' WHERE hash=$1`, txHash[:]); err != nil {
		return wrapDB("FinalizeRootMerkleTx.status", err)
	}
	for _, h := range superseded {
		if _, err := tx.ExecContext(ctx, `UPDATE root_transactions SET status='missing' WHERE hash=$1`, h[:]); err != nil {
			return wrapDB("FinalizeRootMerkleTx.supersede", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO merkle_roots (root, confirming_tx_hash) VALUES ($1,$2)`, root[:], txHash[:]); err != nil {
		return wrapDB("FinalizeRootMerkleTx.insertRoot", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE child_events SET root=$1, pending_root=NULL WHERE pending_root=$1`, root[:]); err != nil {
		return wrapDB("FinalizeRootMerkleTx.clearPending", err)
	}
	return wrapDB("FinalizeRootMerkleTx.commit", tx.Commit())
}

// ReleaseRootMerkleTx clears pending_root for an update that will never
// confirm (its setMerkleRoot transaction reverted), returning its leaves
// to the unset pool for the next tick.
func (r *Repository) ReleaseRootMerkleTx(ctx context.Context, txHash [32]byte, root [32]byte) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("ReleaseRootMerkleTx.begin", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE root_transactions SET status='missing' WHERE hash=$1`, txHash[:]); err != nil {
		return wrapDB("ReleaseRootMerkleTx.status", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE child_events SET pending_root=NULL WHERE pending_root=$1`, root[:]); err != nil {
		return wrapDB("ReleaseRootMerkleTx.release", err)
	}
	return wrapDB("ReleaseRootMerkleTx.commit", tx.Commit())
}

// SetExpectedNextMerkleUpdateTime upserts the single row apiserver
// exposes as /expectedMerkleRootUpdate.
func (r *Repository) SetExpectedNextMerkleUpdateTime(ctx context.Context, next time.Time) error {
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO expected_next_merkle_update_time (id, next_time) VALUES (1,$1)
		ON CONFLICT (id) DO UPDATE SET next_time = EXCLUDED.next_time`, next)
	return wrapDB("SetExpectedNextMerkleUpdateTime", err)
}
