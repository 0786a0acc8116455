package store

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"time"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

// Checkpoint returns the last processed block/round height for network
// ("root" or "child") and whether a checkpoint has been recorded yet.
func (r *Repository) Checkpoint(ctx context.Context, network string) (uint64, bool, error) {
	var height uint64
	err := r.client.db.QueryRowContext(ctx,
		`SELECT last_processed_height FROM checkpoints WHERE network=$1`, network).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapDB("Checkpoint", err)
	}
	return height, true, nil
}

// PendingChildTransactions returns every CHILD transaction still awaiting
// confirmation, in nonce order, for startup resubmission (spec.md
// section 4.5's submit_missing_txs equivalent).
func (r *Repository) PendingChildTransactions(ctx context.Context) ([]ChildTransaction, error) {
	rows, err := r.client.db.QueryContext(ctx, `
		SELECT id, nonce, raw_bytes, hash, origin_root_tx_hash, origin_root_event_id, inserted_at, status
		FROM child_transactions WHERE status='pending' ORDER BY nonce ASC`)
	if err != nil {
		return nil, wrapDB("PendingChildTransactions", err)
	}
	defer rows.Close()

	var out []ChildTransaction
	for rows.Next() {
		var t ChildTransaction
		var hash, originTx []byte
		var eventID string
		if err := rows.Scan(&t.ID, &t.Nonce, &t.RawBytes, &hash, &originTx, &eventID, &t.InsertedAt, &t.Status); err != nil {
			return nil, wrapDB("PendingChildTransactions.scan", err)
		}
		copy(t.Hash[:], hash)
		copy(t.OriginRootTxHash[:], originTx)
		t.OriginRootEventID, _ = new(big.Int).SetString(eventID, 10)
		out = append(out, t)
	}
	return out, wrapDB("PendingChildTransactions.rows", rows.Err())
}

// NextChildNonce returns one past the highest nonce ever assigned to a
// CHILD transaction, and false if none has been assigned yet (cmd/relayer
// then starts at nonce 0; the chain's account sequence number is not read).
func (r *Repository) NextChildNonce(ctx context.Context) (uint64, bool, error) {
	var max sql.NullInt64
	err := r.client.db.QueryRowContext(ctx, `SELECT MAX(nonce) FROM child_transactions`).Scan(&max)
	if err != nil {
		return 0, false, wrapDB("NextChildNonce", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64) + 1, true, nil
}

// PendingRootMerkleUpdate reconstructs the in-flight setMerkleRoot
// update, if any, along with the CHILD event indices it covers, so the
// Merkle set worker can resume waiting for confirmation instead of
// re-deriving and re-sending a new root after a restart. Multiple rows
// may legitimately be pending at once: they are gas-escalation variants
// of the same logical update and must share a nonce and root. Pending
// rows that disagree on either are a tampering signal the caller should
// treat as fatal.
func (r *Repository) PendingRootMerkleUpdate(ctx context.Context) (*PendingMerkleUpdate, error) {
	rows, err := r.client.db.QueryContext(ctx, `
		SELECT id, hash, raw_signed_bytes, nonce, gas_price, root, inserted_at, status
		FROM root_transactions WHERE status='pending' ORDER BY id ASC`)
	if err != nil {
		return nil, wrapDB("PendingRootMerkleUpdate", err)
	}
	defer rows.Close()

	var pending []RootTransaction
	for rows.Next() {
		var t RootTransaction
		var hash, raw, root []byte
		var gasPrice string
		if err := rows.Scan(&t.ID, &hash, &raw, &t.Nonce, &gasPrice, &root, &t.InsertedAt, &t.Status); err != nil {
			return nil, wrapDB("PendingRootMerkleUpdate.scan", err)
		}
		copy(t.Hash[:], hash)
		t.RawSignedBytes = raw
		t.GasPrice, _ = new(big.Int).SetString(gasPrice, 10)
		copy(t.Root[:], root)
		pending = append(pending, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("PendingRootMerkleUpdate.rows", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	nonce, root := pending[0].Nonce, pending[0].Root
	for _, t := range pending[1:] {
		if t.Nonce != nonce || t.Root != root {
			return nil, bridgeerr.New(bridgeerr.KindTampering, "PendingRootMerkleUpdate",
				errors.New("pending root_transactions rows disagree on nonce/root; invariant violated"))
		}
	}

	idRows, err := r.client.db.QueryContext(ctx,
		`SELECT event_index FROM child_events WHERE pending_root=$1 ORDER BY event_index ASC`, root[:])
	if err != nil {
		return nil, wrapDB("PendingRootMerkleUpdate.affected", err)
	}
	defer idRows.Close()

	var affected []uint64
	for idRows.Next() {
		var idx uint64
		if err := idRows.Scan(&idx); err != nil {
			return nil, wrapDB("PendingRootMerkleUpdate.affected.scan", err)
		}
		affected = append(affected, idx)
	}
	return &PendingMerkleUpdate{Root: root, AffectedIDs: affected, Nonce: nonce, Variants: pending},
		wrapDB("PendingRootMerkleUpdate.affected.rows", idRows.Err())
}

// UnsetWithdrawals returns every CHILD withdraw event not yet claimed on
// ROOT and not under a pending Merkle root (rows already covered by a
// confirmed root but not yet claimed are included): the set cmd/relayer
// folds into the worker's in-memory leaf map on startup.
func (r *Repository) UnsetWithdrawals(ctx context.Context) ([]PendingWithdrawal, error) {
	rows, err := r.client.db.QueryContext(ctx, `
		SELECT event_index, event_merkle_leaf_hash, tx_hash FROM child_events
		WHERE event_type='withdraw' AND processed IS NULL AND pending_root IS NULL
		ORDER BY event_index ASC`)
	if err != nil {
		return nil, wrapDB("UnsetWithdrawals", err)
	}
	defer rows.Close()

	var out []PendingWithdrawal
	for rows.Next() {
		var p PendingWithdrawal
		var leaf, txHash []byte
		if err := rows.Scan(&p.EventIndex, &leaf, &txHash); err != nil {
			return nil, wrapDB("UnsetWithdrawals.scan", err)
		}
		copy(p.LeafHash[:], leaf)
		copy(p.ChildTxHash[:], txHash)
		out = append(out, p)
	}
	return out, wrapDB("UnsetWithdrawals.rows", rows.Err())
}

// ApprovedHighWatermark returns the highest CHILD withdraw event index
// ROOT has already confirmed, and false if none has been confirmed yet.
// The Merkle set worker must never include an index at or below this
// watermark in a future root (it would be unreachable: ROOT already
// rejects it as a duplicate).
func (r *Repository) ApprovedHighWatermark(ctx context.Context) (uint64, bool, error) {
	var max sql.NullInt64
	err := r.client.db.QueryRowContext(ctx, `
		SELECT MAX(event_index) FROM child_events WHERE event_type='withdraw' AND processed IS NOT NULL`).Scan(&max)
	if err != nil {
		return 0, false, wrapDB("ApprovedHighWatermark", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

// TokenMaps returns the full CHILD-index <-> ROOT-address mapping table.
func (r *Repository) TokenMaps(ctx context.Context) ([]TokenMapEntry, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT root_address, child_index, child_subindex, eth_name, decimals FROM token_maps`)
	if err != nil {
		return nil, wrapDB("TokenMaps", err)
	}
	defer rows.Close()

	var out []TokenMapEntry
	for rows.Next() {
		var e TokenMapEntry
		var addr []byte
		if err := rows.Scan(&addr, &e.ChildIndex, &e.ChildSubindex, &e.EthName, &e.Decimals); err != nil {
			return nil, wrapDB("TokenMaps.scan", err)
		}
		copy(e.RootAddress[:], addr)
		out = append(out, e)
	}
	return out, wrapDB("TokenMaps.rows", rows.Err())
}

// ExpectedNextMerkleUpdateTime returns the scheduled time of the next
// Merkle root update tick, as exposed by cmd/apiserver.
func (r *Repository) ExpectedNextMerkleUpdateTime(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	err := r.client.db.QueryRowContext(ctx,
		`SELECT next_time FROM expected_next_merkle_update_time WHERE id=1`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapDB("ExpectedNextMerkleUpdateTime", err)
	}
	return t, true, nil
}

// LeavesForRoot returns the ordered leaf set that produced a previously
// set Merkle root, for apiserver proof reconstruction.
func (r *Repository) LeavesForRoot(ctx context.Context, root [32]byte) ([]PendingWithdrawal, error) {
	rows, err := r.client.db.QueryContext(ctx, `
		SELECT event_index, event_merkle_leaf_hash, tx_hash FROM child_events
		WHERE root=$1 ORDER BY event_index ASC`, root[:])
	if err != nil {
		return nil, wrapDB("LeavesForRoot", err)
	}
	defer rows.Close()

	var out []PendingWithdrawal
	for rows.Next() {
		var p PendingWithdrawal
		var leaf, txHash []byte
		if err := rows.Scan(&p.EventIndex, &leaf, &txHash); err != nil {
			return nil, wrapDB("LeavesForRoot.scan", err)
		}
		copy(p.LeafHash[:], leaf)
		copy(p.ChildTxHash[:], txHash)
		out = append(out, p)
	}
	return out, wrapDB("LeavesForRoot.rows", rows.Err())
}

// RootForChildEvent returns the Merkle root that covers a CHILD withdraw
// event, and false if it has not been folded into a set root yet, for
// GET /ethereum/proof/{tx}/{event_id}.
func (r *Repository) RootForChildEvent(ctx context.Context, txHash [32]byte, eventIndex uint64) ([32]byte, bool, error) {
	var root []byte
	err := r.client.db.QueryRowContext(ctx, `
		SELECT root FROM child_events
		WHERE tx_hash=$1 AND event_index=$2 AND event_type='withdraw'`, txHash[:], eventIndex).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return [32]byte{}, false, nil
	}
	if err != nil {
		return [32]byte{}, false, wrapDB("RootForChildEvent", err)
	}
	if root == nil {
		return [32]byte{}, false, nil
	}
	var r32 [32]byte
	copy(r32[:], root)
	return r32, true, nil
}

// DepositByRootTxHash looks up a ROOT deposit event by its originating
// transaction hash, for GET /deposit/{tx}.
func (r *Repository) DepositByRootTxHash(ctx context.Context, txHash [32]byte) (*RootDepositEvent, error) {
	var d RootDepositEvent
	var originTx, depositor, ccdReceiver, rootToken []byte
	var eventID, amount string
	err := r.client.db.QueryRowContext(ctx, `
		SELECT origin_tx_hash, origin_event_id, depositor, ccd_receiver, root_token, amount
		FROM root_deposit_events WHERE origin_tx_hash=$1`, txHash[:]).
		Scan(&originTx, &eventID, &depositor, &ccdReceiver, &rootToken, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDB("DepositByRootTxHash", err)
	}
	copy(d.OriginTxHash[:], originTx)
	copy(d.Depositor[:], depositor)
	copy(d.RootToken[:], rootToken)
	d.CCDReceiver = ccdReceiver
	d.OriginEventID, _ = new(big.Int).SetString(eventID, 10)
	d.Amount, _ = new(big.Int).SetString(amount, 10)
	return &d, nil
}

// WithdrawByChildTxHash looks up a CHILD withdraw event (and its ROOT
// confirmation, if any) by its CHILD transaction hash, for GET
// /withdraw/{tx}.
func (r *Repository) WithdrawByChildTxHash(ctx context.Context, txHash [32]byte) (*ChildEvent, []byte, error) {
	var e ChildEvent
	var hash, receiver, rawData []byte
	var amount sql.NullString
	var processed []byte
	err := r.client.db.QueryRowContext(ctx, `
		SELECT tx_hash, event_index, child_contract_index, child_contract_subindex,
		       receiver, amount, token_id, event_data, processed
		FROM child_events WHERE tx_hash=$1 AND event_type='withdraw'`, txHash[:]).
		Scan(&hash, &e.EventIndex, &e.ChildContractIndex, &e.ChildContractSubindex,
			&receiver, &amount, &e.TokenID, &rawData, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, wrapDB("WithdrawByChildTxHash", err)
	}
	copy(e.TxHash[:], hash)
	copy(e.Receiver[:], receiver)
	e.RawData = rawData
	e.Type = ChildEventWithdraw
	if amount.Valid {
		e.Amount, _ = new(big.Int).SetString(amount.String, 10)
	}
	return &e, processed, nil
}
