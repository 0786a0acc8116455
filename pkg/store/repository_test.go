package store

import (
	"context"
	"database/sql"
	"math/big"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// Database tests run only against a real Postgres instance named by
// RELAYER_TEST_DB; without it they're skipped, not faked, since the
// behavior under test is the atomicity of multi-table transactions.
var testClient *Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("RELAYER_TEST_DB")
	if dsn == "" {
		os.Exit(0)
	}

	c, err := NewClient(dsn)
	if err != nil {
		panic("connect to test database: " + err.Error())
	}
	if err := c.MigrateUp(context.Background()); err != nil {
		panic("migrate test database: " + err.Error())
	}
	testClient = c

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	tables := []string{
		"child_events", "root_deposit_events", "root_withdraw_events",
		"token_maps", "child_transactions", "root_transactions",
		"merkle_roots", "checkpoints", "expected_next_merkle_update_time",
	}
	for _, tbl := range tables {
		if _, err := testClient.db.Exec("TRUNCATE TABLE " + tbl + " CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", tbl, err)
		}
	}
}

func TestInsertRootBatch_AdvancesCheckpointAndInsertsRows(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	resetTables(t)
	repo := NewRepository(testClient)
	ctx := context.Background()

	deposit := RootDepositEvent{
		OriginTxHash:  [32]byte{0x01},
		OriginEventID: big.NewInt(1),
		Depositor:     [20]byte{0x02},
		CCDReceiver:   []byte{0x03},
		RootToken:     [20]byte{0x04},
		Amount:        big.NewInt(100),
	}
	if err := repo.InsertRootBatch(ctx, 50, []RootDepositEvent{deposit}, nil, nil); err != nil {
		t.Fatalf("InsertRootBatch: %v", err)
	}

	height, ok, err := repo.Checkpoint(ctx, "root")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !ok || height != 50 {
		t.Errorf("Checkpoint = (%d, %v), want (50, true)", height, ok)
	}
}

func TestInsertRootBatch_DuplicateEventIDIsIdempotent(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	resetTables(t)
	repo := NewRepository(testClient)
	ctx := context.Background()

	deposit := RootDepositEvent{
		OriginTxHash:  [32]byte{0x01},
		OriginEventID: big.NewInt(7),
		Depositor:     [20]byte{0x02},
		CCDReceiver:   []byte{0x03},
		RootToken:     [20]byte{0x04},
		Amount:        big.NewInt(100),
	}
	if err := repo.InsertRootBatch(ctx, 10, []RootDepositEvent{deposit}, nil, nil); err != nil {
		t.Fatalf("first InsertRootBatch: %v", err)
	}
	// Replaying the same batch (crash-and-retry) must not fail or duplicate
	// the row; the unique constraint on origin_event_id absorbs it.
	if err := repo.InsertRootBatch(ctx, 10, []RootDepositEvent{deposit}, nil, nil); err != nil {
		t.Fatalf("replayed InsertRootBatch: %v", err)
	}

	var count int
	if err := testClient.db.QueryRowContext(ctx,
		`SELECT count(*) FROM root_deposit_events WHERE origin_event_id=$1`, "7").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 after replaying the same batch", count)
	}
}

func TestEnqueueChildTransaction_IdempotentPerOriginEventID(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	resetTables(t)
	repo := NewRepository(testClient)
	ctx := context.Background()

	txn := ChildTransaction{
		Nonce:             1,
		RawBytes:          []byte{0xde, 0xad},
		Hash:              [32]byte{0x11},
		OriginRootTxHash:  [32]byte{0x22},
		OriginRootEventID: big.NewInt(5),
		Status:            ChildTxPending,
	}
	if err := repo.EnqueueChildTransaction(ctx, txn); err != nil {
		t.Fatalf("first EnqueueChildTransaction: %v", err)
	}

	// A retry after a crash before the nonce was durably recorded elsewhere
	// must not enqueue a second transaction for the same ROOT event.
	retry := txn
	retry.Nonce = 2
	retry.Hash = [32]byte{0x33}
	if err := repo.EnqueueChildTransaction(ctx, retry); err != nil {
		t.Fatalf("retry EnqueueChildTransaction: %v", err)
	}

	var count int
	if err := testClient.db.QueryRowContext(ctx,
		`SELECT count(*) FROM child_transactions WHERE origin_root_event_id=$1`, "5").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 (idempotent on origin_root_event_id)", count)
	}
}

func TestFinalizeRootMerkleTx_ClearsPendingAndStampsRoot(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	resetTables(t)
	repo := NewRepository(testClient)
	ctx := context.Background()

	event := ChildEvent{
		TxHash:     [32]byte{0x01},
		EventIndex: 1,
		Type:       ChildEventWithdraw,
		Receiver:   [20]byte{0x02},
		Amount:     big.NewInt(10),
		TokenID:    0,
	}
	if err := repo.InsertChildBatch(ctx, 1, []ChildEvent{event}, map[uint64][32]byte{1: {0xaa}}); err != nil {
		t.Fatalf("InsertChildBatch: %v", err)
	}

	txHash := [32]byte{0xbb}
	root := [32]byte{0xcc}
	rootTx := RootTransaction{Hash: txHash, RawSignedBytes: []byte{0x01}, Nonce: 1, GasPrice: big.NewInt(1), Root: root}
	if err := repo.InsertRootMerkleTx(ctx, rootTx, []uint64{1}); err != nil {
		t.Fatalf("InsertRootMerkleTx: %v", err)
	}

	if err := repo.FinalizeRootMerkleTx(ctx, txHash, root, nil); err != nil {
		t.Fatalf("FinalizeRootMerkleTx: %v", err)
	}

	var pendingRoot sql.NullString
	var storedRoot []byte
	if err := testClient.db.QueryRowContext(ctx,
		`SELECT pending_root, root FROM child_events WHERE event_index=1`).Scan(&pendingRoot, &storedRoot); err != nil {
		t.Fatalf("query child_events: %v", err)
	}
	if pendingRoot.Valid {
		t.Error("pending_root should be cleared after finalization")
	}
	if len(storedRoot) == 0 {
		t.Error("root should be stamped onto the covered withdraw row")
	}
}
