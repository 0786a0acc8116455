package store

import (
	"math/big"
	"time"
)

// RootDepositEvent is a decoded LockedToken event from the ROOT state
// sender contract: a user has locked root_token on ROOT for delivery to
// ccd_receiver on CHILD.
type RootDepositEvent struct {
	OriginTxHash  [32]byte
	OriginEventID *big.Int
	Depositor     [20]byte
	CCDReceiver   []byte // CHILD account/contract receiver, chain-native encoding
	RootToken     [20]byte
	Amount        *big.Int
}

// RootTokenMapEvent is a decoded TokenMapAdded/TokenMapRemoved event.
type RootTokenMapEvent struct {
	OriginTxHash  [32]byte
	OriginEventID *big.Int
	Added         bool
	RootToken     [20]byte
	ChildIndex    uint64
	ChildSubindex uint64
	EthName       string
	Decimals      uint8
}

// RootWithdrawConfirmation is a decoded WithdrawEvent: ROOT has released
// funds for a CHILD withdrawal that was previously included in a set
// Merkle root.
type RootWithdrawConfirmation struct {
	RootTxHash            [32]byte
	OriginEventID         *big.Int
	Amount                *big.Int
	Receiver              [20]byte
	OriginChildTxHash     [32]byte
	OriginChildEventIndex uint64
}

// ChildEventType enumerates the CHILD event tag bytes from spec.md
// section 6.
type ChildEventType string

const (
	ChildEventTokenMap   ChildEventType = "token_map"
	ChildEventDeposit    ChildEventType = "deposit"
	ChildEventWithdraw   ChildEventType = "withdraw"
	ChildEventGrantRole  ChildEventType = "grant_role"
	ChildEventRevokeRole ChildEventType = "revoke_role"
)

// ChildEvent is a decoded CHILD bridge-manager event.
type ChildEvent struct {
	TxHash                [32]byte
	EventIndex            uint64
	Type                  ChildEventType
	ChildContractIndex    uint64
	ChildContractSubindex uint64
	Receiver              [20]byte // ROOT address, for withdraw events
	Amount                *big.Int
	TokenID               uint64
	RawData               []byte
}

// ChildTxStatus mirrors the child_transactions.status column.
type ChildTxStatus string

const (
	ChildTxPending   ChildTxStatus = "pending"
	ChildTxFinalized ChildTxStatus = "finalized"
	ChildTxFailed    ChildTxStatus = "failed"
	ChildTxMissing   ChildTxStatus = "missing"
)

// ChildTransaction is a CHILD transaction submitted on behalf of a ROOT
// deposit or TokenMapAdded event, keyed by the ROOT event id it serves.
type ChildTransaction struct {
	ID                int64
	Nonce             uint64
	RawBytes          []byte
	Hash              [32]byte
	OriginRootTxHash  [32]byte
	OriginRootEventID *big.Int
	InsertedAt        time.Time
	Status            ChildTxStatus
}

// RootTxStatus mirrors the root_transactions.status column.
type RootTxStatus string

const (
	RootTxPending   RootTxStatus = "pending"
	RootTxConfirmed RootTxStatus = "confirmed"
	RootTxMissing   RootTxStatus = "missing"
)

// RootTransaction is a setMerkleRoot transaction submitted to ROOT.
type RootTransaction struct {
	ID             int64
	Hash           [32]byte
	RawSignedBytes []byte
	Nonce          uint64
	GasPrice       *big.Int
	Root           [32]byte
	InsertedAt     time.Time
	Status         RootTxStatus
}

// PendingWithdrawal is a CHILD withdraw event not yet covered by a set
// Merkle root, reconstructed for the Merkle set worker's in-memory leaf
// set on startup.
type PendingWithdrawal struct {
	EventIndex  uint64
	LeafHash    [32]byte
	ChildTxHash [32]byte
}

// PendingMerkleUpdate is the in-flight setMerkleRoot transaction
// reconstructed from root_transactions/child_events on startup, used to
// resume waiting for confirmation instead of re-sending. Variants holds
// every escalation attempt still pending for this logical update (same
// nonce and root, ascending gas price/age); replace-by-fee never
// guarantees which one a miner actually includes, so all must be
// resumed and polled.
type PendingMerkleUpdate struct {
	Root        [32]byte
	AffectedIDs []uint64
	Nonce       uint64
	Variants    []RootTransaction
}

// TokenMapEntry is a CHILD-index <-> ROOT-address token mapping plus
// the token name and decimals carried by its TokenMapAdded event.
type TokenMapEntry struct {
	RootAddress   [20]byte
	ChildIndex    uint64
	ChildSubindex uint64
	EthName       string
	Decimals      uint8
}
