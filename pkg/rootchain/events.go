package rootchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

func wrapDecode(op string, err error) error {
	return bridgeerr.New(bridgeerr.KindDecode, op, err)
}

// bridgeEventsABI carries the five state-sender/chain-manager events the
// relayer decodes. eventId is always the dedup key: the CHILD side
// rejects anything it has already applied for that id.
const bridgeEventsABI = `[
	{
		"anonymous": false,
		"name": "LockedToken",
		"type": "event",
		"inputs": [
			{"indexed": true,  "name": "eventId",     "type": "uint256"},
			{"indexed": true,  "name": "depositor",   "type": "address"},
			{"indexed": false, "name": "rootToken",   "type": "address"},
			{"indexed": false, "name": "amount",      "type": "uint256"},
			{"indexed": false, "name": "ccdReceiver", "type": "bytes"}
		]
	},
	{
		"anonymous": false,
		"name": "TokenMapAdded",
		"type": "event",
		"inputs": [
			{"indexed": true,  "name": "eventId",       "type": "uint256"},
			{"indexed": true,  "name": "rootToken",     "type": "address"},
			{"indexed": false, "name": "childIndex",    "type": "uint256"},
			{"indexed": false, "name": "childSubindex", "type": "uint256"},
			{"indexed": false, "name": "name",          "type": "string"},
			{"indexed": false, "name": "decimals",      "type": "uint8"}
		]
	},
	{
		"anonymous": false,
		"name": "TokenMapRemoved",
		"type": "event",
		"inputs": [
			{"indexed": true,  "name": "eventId",       "type": "uint256"},
			{"indexed": true,  "name": "rootToken",     "type": "address"},
			{"indexed": false, "name": "childIndex",    "type": "uint256"},
			{"indexed": false, "name": "childSubindex", "type": "uint256"}
		]
	},
	{
		"anonymous": false,
		"name": "WithdrawEvent",
		"type": "event",
		"inputs": [
			{"indexed": true,  "name": "eventId",         "type": "uint256"},
			{"indexed": true,  "name": "receiver",        "type": "address"},
			{"indexed": false, "name": "amount",          "type": "uint256"},
			{"indexed": false, "name": "childTxHash",     "type": "bytes32"},
			{"indexed": false, "name": "childEventIndex", "type": "uint256"}
		]
	},
	{
		"anonymous": false,
		"name": "MerkleRoot",
		"type": "event",
		"inputs": [
			{"indexed": true, "name": "root", "type": "bytes32"}
		]
	}
]`

var bridgeABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(bridgeEventsABI))
	if err != nil {
		panic(fmt.Sprintf("rootchain: invalid embedded ABI: %v", err))
	}
	bridgeABI = parsed
}

// Topics returns the keccak topic hash for every watched event, for the
// observer's FilterQuery.
func Topics() []common.Hash {
	out := make([]common.Hash, 0, len(bridgeABI.Events))
	for _, e := range bridgeABI.Events {
		out = append(out, e.ID)
	}
	return out
}

// DecodedBatch is the typed result of decoding one confirmation-windowed
// log range, ready for store.Repository.InsertRootBatch.
type DecodedBatch struct {
	Deposits          []store.RootDepositEvent
	TokenMaps         []store.RootTokenMapEvent
	WithdrawConfirms  []store.RootWithdrawConfirmation
	MerkleConfirmed   []MerkleRootConfirmation
}

// MerkleRootConfirmation is a decoded MerkleRoot log: ROOT has set a new
// Merkle root in its own storage.
type MerkleRootConfirmation struct {
	TxHash common.Hash
	Root   [32]byte
}

// DecodeLog classifies and decodes a single log into b, or returns a
// KindDecode error if its topic is recognized but its data does not
// match the expected layout (a fatal condition: the deployed contract
// has diverged from this relayer's understanding of it).
func DecodeLog(b *DecodedBatch, l types.Log) error {
	if len(l.Topics) == 0 {
		return nil
	}
	event, err := bridgeABI.EventByID(l.Topics[0])
	if err != nil {
		return nil // topic not one we watch; FilterQuery should prevent this
	}

	switch event.Name {
	case "LockedToken":
		return decodeLockedToken(b, l)
	case "TokenMapAdded":
		return decodeTokenMap(b, l, true)
	case "TokenMapRemoved":
		return decodeTokenMap(b, l, false)
	case "WithdrawEvent":
		return decodeWithdrawEvent(b, l)
	case "MerkleRoot":
		return decodeMerkleRoot(b, l)
	default:
		return nil
	}
}

func decodeErr(op string, err error) error {
	return wrapDecode(op, err)
}

func decodeLockedToken(b *DecodedBatch, l types.Log) error {
	if len(l.Topics) < 3 {
		return decodeErr("LockedToken", fmt.Errorf("expected 3 topics, got %d", len(l.Topics)))
	}
	vals, err := bridgeABI.Unpack("LockedToken", l.Data)
	if err != nil {
		return decodeErr("LockedToken.unpack", err)
	}
	if len(vals) != 3 {
		return decodeErr("LockedToken", fmt.Errorf("expected 3 data fields, got %d", len(vals)))
	}
	rootToken, ok := vals[0].(common.Address)
	if !ok {
		return decodeErr("LockedToken", fmt.Errorf("rootToken: unexpected type"))
	}
	amount, ok := vals[1].(*big.Int)
	if !ok {
		return decodeErr("LockedToken", fmt.Errorf("amount: unexpected type"))
	}
	ccdReceiver, ok := vals[2].([]byte)
	if !ok {
		return decodeErr("LockedToken", fmt.Errorf("ccdReceiver: unexpected type"))
	}

	evt := store.RootDepositEvent{
		OriginTxHash:  [32]byte(l.TxHash),
		OriginEventID: new(big.Int).SetBytes(l.Topics[1].Bytes()),
		CCDReceiver:   ccdReceiver,
		RootToken:     [20]byte(rootToken),
		Amount:        amount,
	}
	evt.Depositor = [20]byte(common.BytesToAddress(l.Topics[2].Bytes()))
	b.Deposits = append(b.Deposits, evt)
	return nil
}

func decodeTokenMap(b *DecodedBatch, l types.Log, added bool) error {
	if len(l.Topics) < 3 {
		return decodeErr("TokenMap", fmt.Errorf("expected 3 topics, got %d", len(l.Topics)))
	}
	name := "TokenMapAdded"
	if !added {
		name = "TokenMapRemoved"
	}
	vals, err := bridgeABI.Unpack(name, l.Data)
	if err != nil {
		return decodeErr(name+".unpack", err)
	}

	childIndex, ok := vals[0].(*big.Int)
	if !ok {
		return decodeErr(name, fmt.Errorf("childIndex: unexpected type"))
	}
	childSubindex, ok := vals[1].(*big.Int)
	if !ok {
		return decodeErr(name, fmt.Errorf("childSubindex: unexpected type"))
	}

	evt := store.RootTokenMapEvent{
		OriginTxHash:  [32]byte(l.TxHash),
		OriginEventID: new(big.Int).SetBytes(l.Topics[1].Bytes()),
		Added:         added,
		RootToken:     [20]byte(common.BytesToAddress(l.Topics[2].Bytes())),
		ChildIndex:    childIndex.Uint64(),
		ChildSubindex: childSubindex.Uint64(),
	}
	if added {
		if len(vals) != 4 {
			return decodeErr(name, fmt.Errorf("expected 4 data fields, got %d", len(vals)))
		}
		ethName, ok := vals[2].(string)
		if !ok {
			return decodeErr(name, fmt.Errorf("name: unexpected type"))
		}
		decimals, ok := vals[3].(uint8)
		if !ok {
			return decodeErr(name, fmt.Errorf("decimals: unexpected type"))
		}
		evt.EthName = ethName
		evt.Decimals = decimals
	}
	b.TokenMaps = append(b.TokenMaps, evt)
	return nil
}

func decodeWithdrawEvent(b *DecodedBatch, l types.Log) error {
	if len(l.Topics) < 3 {
		return decodeErr("WithdrawEvent", fmt.Errorf("expected 3 topics, got %d", len(l.Topics)))
	}
	vals, err := bridgeABI.Unpack("WithdrawEvent", l.Data)
	if err != nil {
		return decodeErr("WithdrawEvent.unpack", err)
	}
	if len(vals) != 3 {
		return decodeErr("WithdrawEvent", fmt.Errorf("expected 3 data fields, got %d", len(vals)))
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return decodeErr("WithdrawEvent", fmt.Errorf("amount: unexpected type"))
	}
	childTxHash, ok := vals[1].([32]byte)
	if !ok {
		return decodeErr("WithdrawEvent", fmt.Errorf("childTxHash: unexpected type"))
	}
	childEventIndex, ok := vals[2].(*big.Int)
	if !ok {
		return decodeErr("WithdrawEvent", fmt.Errorf("childEventIndex: unexpected type"))
	}

	b.WithdrawConfirms = append(b.WithdrawConfirms, store.RootWithdrawConfirmation{
		RootTxHash:            [32]byte(l.TxHash),
		OriginEventID:         new(big.Int).SetBytes(l.Topics[1].Bytes()),
		Amount:                amount,
		Receiver:              [20]byte(common.BytesToAddress(l.Topics[2].Bytes())),
		OriginChildTxHash:     childTxHash,
		OriginChildEventIndex: childEventIndex.Uint64(),
	})
	return nil
}

func decodeMerkleRoot(b *DecodedBatch, l types.Log) error {
	if len(l.Topics) < 2 {
		return decodeErr("MerkleRoot", fmt.Errorf("expected 2 topics, got %d", len(l.Topics)))
	}
	var root [32]byte
	copy(root[:], l.Topics[1].Bytes())
	b.MerkleConfirmed = append(b.MerkleConfirmed, MerkleRootConfirmation{TxHash: l.TxHash, Root: root})
	return nil
}
