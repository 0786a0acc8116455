package merkletree

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WithdrawLeafInput carries the fields the ROOT verifier contract hashes
// for a single pending withdrawal, per spec.md section 6:
//
//	keccak256(abi_encode(
//	  uint256(ccd_index), uint256(ccd_sub_index), uint256(amount),
//	  address(user_wallet), bytes32(tx_hash), uint256(event_index),
//	  uint256(token_id)))
type WithdrawLeafInput struct {
	ChildContractIndex    uint64
	ChildContractSubindex uint64
	Amount                *big.Int
	UserWallet            common.Address
	ChildTxHash           [32]byte
	EventIndex            uint64
	TokenID               uint64
}

var leafArgs = mustABIArgs(
	"uint256", "uint256", "uint256", "address", "bytes32", "uint256", "uint256",
)

func mustABIArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: ty}
	}
	return args
}

// Encode ABI-encodes the leaf input in the canonical field order.
func (w WithdrawLeafInput) Encode() ([]byte, error) {
	return leafArgs.Pack(
		new(big.Int).SetUint64(w.ChildContractIndex),
		new(big.Int).SetUint64(w.ChildContractSubindex),
		w.Amount,
		w.UserWallet,
		w.ChildTxHash,
		new(big.Int).SetUint64(w.EventIndex),
		new(big.Int).SetUint64(w.TokenID),
	)
}

// Hash returns the Keccak256 leaf hash for this withdrawal, the value
// stored as child_events.event_merkle_leaf_hash.
func (w WithdrawLeafInput) Hash() ([32]byte, error) {
	enc, err := w.Encode()
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(crypto.Keccak256Hash(enc)), nil
}
