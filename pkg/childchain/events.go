package childchain

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

// Event tag bytes, the first byte of every bridge manager event's raw
// attribute value. An unrecognized tag is a decode failure, not a value
// to skip: a deployed contract emitting a tag this relayer doesn't know
// means its understanding of the contract has drifted, which is fatal
// per spec.md's error-handling design.
const (
	tagTokenMap   byte = 0xFF
	tagDeposit    byte = 0xFE
	tagWithdraw   byte = 0xFD
	tagGrantRole  byte = 0x00
	tagRevokeRole byte = 0x01
)

// DecodeEvent decodes one bridge manager event attribute value
// (eventIndex, raw) into a store.ChildEvent, or returns a KindDecode
// error if the tag is unrecognized or the fixed layout doesn't match the
// payload length.
func DecodeEvent(txHash [32]byte, eventIndex uint64, raw []byte) (store.ChildEvent, error) {
	if len(raw) == 0 {
		return store.ChildEvent{}, bridgeerr.New(bridgeerr.KindDecode, "DecodeEvent", fmt.Errorf("empty event payload"))
	}

	base := store.ChildEvent{TxHash: txHash, EventIndex: eventIndex, RawData: raw}

	switch raw[0] {
	case tagTokenMap:
		return decodeTokenMap(base, raw)
	case tagDeposit:
		return decodeDeposit(base, raw)
	case tagWithdraw:
		return decodeWithdraw(base, raw)
	case tagGrantRole:
		return decodeRole(base, raw, store.ChildEventGrantRole)
	case tagRevokeRole:
		return decodeRole(base, raw, store.ChildEventRevokeRole)
	default:
		return store.ChildEvent{}, bridgeerr.New(bridgeerr.KindDecode, "DecodeEvent",
			fmt.Errorf("unrecognized event tag 0x%02x", raw[0]))
	}
}

// decodeTokenMap: tag(1) childIndex(8) childSubindex(8) rootAddress(20)
func decodeTokenMap(base store.ChildEvent, raw []byte) (store.ChildEvent, error) {
	const want = 1 + 8 + 8 + 20
	if len(raw) != want {
		return store.ChildEvent{}, bridgeerr.New(bridgeerr.KindDecode, "decodeTokenMap",
			fmt.Errorf("expected %d bytes, got %d", want, len(raw)))
	}
	base.Type = store.ChildEventTokenMap
	base.ChildContractIndex = binary.BigEndian.Uint64(raw[1:9])
	base.ChildContractSubindex = binary.BigEndian.Uint64(raw[9:17])
	copy(base.Receiver[:], raw[17:37]) // carries the ROOT token address here
	return base, nil
}

// decodeDeposit: tag(1) childIndex(8) childSubindex(8) receiver(20)
// amount(32 big-endian) tokenId(8)
func decodeDeposit(base store.ChildEvent, raw []byte) (store.ChildEvent, error) {
	const want = 1 + 8 + 8 + 20 + 32 + 8
	if len(raw) != want {
		return store.ChildEvent{}, bridgeerr.New(bridgeerr.KindDecode, "decodeDeposit",
			fmt.Errorf("expected %d bytes, got %d", want, len(raw)))
	}
	base.Type = store.ChildEventDeposit
	base.ChildContractIndex = binary.BigEndian.Uint64(raw[1:9])
	base.ChildContractSubindex = binary.BigEndian.Uint64(raw[9:17])
	copy(base.Receiver[:], raw[17:37])
	base.Amount = new(big.Int).SetBytes(raw[37:69])
	base.TokenID = binary.BigEndian.Uint64(raw[69:77])
	return base, nil
}

// decodeWithdraw: tag(1) receiver(20, ROOT address) amount(32 big-endian)
// tokenId(8)
func decodeWithdraw(base store.ChildEvent, raw []byte) (store.ChildEvent, error) {
	const want = 1 + 20 + 32 + 8
	if len(raw) != want {
		return store.ChildEvent{}, bridgeerr.New(bridgeerr.KindDecode, "decodeWithdraw",
			fmt.Errorf("expected %d bytes, got %d", want, len(raw)))
	}
	base.Type = store.ChildEventWithdraw
	copy(base.Receiver[:], raw[1:21])
	base.Amount = new(big.Int).SetBytes(raw[21:53])
	base.TokenID = binary.BigEndian.Uint64(raw[53:61])
	return base, nil
}

// decodeRole: tag(1) account(20)
func decodeRole(base store.ChildEvent, raw []byte, kind store.ChildEventType) (store.ChildEvent, error) {
	const want = 1 + 20
	if len(raw) != want {
		return store.ChildEvent{}, bridgeerr.New(bridgeerr.KindDecode, "decodeRole",
			fmt.Errorf("expected %d bytes, got %d", want, len(raw)))
	}
	base.Type = kind
	copy(base.Receiver[:], raw[1:21])
	return base, nil
}
