package rootchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

func packData(t *testing.T, event string, args ...interface{}) []byte {
	t.Helper()
	nonIndexed := bridgeABI.Events[event].Inputs.NonIndexed()
	packed, err := nonIndexed.Pack(args...)
	if err != nil {
		t.Fatalf("pack non-indexed %s: %v", event, err)
	}
	return packed
}

func TestDecodeLog_LockedToken(t *testing.T) {
	rootToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	amount := big.NewInt(500)
	ccdReceiver := []byte{0xde, 0xad}
	data := packData(t, "LockedToken", rootToken, amount, ccdReceiver)

	eventID := big.NewInt(42)
	depositor := common.HexToAddress("0x2222222222222222222222222222222222222222")
	l := types.Log{
		Topics: []common.Hash{
			bridgeABI.Events["LockedToken"].ID,
			common.BigToHash(eventID),
			common.BytesToHash(depositor.Bytes()),
		},
		Data:   data,
		TxHash: common.HexToHash("0xabc"),
	}

	var batch DecodedBatch
	if err := DecodeLog(&batch, l); err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if len(batch.Deposits) != 1 {
		t.Fatalf("got %d deposits, want 1", len(batch.Deposits))
	}
	d := batch.Deposits[0]
	if d.OriginEventID.Cmp(eventID) != 0 {
		t.Errorf("OriginEventID = %s, want %s", d.OriginEventID, eventID)
	}
	if d.Depositor != [20]byte(depositor) {
		t.Errorf("Depositor = %x, want %x", d.Depositor, depositor)
	}
	if d.RootToken != [20]byte(rootToken) {
		t.Errorf("RootToken = %x, want %x", d.RootToken, rootToken)
	}
	if d.Amount.Cmp(amount) != 0 {
		t.Errorf("Amount = %s, want %s", d.Amount, amount)
	}
}

func TestDecodeLog_TokenMapAdded(t *testing.T) {
	data := packData(t, "TokenMapAdded", big.NewInt(3), big.NewInt(0), "USDC", uint8(6))
	rootToken := common.HexToAddress("0x3333333333333333333333333333333333333333")
	l := types.Log{
		Topics: []common.Hash{
			bridgeABI.Events["TokenMapAdded"].ID,
			common.BigToHash(big.NewInt(9)),
			common.BytesToHash(rootToken.Bytes()),
		},
		Data: data,
	}

	var batch DecodedBatch
	if err := DecodeLog(&batch, l); err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if len(batch.TokenMaps) != 1 {
		t.Fatalf("got %d token maps, want 1", len(batch.TokenMaps))
	}
	tm := batch.TokenMaps[0]
	if !tm.Added {
		t.Error("Added = false, want true")
	}
	if tm.EthName != "USDC" || tm.Decimals != 6 {
		t.Errorf("EthName/Decimals = %s/%d, want USDC/6", tm.EthName, tm.Decimals)
	}
	if tm.ChildIndex != 3 {
		t.Errorf("ChildIndex = %d, want 3", tm.ChildIndex)
	}
}

func TestDecodeLog_TokenMapRemoved_NoNameOrDecimals(t *testing.T) {
	data := packData(t, "TokenMapRemoved", big.NewInt(3), big.NewInt(0))
	l := types.Log{
		Topics: []common.Hash{
			bridgeABI.Events["TokenMapRemoved"].ID,
			common.BigToHash(big.NewInt(9)),
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
		},
		Data: data,
	}
	var batch DecodedBatch
	if err := DecodeLog(&batch, l); err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if len(batch.TokenMaps) != 1 || batch.TokenMaps[0].Added {
		t.Fatalf("expected one removed token map entry, got %+v", batch.TokenMaps)
	}
}

func TestDecodeLog_WithdrawEvent(t *testing.T) {
	childTxHash := [32]byte{0x01, 0x02}
	data := packData(t, "WithdrawEvent", big.NewInt(77), childTxHash, big.NewInt(4))
	receiver := common.HexToAddress("0x4444444444444444444444444444444444444444")
	l := types.Log{
		Topics: []common.Hash{
			bridgeABI.Events["WithdrawEvent"].ID,
			common.BigToHash(big.NewInt(21)),
			common.BytesToHash(receiver.Bytes()),
		},
		Data:   data,
		TxHash: common.HexToHash("0xdef"),
	}
	var batch DecodedBatch
	if err := DecodeLog(&batch, l); err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if len(batch.WithdrawConfirms) != 1 {
		t.Fatalf("got %d withdraw confirms, want 1", len(batch.WithdrawConfirms))
	}
	w := batch.WithdrawConfirms[0]
	if w.Amount.Cmp(big.NewInt(77)) != 0 {
		t.Errorf("Amount = %s, want 77", w.Amount)
	}
	if w.OriginChildTxHash != childTxHash {
		t.Errorf("OriginChildTxHash = %x, want %x", w.OriginChildTxHash, childTxHash)
	}
	if w.OriginChildEventIndex != 4 {
		t.Errorf("OriginChildEventIndex = %d, want 4", w.OriginChildEventIndex)
	}
}

func TestDecodeLog_MerkleRoot(t *testing.T) {
	root := common.HexToHash("0x5555")
	l := types.Log{
		Topics: []common.Hash{bridgeABI.Events["MerkleRoot"].ID, root},
		TxHash: common.HexToHash("0x9999"),
	}
	var batch DecodedBatch
	if err := DecodeLog(&batch, l); err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if len(batch.MerkleConfirmed) != 1 {
		t.Fatalf("got %d merkle confirmations, want 1", len(batch.MerkleConfirmed))
	}
	if batch.MerkleConfirmed[0].Root != [32]byte(root) {
		t.Errorf("Root = %x, want %x", batch.MerkleConfirmed[0].Root, root)
	}
}

func TestDecodeLog_UnwatchedTopicIsIgnored(t *testing.T) {
	l := types.Log{Topics: []common.Hash{common.HexToHash("0xnotwatched")}}
	var batch DecodedBatch
	if err := DecodeLog(&batch, l); err != nil {
		t.Errorf("DecodeLog on an unwatched topic should not error, got %v", err)
	}
	if len(batch.Deposits)+len(batch.TokenMaps)+len(batch.WithdrawConfirms)+len(batch.MerkleConfirmed) != 0 {
		t.Error("an unwatched topic must not populate the batch")
	}
}

func TestDecodeLog_NoTopicsIsNoop(t *testing.T) {
	var batch DecodedBatch
	if err := DecodeLog(&batch, types.Log{}); err != nil {
		t.Errorf("DecodeLog on an empty log should not error, got %v", err)
	}
}

func TestDecodeLog_LockedToken_TooFewTopicsIsFatalDecode(t *testing.T) {
	l := types.Log{
		Topics: []common.Hash{bridgeABI.Events["LockedToken"].ID, common.BigToHash(big.NewInt(1))},
	}
	var batch DecodedBatch
	err := DecodeLog(&batch, l)
	if !bridgeerr.Is(err, bridgeerr.KindDecode) {
		t.Fatalf("expected KindDecode, got %v", err)
	}
	if !bridgeerr.Fatal(err) {
		t.Error("a topic-count mismatch on a watched event must be fatal")
	}
}
