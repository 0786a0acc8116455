package childchain

import (
	"encoding/binary"
	"testing"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

func TestDecodeEvent_TokenMap(t *testing.T) {
	raw := make([]byte, 1+8+8+20)
	raw[0] = tagTokenMap
	binary.BigEndian.PutUint64(raw[1:9], 7)
	binary.BigEndian.PutUint64(raw[9:17], 1)
	rootAddr := [20]byte{0xaa, 0xbb}
	copy(raw[17:37], rootAddr[:])

	ev, err := DecodeEvent([32]byte{0x01}, 3, raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != store.ChildEventTokenMap {
		t.Errorf("Type = %v, want %v", ev.Type, store.ChildEventTokenMap)
	}
	if ev.ChildContractIndex != 7 || ev.ChildContractSubindex != 1 {
		t.Errorf("child contract = <%d,%d>, want <7,1>", ev.ChildContractIndex, ev.ChildContractSubindex)
	}
	if ev.Receiver != rootAddr {
		t.Errorf("Receiver = %x, want %x", ev.Receiver, rootAddr)
	}
	if ev.EventIndex != 3 {
		t.Errorf("EventIndex = %d, want 3", ev.EventIndex)
	}
}

func TestDecodeEvent_Deposit(t *testing.T) {
	raw := make([]byte, 1+8+8+20+32+8)
	raw[0] = tagDeposit
	binary.BigEndian.PutUint64(raw[1:9], 2)
	binary.BigEndian.PutUint64(raw[9:17], 0)
	receiver := [20]byte{0x01, 0x02, 0x03}
	copy(raw[17:37], receiver[:])
	raw[68] = 0xff // amount low byte, within the 32-byte big-endian amount field
	binary.BigEndian.PutUint64(raw[69:77], 5)

	ev, err := DecodeEvent([32]byte{}, 0, raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != store.ChildEventDeposit {
		t.Errorf("Type = %v, want %v", ev.Type, store.ChildEventDeposit)
	}
	if ev.Amount.Uint64() != 0xff {
		t.Errorf("Amount = %s, want 255", ev.Amount)
	}
	if ev.TokenID != 5 {
		t.Errorf("TokenID = %d, want 5", ev.TokenID)
	}
	if ev.Receiver != receiver {
		t.Errorf("Receiver = %x, want %x", ev.Receiver, receiver)
	}
}

func TestDecodeEvent_Withdraw(t *testing.T) {
	raw := make([]byte, 1+20+32+8)
	raw[0] = tagWithdraw
	receiver := [20]byte{0x09}
	copy(raw[1:21], receiver[:])
	raw[52] = 0x64 // amount = 100
	binary.BigEndian.PutUint64(raw[53:61], 2)

	ev, err := DecodeEvent([32]byte{}, 9, raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != store.ChildEventWithdraw {
		t.Errorf("Type = %v, want %v", ev.Type, store.ChildEventWithdraw)
	}
	if ev.Amount.Uint64() != 100 {
		t.Errorf("Amount = %s, want 100", ev.Amount)
	}
	if ev.TokenID != 2 {
		t.Errorf("TokenID = %d, want 2", ev.TokenID)
	}
}

func TestDecodeEvent_GrantAndRevokeRole(t *testing.T) {
	account := [20]byte{0x42}
	for _, tc := range []struct {
		tag  byte
		want store.ChildEventType
	}{
		{tagGrantRole, store.ChildEventGrantRole},
		{tagRevokeRole, store.ChildEventRevokeRole},
	} {
		raw := make([]byte, 1+20)
		raw[0] = tc.tag
		copy(raw[1:21], account[:])

		ev, err := DecodeEvent([32]byte{}, 0, raw)
		if err != nil {
			t.Fatalf("DecodeEvent(tag=0x%02x): %v", tc.tag, err)
		}
		if ev.Type != tc.want {
			t.Errorf("Type = %v, want %v", ev.Type, tc.want)
		}
		if ev.Receiver != account {
			t.Errorf("Receiver = %x, want %x", ev.Receiver, account)
		}
	}
}

func TestDecodeEvent_UnrecognizedTagIsFatalDecode(t *testing.T) {
	_, err := DecodeEvent([32]byte{}, 0, []byte{0x77, 0x01})
	if !bridgeerr.Is(err, bridgeerr.KindDecode) {
		t.Fatalf("expected KindDecode, got %v", err)
	}
	if !bridgeerr.Fatal(err) {
		t.Error("an unrecognized event tag must be fatal, not retried")
	}
}

func TestDecodeEvent_EmptyPayloadFails(t *testing.T) {
	if _, err := DecodeEvent([32]byte{}, 0, nil); !bridgeerr.Is(err, bridgeerr.KindDecode) {
		t.Errorf("expected KindDecode for empty payload, got %v", err)
	}
}

func TestDecodeEvent_WrongLengthFailsPerTag(t *testing.T) {
	cases := []byte{tagTokenMap, tagDeposit, tagWithdraw, tagGrantRole, tagRevokeRole}
	for _, tag := range cases {
		raw := []byte{tag, 0x01} // too short for any known layout
		if _, err := DecodeEvent([32]byte{}, 0, raw); !bridgeerr.Is(err, bridgeerr.KindDecode) {
			t.Errorf("tag 0x%02x: expected KindDecode for truncated payload, got %v", tag, err)
		}
	}
}
