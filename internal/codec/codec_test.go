package codec

import (
	"bytes"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, msg Message) any {
	t.Helper()
	frame, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r := NewReassembler(0)
	bodies, err := r.Feed(frame)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("expected 1 frame body, got %d", len(bodies))
	}

	payloadType, payload, err := DecodeFrame(bodies[0])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if payloadType != msg.PayloadType() {
		t.Fatalf("payloadType mismatch: got %d want %d", payloadType, msg.PayloadType())
	}

	out, err := DecodePayload(payloadType, payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return out
}

func TestRoundTripCatalog(t *testing.T) {
	sl := int64(12345)
	tp := int64(67890)
	comment := "test order"

	cases := []Message{
		VersionReq{},
		ApplicationAuthReq{ClientID: "client-1", ClientSecret: "secret"},
		AccountAuthReq{AccessToken: "token-abc", CtidTraderAccountID: 42},
		ReconcileReq{CtidTraderAccountID: 42},
		HeartbeatEvent{},
		NewOrderReq{
			CtidTraderAccountID: 42,
			SymbolID:            1,
			OrderType:           1,
			TradeSide:           1,
			Volume:              100000,
			StopLoss:            &sl,
			TakeProfit:          &tp,
			Comment:             &comment,
		},
		ClosePositionReq{CtidTraderAccountID: 42, PositionID: 99, Volume: 50000},
		VersionRes{Version: "2.0"},
		ApplicationAuthRes{},
		AccountAuthRes{CtidTraderAccountID: 42},
		ReconcileRes{
			Trader: TraderInfo{CtidTraderAccountID: 42, Balance: 1000000, LeverageInCents: 10000, IsLive: true, Currency: "EUR"},
			Positions: []PositionWire{
				{PositionID: 1, SymbolID: 1, TradeSide: 1, Volume: 100000, EntryPrice: 109500, CurrentPrice: 109600, OpenTimestampUnix: 1700000000},
			},
		},
		ExecutionEvent{CtidTraderAccountID: 42, ExecutionType: 2, Raw: []byte{1, 2, 3}},
		SpotEvent{CtidTraderAccountID: 42, SymbolID: 1, Bid: 109500, Ask: 109510},
		ErrorRes{ErrorCode: "TOO_MANY_REQUESTS", Description: "slow down"},
		AccountErrorRes{CtidTraderAccountID: 42, ErrorCode: "NOT_FOUND", Description: "no such position"},
	}

	for _, msg := range cases {
		msg := msg
		t.Run(reflect.TypeOf(msg).Name(), func(t *testing.T) {
			got := roundTrip(t, msg)
			if !reflect.DeepEqual(got, msg) {
				t.Fatalf("round trip mismatch:\n got:  %#v\n want: %#v", got, msg)
			}
		})
	}
}

func TestReconcileResDefaultsCurrency(t *testing.T) {
	msg := ReconcileRes{Trader: TraderInfo{CtidTraderAccountID: 1, Balance: 500, LeverageInCents: 10000, IsLive: false}}
	got := roundTrip(t, msg)
	rr, ok := got.(ReconcileRes)
	if !ok {
		t.Fatalf("got wrong type %T", got)
	}
	if rr.Trader.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %q", rr.Trader.Currency)
	}
}

func TestReassemblerSplitArbitrarily(t *testing.T) {
	var full []byte
	msgs := []Message{
		HeartbeatEvent{},
		VersionRes{Version: "2.0"},
		SpotEvent{CtidTraderAccountID: 1, SymbolID: 1, Bid: 100, Ask: 101},
	}
	for _, m := range msgs {
		frame, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		full = append(full, frame...)
	}

	r := NewReassembler(0)
	var gotBodies [][]byte
	// Feed one byte at a time; frames must still reassemble correctly
	// regardless of how the stream happens to chunk them.
	for i := 0; i < len(full); i++ {
		bodies, err := r.Feed(full[i : i+1])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		gotBodies = append(gotBodies, bodies...)
	}
	if len(gotBodies) != len(msgs) {
		t.Fatalf("expected %d reassembled frames, got %d", len(msgs), len(gotBodies))
	}
	for i, body := range gotBodies {
		pt, payload, err := DecodeFrame(body)
		if err != nil {
			t.Fatalf("DecodeFrame[%d]: %v", i, err)
		}
		if pt != msgs[i].PayloadType() {
			t.Fatalf("frame %d payloadType mismatch: got %d want %d", i, pt, msgs[i].PayloadType())
		}
		out, err := DecodePayload(pt, payload)
		if err != nil {
			t.Fatalf("DecodePayload[%d]: %v", i, err)
		}
		if !reflect.DeepEqual(out, msgs[i]) {
			t.Fatalf("frame %d mismatch: got %#v want %#v", i, out, msgs[i])
		}
	}
	if r.Pending() != 0 {
		t.Fatalf("expected no pending bytes, got %d", r.Pending())
	}
}

func TestReassemblerOversizeFrameRejected(t *testing.T) {
	r := NewReassembler(8)
	hdr := []byte{0, 0, 0, 100} // claims 100 bytes, over the 8-byte cap
	_, err := r.Feed(hdr)
	if err == nil {
		t.Fatal("expected an error for an oversize frame")
	}
}

func TestDecodeUnknownPayloadType(t *testing.T) {
	_, err := DecodePayload(99999, nil)
	if err == nil {
		t.Fatal("expected an error for an unrecognized payload type")
	}
}

func TestClassifyVendorWinsOnCollision(t *testing.T) {
	vendor := map[int32]string{100: "VendorName"}
	base := map[int32]string{100: "BaseName"}

	name, ok := classify(vendor, base, 100)
	if !ok || name != "VendorName" {
		t.Fatalf("expected vendor table to win on collision, got %q (ok=%v)", name, ok)
	}

	name, ok = classify(vendor, base, 200)
	if ok {
		t.Fatalf("expected no match for unregistered payload type, got %q", name)
	}
}

func TestClassifyRealCatalog(t *testing.T) {
	name, ok := Classify(PayloadTypeHeartbeatEvent)
	if !ok || name != "HeartbeatEvent" {
		t.Fatalf("got %q, %v", name, ok)
	}
	name, ok = Classify(PayloadTypeAccountAuthRes)
	if !ok || name != "AccountAuthRes" {
		t.Fatalf("got %q, %v", name, ok)
	}
}

func TestEncodeFrameHasLengthPrefix(t *testing.T) {
	frame, err := Encode(HeartbeatEvent{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frame) < frameHeaderLen {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	wantLen := len(frame) - frameHeaderLen
	gotLen := int(frame[0])<<24 | int(frame[1])<<16 | int(frame[2])<<8 | int(frame[3])
	if gotLen != wantLen {
		t.Fatalf("length prefix mismatch: header says %d, body is %d bytes", gotLen, wantLen)
	}
}

func TestBytesFieldRoundTripsEmptyAsNil(t *testing.T) {
	// ExecutionEvent.Raw is omitted entirely when empty; decoding back gives
	// nil rather than an empty non-nil slice, which DeepEqual treats as
	// distinct from []byte{}.
	msg := ExecutionEvent{CtidTraderAccountID: 1, ExecutionType: 1}
	got := roundTrip(t, msg)
	ev, ok := got.(ExecutionEvent)
	if !ok {
		t.Fatalf("got wrong type %T", got)
	}
	if ev.Raw != nil {
		t.Fatalf("expected nil Raw, got %v", ev.Raw)
	}
	if !bytes.Equal(ev.Raw, msg.Raw) {
		t.Fatalf("Raw mismatch")
	}
}
