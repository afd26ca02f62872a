package grid

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		MuxID:   7,
		Seq:     3,
		Handler: HandlerLockLock,
		Op:      OpRequest,
		Flags:   FlagCRC,
		Payload: []byte("hello grid"),
	}
	b, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MuxID != f.MuxID || got.Seq != f.Seq || got.Handler != f.Handler || got.Op != f.Op || got.Flags != f.Flags {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
	if string(got.Payload) != string(f.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, f.Payload)
	}
}

func TestFrameCRCDetectsCorruption(t *testing.T) {
	f := Frame{MuxID: 1, Handler: HandlerPing, Op: OpRequest, Flags: FlagCRC, Payload: []byte("abc")}
	b, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b[len(b)-1] ^= 0xFF
	if _, err := Unmarshal(b); err == nil {
		t.Fatal("expected CRC mismatch error on corrupted frame")
	}
}

func TestFrameWithoutCRCSkipsCheck(t *testing.T) {
	f := Frame{MuxID: 1, Handler: HandlerPing, Op: OpRequest, Payload: []byte("abc")}
	b, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Unmarshal(b); err != nil {
		t.Fatalf("unexpected error without CRC flag: %v", err)
	}
}

func TestSubroutePayloadRoundTrip(t *testing.T) {
	payload := EncodeSubroutePayload("heal.object", []byte("body-bytes"))
	route, body, err := DecodeSubroutePayload(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if route != "heal.object" {
		t.Fatalf("route mismatch: got %q", route)
	}
	if string(body) != "body-bytes" {
		t.Fatalf("body mismatch: got %q", body)
	}
}

func TestSubroutePayloadRejectsTruncatedLength(t *testing.T) {
	if _, _, err := DecodeSubroutePayload([]byte{0x00}); err == nil {
		t.Fatal("expected error for payload shorter than length prefix")
	}
}

func TestSubroutePayloadRejectsOversizedRouteLength(t *testing.T) {
	payload := []byte{0xFF, 0xFF, 'a'}
	if _, _, err := DecodeSubroutePayload(payload); err == nil {
		t.Fatal("expected error when declared route length exceeds payload")
	}
}
