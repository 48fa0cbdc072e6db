package wire

import "testing"

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("encode %s: %v", m.Type, err)
	}
	decoded, n, err := Decode(encoded, 0)
	if err != nil {
		t.Fatalf("decode %s: %v", m.Type, err)
	}
	if n != len(encoded) {
		t.Fatalf("decode %s: consumed %d of %d bytes", m.Type, n, len(encoded))
	}
	return decoded
}

func TestCodecRoundTripHello(t *testing.T) {
	m := &Message{Type: TypeHello, Hello: &Hello{
		Version:  1,
		Name:     "studio-1",
		Features: []string{"federation", "e2e"},
		Token:    "cpsk_deadbeefdeadbeefdeadbeefdeadbeef",
	}}
	got := roundTrip(t, m)
	if got.Hello.Version != m.Hello.Version || got.Hello.Name != m.Hello.Name || got.Hello.Token != m.Hello.Token {
		t.Fatalf("hello mismatch: got %+v want %+v", got.Hello, m.Hello)
	}
	if len(got.Hello.Features) != len(m.Hello.Features) {
		t.Fatalf("features mismatch: got %+v want %+v", got.Hello.Features, m.Hello.Features)
	}
	for i, f := range m.Hello.Features {
		if got.Hello.Features[i] != f {
			t.Fatalf("feature %d mismatch: got %q want %q", i, got.Hello.Features[i], f)
		}
	}
}

func TestCodecRoundTripPublishValue(t *testing.T) {
	cases := []Value{
		Null(),
		BoolV(true),
		IntV(-42),
		FloatV(3.5),
		StringV("hello"),
		BytesV([]byte{1, 2, 3}),
		ListV(IntV(1), StringV("a"), BoolV(false)),
		MapV(map[string]Value{"x": IntV(1), "y": StringV("two")}),
	}
	for _, v := range cases {
		m := &Message{Type: TypePublish, Publish: &Publish{
			Address:    "/lights/room1",
			SignalType: "event",
			Value:      v,
		}}
		got := roundTrip(t, m)
		if !got.Publish.Value.Equal(v) {
			t.Fatalf("value round-trip mismatch: got %+v want %+v", got.Publish.Value, v)
		}
		if got.Publish.Address != m.Publish.Address || got.Publish.SignalType != m.Publish.SignalType {
			t.Fatalf("publish fields mismatch: %+v", got.Publish)
		}
	}
}

func TestCodecRoundTripSetWithRevisionAndLock(t *testing.T) {
	rev := uint64(7)
	m := &Message{Type: TypeSet, Set: &Set{
		Address:          "/mixer/gain",
		Value:            FloatV(0.75),
		ExpectedRevision: &rev,
		Lock:             true,
	}}
	got := roundTrip(t, m)
	if got.Set.ExpectedRevision == nil || *got.Set.ExpectedRevision != rev {
		t.Fatalf("expected_revision not preserved: %+v", got.Set)
	}
	if !got.Set.Lock || got.Set.Unlock {
		t.Fatalf("lock/unlock flags mismatch: %+v", got.Set)
	}
	if !got.Set.Value.Equal(m.Set.Value) {
		t.Fatalf("value mismatch: %+v", got.Set.Value)
	}
}

func TestCodecRoundTripSnapshotChunking(t *testing.T) {
	params := make([]ParamEntry, 3)
	for i := range params {
		params[i] = ParamEntry{Address: "/a", Value: IntV(int64(i)), Revision: uint64(i + 1), Writer: "s1", TimestampUs: 100}
	}
	m := &Message{Type: TypeSnapshot, Snapshot: &Snapshot{Params: params, Chunk: 1, Of: 4}}
	got := roundTrip(t, m)
	if got.Snapshot.Chunk != 1 || got.Snapshot.Of != 4 {
		t.Fatalf("chunk markers lost: %+v", got.Snapshot)
	}
	if len(got.Snapshot.Params) != 3 {
		t.Fatalf("expected 3 params, got %d", len(got.Snapshot.Params))
	}
}

func TestCodecRoundTripFederationSync(t *testing.T) {
	since := uint64(42)
	m := &Message{Type: TypeFederationSync, FederationSync: &FederationSync{
		Op:            FedOpRequestSync,
		RouterID:      "router-a",
		Patterns:      []string{"/lights/**"},
		Revisions:     map[string]uint64{"/lights/room1": 3},
		SinceRevision: &since,
	}}
	got := roundTrip(t, m)
	if got.FederationSync.Op != FedOpRequestSync || got.FederationSync.RouterID != "router-a" {
		t.Fatalf("federation sync fields mismatch: %+v", got.FederationSync)
	}
	if got.FederationSync.Revisions["/lights/room1"] != 3 {
		t.Fatalf("revisions map mismatch: %+v", got.FederationSync.Revisions)
	}
}

func TestCodecRoundTripPingPong(t *testing.T) {
	for _, typ := range []Type{TypePing, TypePong} {
		m := &Message{Type: typ}
		got := roundTrip(t, m)
		if got.Type != typ {
			t.Fatalf("got type %s want %s", got.Type, typ)
		}
	}
}

func TestDecodeUnknownVersionRefused(t *testing.T) {
	m := &Message{Type: TypePing}
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	encoded[1] = ProtocolVersion + 1
	if _, _, err := Decode(encoded, 0); err == nil {
		t.Fatalf("expected version error, got none")
	}
}

func TestEncodeRefusesOversizeFrame(t *testing.T) {
	m := &Message{Type: TypePublish, Publish: &Publish{
		Address: "/big",
		Value:   BytesV(make([]byte, 128)),
	}}
	if _, err := EncodeMax(m, 32); err == nil {
		t.Fatalf("expected oversize frame error")
	}
}

func TestDecodeIncompleteFrameReturnsNilWithoutError(t *testing.T) {
	m := &Message{Type: TypePing}
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, n, err := DecodeFrame(encoded[:2], 0)
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if frame != nil || n != 0 {
		t.Fatalf("expected no frame yet, got %+v n=%d", frame, n)
	}
}
