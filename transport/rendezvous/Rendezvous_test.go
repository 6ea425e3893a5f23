package rendezvous

import (
	"sync"
	"testing"

	"github.com/bitchat-mesh/core/wire"
)

// fakeRadio is an in-memory broadcast radio: every Send/Broadcast call is
// delivered synchronously to every other registered fakeRadio's handler.
type fakeRadio struct {
	mu      sync.Mutex
	handle  string
	peers   map[string]*fakeRadio
	onMsg   func(handle string, data []byte)
}

func newRadioMesh(handles ...string) map[string]*fakeRadio {
	peers := make(map[string]*fakeRadio)
	for _, h := range handles {
		peers[h] = &fakeRadio{handle: h, peers: peers}
	}
	return peers
}

func (f *fakeRadio) Advertise(serviceInfo []byte) error { return nil }

func (f *fakeRadio) Send(handle string, data []byte) error {
	target, ok := f.peers[handle]
	if !ok || target.onMsg == nil {
		return nil
	}
	target.onMsg(f.handle, data)
	return nil
}

func (f *fakeRadio) Broadcast(data []byte) error {
	for h, p := range f.peers {
		if h == f.handle || p.onMsg == nil {
			continue
		}
		p.onMsg(f.handle, data)
	}
	return nil
}

func (f *fakeRadio) OnMessage(handler func(handle string, data []byte)) { f.onMsg = handler }

func (f *fakeRadio) KnownHandles() []string {
	var out []string
	for h := range f.peers {
		if h != f.handle {
			out = append(out, h)
		}
	}
	return out
}

func TestFragmentKeepsShortPayloadSingle(t *testing.T) {
	frames := fragment(1, []byte("short"))
	if len(frames) != 1 || frames[0][0] != markerSingle {
		t.Fatalf("expected a single-marker frame for short payloads")
	}
}

func TestFragmentSplitsLargePayload(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	frames := fragment(7, data)
	if len(frames) < 2 {
		t.Fatalf("expected multiple fragments for a 1000-byte payload")
	}
	for _, f := range frames {
		if f[0] != markerFragment {
			t.Fatalf("expected every chunk marked as a fragment")
		}
		if len(f)-1-fragHeaderLen > MaxFragmentPayload {
			t.Fatalf("fragment payload exceeds cap")
		}
	}
}

func TestRendezvousDeliversDirectedMessageAndAck(t *testing.T) {
	mesh := newRadioMesh("a", "b")

	idA := [8]byte{1}
	idB := [8]byte{2}

	var aReceived [][]byte
	rvA := New(mesh["a"], idA, func(peerID [8]byte, frame []byte) { aReceived = append(aReceived, frame) }, nil)
	var bReceived [][]byte
	rvB := New(mesh["b"], idB, func(peerID [8]byte, frame []byte) { bReceived = append(bReceived, frame) }, nil)

	if err := rvA.Start(); err != nil {
		t.Fatalf("rvA.Start: %v", err)
	}
	defer rvA.Stop()
	if err := rvB.Start(); err != nil {
		t.Fatalf("rvB.Start: %v", err)
	}
	defer rvB.Stop()

	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeMessage,
		TTL:         5,
		Timestamp:   1,
		SenderID:    idA,
		RecipientID: &idB,
		Payload:     []byte("hi bob"),
	}
	raw := mustEncode(pkt)

	if err := rvA.BroadcastRaw(raw); err != nil {
		t.Fatalf("BroadcastRaw: %v", err)
	}

	if len(bReceived) != 1 {
		t.Fatalf("expected bob to locally deliver the directed packet, got %d", len(bReceived))
	}
	if len(aReceived) != 1 {
		t.Fatalf("expected alice to receive the synthesized delivery ack, got %d", len(aReceived))
	}
	decoded, err := wire.Decode(aReceived[0])
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if decoded.Payload[0] != deliveryAckSentinel {
		t.Fatalf("expected ack sentinel as first payload byte")
	}
}

func TestRendezvousDropsDuplicateBroadcast(t *testing.T) {
	meshRadios := newRadioMesh("a", "b", "c")

	idA := [8]byte{1}
	var bReceived, cReceived int
	rvB := New(meshRadios["b"], [8]byte{2}, func([8]byte, []byte) { bReceived++ }, nil)
	rvC := New(meshRadios["c"], [8]byte{3}, func([8]byte, []byte) { cReceived++ }, nil)
	_ = rvB.Start()
	defer rvB.Stop()
	_ = rvC.Start()
	defer rvC.Stop()

	pkt := &wire.Packet{Version: 2, Type: wire.TypeAnnounce, TTL: 5, Timestamp: 1, SenderID: idA, Payload: []byte("alice")}
	raw := mustEncode(pkt)

	// b relays what it first hears from a directly to c; c should only
	// ever deliver the announce once even though it may hear it via
	// multiple relay paths in a denser mesh.
	// raw is padded to 256 bytes, so it goes out as two fragments.
	meshRadios["a"] = &fakeRadio{handle: "a", peers: meshRadios}
	for i := 0; i < 2; i++ {
		for _, f := range fragment(1, raw) {
			meshRadios["a"].Broadcast(f)
		}
	}

	if bReceived != 1 {
		t.Fatalf("expected exactly one local delivery at b, got %d", bReceived)
	}
	if cReceived != 1 {
		t.Fatalf("expected exactly one local delivery at c, got %d", cReceived)
	}
}

func TestRendezvousDoesNotRelayAtTTLOne(t *testing.T) {
	meshRadios := newRadioMesh("a", "b")
	var gotSend bool
	meshRadios["b"].OnMessage(func(string, []byte) { gotSend = true })

	rv := New(meshRadios["a"], [8]byte{1}, nil, nil)
	pkt := &wire.Packet{Version: 2, Type: wire.TypeMessage, TTL: 1, Timestamp: 1, SenderID: [8]byte{9}, Payload: []byte("x")}
	rv.relay(pkt, "inbound")

	if gotSend {
		t.Fatalf("relay should not have sent anything for a ttl=1 packet")
	}
}

func TestRendezvousRejectsLoopedRoute(t *testing.T) {
	meshRadios := newRadioMesh("a", "b")
	idB := [8]byte{2}
	var delivered int
	rvB := New(meshRadios["b"], idB, func([8]byte, []byte) { delivered++ }, nil)
	_ = rvB.Start()
	defer rvB.Stop()

	pkt := &wire.Packet{Version: 2, Type: wire.TypeMessage, TTL: 5, Timestamp: 1, SenderID: [8]byte{1}, Route: [][8]byte{idB}, Payload: []byte("x")}
	raw := mustEncode(pkt)
	for _, f := range fragment(1, raw) {
		meshRadios["a"].Broadcast(f)
	}

	if delivered != 0 {
		t.Fatalf("expected packet with our id already in route to be dropped")
	}
}
