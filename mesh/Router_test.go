package mesh

import (
	"testing"

	"github.com/bitchat-mesh/core/wire"
)

type fakeSender struct {
	relayed    []*wire.Packet
	relayedOn  []string
	sentTo     map[string][]*wire.Packet
}

func newFakeSender() *fakeSender {
	return &fakeSender{sentTo: make(map[string][]*wire.Packet)}
}

func (f *fakeSender) Relay(pkt *wire.Packet, excludeLink string) error {
	f.relayed = append(f.relayed, pkt)
	f.relayedOn = append(f.relayedOn, excludeLink)
	return nil
}

func (f *fakeSender) SendTo(peerID string, pkt *wire.Packet) error {
	f.sentTo[peerID] = append(f.sentTo[peerID], pkt)
	return nil
}

type fakeDelegate struct {
	announced    [][8]byte
	messages     []struct {
		sender    [8]byte
		recipient *[8]byte
		payload   []byte
	}
	left         [][8]byte
	passthrough  []*wire.Packet
}

func (f *fakeDelegate) HandleAnnounce(senderID [8]byte, payload []byte) {
	f.announced = append(f.announced, senderID)
}

func (f *fakeDelegate) HandleMessage(senderID [8]byte, recipient *[8]byte, payload []byte) {
	f.messages = append(f.messages, struct {
		sender    [8]byte
		recipient *[8]byte
		payload   []byte
	}{senderID, recipient, payload})
}

func (f *fakeDelegate) HandleLeave(senderID [8]byte) {
	f.left = append(f.left, senderID)
}

func (f *fakeDelegate) HandleNoiseHandshake(senderID [8]byte, payload []byte) ([]byte, bool) {
	return nil, false
}

func (f *fakeDelegate) HandleNoiseEncrypted(senderID [8]byte, payload []byte) {}

func (f *fakeDelegate) HandlePassthrough(pkt *wire.Packet) {
	f.passthrough = append(f.passthrough, pkt)
}

var localID = [8]byte{0xAA}
var remoteID = [8]byte{0xBB}

func TestRouterDropsLoop(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	pkt := &wire.Packet{
		Version:   2,
		Type:      wire.TypeMessage,
		TTL:       5,
		Timestamp: 1,
		SenderID:  remoteID,
		Route:     [][8]byte{localID},
		Payload:   []byte("hi"),
	}

	if err := r.Ingest(pkt, "linkA"); err != ErrLoopDetected {
		t.Fatalf("expected ErrLoopDetected, got %v", err)
	}
	if len(sender.relayed) != 0 {
		t.Fatalf("expected no relay for a looped packet")
	}
}

func TestRouterDropsExpiredTTL(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	pkt := &wire.Packet{Version: 1, Type: wire.TypeMessage, TTL: 0, Timestamp: 1, SenderID: remoteID, Payload: []byte("hi")}

	if err := r.Ingest(pkt, "linkA"); err != ErrTTLExpired {
		t.Fatalf("expected ErrTTLExpired, got %v", err)
	}
}

func TestRouterDropsDuplicate(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	pkt := &wire.Packet{Version: 1, Type: wire.TypeAnnounce, TTL: 5, Timestamp: 1, SenderID: remoteID, Payload: []byte("alice")}

	if err := r.Ingest(pkt, "linkA"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := r.Ingest(pkt, "linkA"); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate on replay, got %v", err)
	}
	if len(delegate.announced) != 1 {
		t.Fatalf("expected exactly one delivered announce, got %d", len(delegate.announced))
	}
}

func TestRouterRelaysBroadcast(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	pkt := &wire.Packet{Version: 2, Type: wire.TypeMessage, TTL: 5, Timestamp: 1, SenderID: remoteID, Payload: []byte("hi")}

	if err := r.Ingest(pkt, "linkA"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(sender.relayed) != 1 {
		t.Fatalf("expected broadcast to be relayed once, got %d", len(sender.relayed))
	}
	relayed := sender.relayed[0]
	if relayed.TTL != 4 {
		t.Fatalf("expected TTL decremented to 4, got %d", relayed.TTL)
	}
	if len(relayed.Route) != 1 || relayed.Route[0] != localID {
		t.Fatalf("expected our id appended to route, got %v", relayed.Route)
	}
	if sender.relayedOn[0] != "linkA" {
		t.Fatalf("expected relay to record the inbound link to exclude")
	}
}

func TestRouterDeliversButDoesNotRelayAtTTLOne(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	pkt := &wire.Packet{Version: 2, Type: wire.TypeMessage, TTL: 1, Timestamp: 1, SenderID: remoteID, Payload: []byte("hi")}

	if err := r.Ingest(pkt, "linkA"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(delegate.messages) != 1 {
		t.Fatalf("expected a ttl=1 broadcast to still be delivered locally")
	}
	if len(sender.relayed) != 0 {
		t.Fatalf("expected a ttl=1 broadcast not to be relayed, got %d relays", len(sender.relayed))
	}
}

func TestRouterDeliversDirectedAndSendsAck(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	recipient := localID
	pkt := &wire.Packet{Version: 2, Type: wire.TypeMessage, TTL: 5, Timestamp: 1, SenderID: remoteID, RecipientID: &recipient, Payload: []byte("hi")}

	if err := r.Ingest(pkt, "linkA"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(delegate.messages) != 1 {
		t.Fatalf("expected message delivered locally")
	}
	if len(sender.relayed) != 0 {
		t.Fatalf("directed packet addressed to us must not be relayed further")
	}

	acks := sender.sentTo[idString(remoteID)]
	if len(acks) != 1 {
		t.Fatalf("expected exactly one delivery ack sent back to sender, got %d", len(acks))
	}
	if acks[0].Payload[0] != deliveryAckSentinel {
		t.Fatalf("expected ack payload to start with the delivery-ack sentinel")
	}
}

func TestRouterPassesThroughFragmentType(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	recipient := localID
	pkt := &wire.Packet{Version: 2, Type: wire.TypeFragment, TTL: 5, Timestamp: 1, SenderID: remoteID, RecipientID: &recipient, Payload: []byte("chunk")}

	if err := r.Ingest(pkt, "linkA"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(delegate.passthrough) != 1 {
		t.Fatalf("expected fragment packet to be passed through")
	}
}

func TestRouterEnforcesHopCap(t *testing.T) {
	sender := newFakeSender()
	delegate := &fakeDelegate{}
	r := NewRouter(localID, sender, delegate)

	route := make([][8]byte, wire.MaxRouteHops)
	for i := range route {
		route[i] = [8]byte{byte(i + 1)}
	}
	pkt := &wire.Packet{Version: 2, Type: wire.TypeMessage, TTL: 5, Timestamp: 1, SenderID: remoteID, Route: route, Payload: []byte("hi")}

	if err := r.Ingest(pkt, "linkA"); err != ErrRouteOverflow {
		t.Fatalf("expected ErrRouteOverflow, got %v", err)
	}
}
