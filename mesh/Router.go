/*
Router.go implements the per-packet pipeline from spec.md §4.D: dedup,
path-trace loop detection, TTL, recipient dispatch (with directed
DELIVERY_ACK synthesis), and relay with route append and a hop cap. It is
grounded on the teacher's packet-processing loop in the deleted
`Connection.go`, which ran every inbound packet through a fixed sequence of
drop-checks before ever reaching a handler — the same shape, re-pointed at
BitChat's dedup/TTL/route rules instead of Peernet's protocol negotiation.
*/
package mesh

import (
	"errors"

	"github.com/bitchat-mesh/core/wire"
)

// Sender is how the router hands a packet back out to the transport layer.
// Relay and Broadcast both carry an already-framed packet; ExcludeLink
// identifies the transport/peer the packet arrived on so it is never
// echoed straight back where it came from (spec.md §4.D: "Never send back
// to the link that delivered it.").
type Sender interface {
	Relay(pkt *wire.Packet, excludeLink string) error
	SendTo(peerID string, pkt *wire.Packet) error
}

// Delegate receives locally-delivered packets, one method per packet type,
// mirroring spec.md §4.D's local-delivery type switch.
type Delegate interface {
	HandleAnnounce(senderID [8]byte, payload []byte)
	HandleMessage(senderID [8]byte, recipient *[8]byte, payload []byte)
	HandleLeave(senderID [8]byte)
	HandleNoiseHandshake(senderID [8]byte, payload []byte) (reply []byte, hasReply bool)
	HandleNoiseEncrypted(senderID [8]byte, payload []byte)
	HandlePassthrough(pkt *wire.Packet)
}

// ErrLoopDetected and ErrTTLExpired report why Ingest silently dropped a
// packet; both are non-fatal, expected outcomes of normal mesh flooding.
var (
	ErrLoopDetected    = errors.New("mesh: route already contains our id")
	ErrTTLExpired      = errors.New("mesh: ttl expired")
	ErrDuplicate       = errors.New("mesh: duplicate packet")
	ErrRouteOverflow   = errors.New("mesh: route exceeds hop cap")
)

// Router implements the spec.md §4.D pipeline for one local node.
type Router struct {
	localID  [8]byte
	dedup    *DedupSet
	sender   Sender
	delegate Delegate
}

// NewRouter constructs a router for localID, dispatching local deliveries
// to delegate and handing relayed/originated packets to sender.
func NewRouter(localID [8]byte, sender Sender, delegate Delegate) *Router {
	return &Router{localID: localID, dedup: NewDedupSet(), sender: sender, delegate: delegate}
}

// Ingest runs pkt through the full §4.D pipeline. inLink identifies the
// transport/peer it arrived on, so relay never echoes it straight back.
func (r *Router) Ingest(pkt *wire.Packet, inLink string) error {
	key := Key(pkt.SenderID, uint8(pkt.Type), pkt.Timestamp, pkt.Payload)
	if r.dedup.SeenRecently(key) {
		return ErrDuplicate
	}
	r.dedup.Record(key)

	for _, hop := range pkt.Route {
		if hop == r.localID {
			return ErrLoopDetected
		}
	}

	if pkt.TTL == 0 {
		return ErrTTLExpired
	}

	forUs := pkt.RecipientID == nil || *pkt.RecipientID == r.localID
	directed := pkt.RecipientID != nil

	if forUs {
		r.deliverLocally(pkt)
		if directed {
			r.sendDeliveryAck(pkt)
		}
	}

	if !directed || !forUs {
		return r.relay(pkt, inLink)
	}
	return nil
}

func (r *Router) deliverLocally(pkt *wire.Packet) {
	switch pkt.Type {
	case wire.TypeAnnounce:
		r.delegate.HandleAnnounce(pkt.SenderID, pkt.Payload)
	case wire.TypeMessage:
		r.delegate.HandleMessage(pkt.SenderID, pkt.RecipientID, pkt.Payload)
	case wire.TypeLeave:
		r.delegate.HandleLeave(pkt.SenderID)
	case wire.TypeNoiseHandshake:
		reply, hasReply := r.delegate.HandleNoiseHandshake(pkt.SenderID, pkt.Payload)
		if hasReply {
			r.replyDirect(pkt.SenderID, wire.TypeNoiseHandshake, reply)
		}
	case wire.TypeNoiseEncrypted:
		r.delegate.HandleNoiseEncrypted(pkt.SenderID, pkt.Payload)
	case wire.TypeFragment, wire.TypeFileTransfer, wire.TypeRequestSync:
		r.delegate.HandlePassthrough(pkt)
	}
}

// replyDirect sends a directly-addressed packet of the given type back to
// a one-hop-reachable peer, used for handshake responses (spec.md §4.D:
// "its response (if any) is sent to the directly reachable peer").
func (r *Router) replyDirect(to [8]byte, t wire.Type, payload []byte) {
	pkt := &wire.Packet{
		Version:     2,
		Type:        t,
		TTL:         1,
		Timestamp:   pkt0Timestamp(),
		SenderID:    r.localID,
		RecipientID: &to,
		Payload:     payload,
	}
	_ = r.sender.SendTo(idString(to), pkt)
}

// sendDeliveryAck synthesizes the directed acknowledgement spec.md §4.D
// requires whenever a non-broadcast packet reaches its addressed recipient.
// The ack itself travels as an ordinary MESSAGE packet whose payload is a
// fixed one-byte sentinel followed by the acknowledged sender's id, which
// the delegate's higher-level session/UI layer maps back to a delivery
// status update (spec.md §4.E.1 send_delivery_ack).
func (r *Router) sendDeliveryAck(pkt *wire.Packet) {
	ackPayload := append([]byte{deliveryAckSentinel}, pkt.SenderID[:]...)
	sender := pkt.SenderID
	reply := &wire.Packet{
		Version:     2,
		Type:        wire.TypeMessage,
		TTL:         wire.MaxRouteHops,
		Timestamp:   pkt0Timestamp(),
		SenderID:    r.localID,
		RecipientID: &sender,
		Payload:     ackPayload,
	}
	_ = r.sender.SendTo(idString(sender), reply)
}

// deliveryAckSentinel marks the payload of a synthesized delivery
// acknowledgement so a receiving delegate can distinguish it from an
// ordinary chat message without a dedicated packet type.
const deliveryAckSentinel = 0xFE

// relay rebroadcasts pkt with TTL decremented and our id appended to the
// route, enforcing the 10-hop cap (spec.md §4.D).
func (r *Router) relay(pkt *wire.Packet, inLink string) error {
	// ttl=1 is delivered locally but never relayed further (spec.md §8).
	if pkt.TTL <= 1 {
		return nil
	}
	if len(pkt.Route) >= wire.MaxRouteHops {
		return ErrRouteOverflow
	}

	next := *pkt
	next.TTL = pkt.TTL - 1
	next.Route = append(append([][8]byte{}, pkt.Route...), r.localID)

	return r.sender.Relay(&next, inLink)
}

// Originate builds and dispatches a packet this node itself is sending,
// pre-marking its dedup key so the router doesn't reprocess its own
// gossip when a neighbor echoes it back (spec.md §4.D).
func (r *Router) Originate(pkt *wire.Packet) error {
	key := Key(pkt.SenderID, uint8(pkt.Type), pkt.Timestamp, pkt.Payload)
	r.dedup.Record(key)

	if pkt.RecipientID != nil {
		return r.sender.SendTo(idString(*pkt.RecipientID), pkt)
	}
	return r.sender.Relay(pkt, "")
}
