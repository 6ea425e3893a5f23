/*
Package rendezvous implements the broadcast/pub-sub radio transport from
spec.md §4.E.3: small (~255-byte) messages fanned out to every listener in
range, with service-info carrying an 8-byte peer id and an L2 fragmentation
scheme for payloads that don't fit in one message. Unlike the link
transport, every rendezvous device is a relay, so this package also runs
the full §4.D mesh pipeline locally rather than deferring to a shared
router for the relay decision — there is no separate connection-oriented
session to hang that logic off of.

Grounded on the same teacher adapter-lifecycle idiom as transport/link
(terminateSignal channel, periodic maintenance, mutex-guarded peer table),
and on mesh/Router.go for the dedup/loop/TTL rules this transport
re-implements against its own handle-addressed Sender.
*/
package rendezvous

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/bitchat-mesh/core/mesh"
	"github.com/bitchat-mesh/core/transport"
	"github.com/bitchat-mesh/core/wire"
)

// Constants from spec.md §4.E.3.
const (
	MaxMessageBytes    = 255
	MaxFragmentPayload = 248
	ReassemblyTimeout  = 30 * time.Second

	markerSingle  byte = 0x00
	markerFragment byte = 0x01

	fragHeaderLen = 6 // msg_id:2, frag_idx:2, total_frags:2
)

var (
	ErrFragmentTooLarge = errors.New("rendezvous: payload exceeds single-message capacity and could not be fragmented sanely")
	ErrInvalidFragment  = errors.New("rendezvous: invalid fragment index or total")
)

// Radio is the injected broadcast/pub-sub hardware boundary spec.md §4.E.3
// describes: handles are opaque peer tokens, Send targets one handle (or is
// broadcast by the caller looping over known handles), and OnMessage
// delivers raw inbound bytes per handle.
type Radio interface {
	Advertise(serviceInfo []byte) error
	Send(handle string, data []byte) error
	Broadcast(data []byte) error
	OnMessage(handler func(handle string, data []byte))
	KnownHandles() []string
}

type reassemblyKey struct {
	handle string
	msgID  uint16
}

type reassemblyState struct {
	total    uint16
	parts    map[uint16][]byte
	started  time.Time
}

// Rendezvous is the broadcast-radio mesh transport.
type Rendezvous struct {
	mu    sync.Mutex
	radio Radio

	localID    [8]byte
	onFrame    func(peerID [8]byte, frame []byte)
	delegate   transport.Delegate

	dedup  *mesh.DedupSet
	peers  map[string][8]byte // handle -> peer id, once learned
	handleOf map[[8]byte]string

	reassembly map[reassemblyKey]*reassemblyState
	nextMsgID  uint16

	terminateSignal chan struct{}
	started         bool
}

// New constructs a Rendezvous transport. onFrame receives every whole
// codec-framed packet this node locally delivers to itself.
func New(radio Radio, localID [8]byte, onFrame func(peerID [8]byte, frame []byte), delegate transport.Delegate) *Rendezvous {
	return &Rendezvous{
		radio:           radio,
		localID:         localID,
		onFrame:         onFrame,
		delegate:        delegate,
		dedup:           mesh.NewDedupSet(),
		peers:           make(map[string][8]byte),
		handleOf:        make(map[[8]byte]string),
		reassembly:      make(map[reassemblyKey]*reassemblyState),
		terminateSignal: make(chan struct{}),
	}
}

func (rv *Rendezvous) Name() string      { return "rendezvous" }
func (rv *Rendezvous) IsAvailable() bool { return true }

func (rv *Rendezvous) Start() error {
	rv.mu.Lock()
	if rv.started {
		rv.mu.Unlock()
		return nil
	}
	rv.started = true
	rv.mu.Unlock()

	rv.radio.OnMessage(rv.handleMessage)
	if err := rv.radio.Advertise(rv.localID[:]); err != nil {
		return err
	}
	go rv.maintenanceLoop()
	return nil
}

func (rv *Rendezvous) Stop() {
	rv.mu.Lock()
	if !rv.started {
		rv.mu.Unlock()
		return
	}
	rv.started = false
	close(rv.terminateSignal)
	rv.peers = make(map[string][8]byte)
	rv.handleOf = make(map[[8]byte]string)
	rv.mu.Unlock()
}

func (rv *Rendezvous) maintenanceLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rv.terminateSignal:
			return
		case <-ticker.C:
			rv.pruneReassembly()
		}
	}
}

func (rv *Rendezvous) pruneReassembly() {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	now := time.Now()
	for k, st := range rv.reassembly {
		if now.Sub(st.started) > ReassemblyTimeout {
			delete(rv.reassembly, k)
		}
	}
}

// fragment splits data into on-wire L2 messages per spec.md §4.E.3: a
// single-byte marker, a 6-byte header for fragments, capped at
// MaxFragmentPayload bytes of payload each.
func fragment(msgID uint16, data []byte) [][]byte {
	if len(data) <= MaxMessageBytes-1 {
		out := make([]byte, 1+len(data))
		out[0] = markerSingle
		copy(out[1:], data)
		return [][]byte{out}
	}

	var chunks [][]byte
	for off := 0; off < len(data); off += MaxFragmentPayload {
		end := off + MaxFragmentPayload
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}

	total := uint16(len(chunks))
	out := make([][]byte, total)
	for i, chunk := range chunks {
		frame := make([]byte, 1+fragHeaderLen+len(chunk))
		frame[0] = markerFragment
		binary.BigEndian.PutUint16(frame[1:3], msgID)
		binary.BigEndian.PutUint16(frame[3:5], uint16(i))
		binary.BigEndian.PutUint16(frame[5:7], total)
		copy(frame[7:], chunk)
		out[i] = frame
	}
	return out
}

// handleMessage reassembles one on-wire L2 message and, once a full frame
// is available, hands it to the mesh pipeline.
func (rv *Rendezvous) handleMessage(handle string, data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case markerSingle:
		rv.ingestFrame(handle, data[1:])
	case markerFragment:
		if len(data) < 1+fragHeaderLen {
			return
		}
		msgID := binary.BigEndian.Uint16(data[1:3])
		idx := binary.BigEndian.Uint16(data[3:5])
		total := binary.BigEndian.Uint16(data[5:7])
		if total == 0 || idx >= total {
			return
		}
		payload := append([]byte{}, data[1+fragHeaderLen:]...)

		key := reassemblyKey{handle: handle, msgID: msgID}
		rv.mu.Lock()
		st, ok := rv.reassembly[key]
		if !ok {
			st = &reassemblyState{total: total, parts: make(map[uint16][]byte), started: time.Now()}
			rv.reassembly[key] = st
		}
		if st.total != total {
			rv.mu.Unlock()
			return
		}
		if _, dup := st.parts[idx]; !dup {
			st.parts[idx] = payload
		}
		complete := len(st.parts) == int(st.total)
		var whole []byte
		if complete {
			for i := uint16(0); i < st.total; i++ {
				whole = append(whole, st.parts[i]...)
			}
			delete(rv.reassembly, key)
		}
		rv.mu.Unlock()

		if complete {
			rv.ingestFrame(handle, whole)
		}
	}
}

// ingestFrame decodes a whole codec frame, learns the sender's peer id from
// it if new, then runs the §4.D mesh pipeline locally: dedup, loop check,
// TTL, local delivery with directed-ack synthesis, and relay to every other
// known handle except the one it arrived on.
func (rv *Rendezvous) ingestFrame(handle string, raw []byte) {
	pkt, err := wire.Decode(raw)
	if err != nil {
		return
	}

	rv.mu.Lock()
	if _, known := rv.peers[handle]; !known {
		rv.peers[handle] = pkt.SenderID
		rv.handleOf[pkt.SenderID] = handle
		if rv.delegate != nil {
			rv.mu.Unlock()
			rv.delegate.DidConnectToPeer(rv.Name(), idHex(pkt.SenderID))
			rv.mu.Lock()
		}
	}
	rv.mu.Unlock()

	key := mesh.Key(pkt.SenderID, uint8(pkt.Type), pkt.Timestamp, pkt.Payload)
	rv.mu.Lock()
	seen := rv.dedup.SeenRecently(key)
	if !seen {
		rv.dedup.Record(key)
	}
	rv.mu.Unlock()
	if seen {
		return
	}

	for _, hop := range pkt.Route {
		if hop == rv.localID {
			return
		}
	}
	if pkt.TTL == 0 {
		return
	}

	forUs := pkt.RecipientID == nil || *pkt.RecipientID == rv.localID
	directed := pkt.RecipientID != nil

	if forUs {
		if rv.onFrame != nil {
			rv.onFrame(pkt.SenderID, raw)
		}
		// A delivery ack is itself directed but is not acknowledged in turn.
		isAck := pkt.Type == wire.TypeMessage && len(pkt.Payload) == 1+8 && pkt.Payload[0] == deliveryAckSentinel
		if directed && !isAck {
			rv.sendDeliveryAck(pkt)
		}
	}

	if !directed || !forUs {
		rv.relay(pkt, handle)
	}
}

const deliveryAckSentinel = 0xFE

func (rv *Rendezvous) sendDeliveryAck(pkt *wire.Packet) {
	sender := pkt.SenderID
	ackPayload := append([]byte{deliveryAckSentinel}, sender[:]...)
	reply := &wire.Packet{
		Version:     2,
		Type:        wire.TypeMessage,
		TTL:         wire.MaxRouteHops,
		Timestamp:   pkt.Timestamp,
		SenderID:    rv.localID,
		RecipientID: &sender,
		Payload:     ackPayload,
	}
	_ = rv.SendPrivateMessage(idHex(sender), mustEncode(reply))
}

func (rv *Rendezvous) relay(pkt *wire.Packet, inHandle string) {
	// ttl=1 is delivered locally but never relayed further (spec.md §8).
	if pkt.TTL <= 1 {
		return
	}
	if len(pkt.Route) >= wire.MaxRouteHops {
		return
	}
	next := *pkt
	next.TTL = pkt.TTL - 1
	next.Route = append(append([][8]byte{}, pkt.Route...), rv.localID)
	frame := mustEncode(&next)

	rv.mu.Lock()
	handles := rv.radio.KnownHandles()
	rv.mu.Unlock()

	for _, msg := range fragment(rv.nextID(), frame) {
		for _, h := range handles {
			if h == inHandle {
				continue
			}
			_ = rv.radio.Send(h, msg)
		}
	}
}

func mustEncode(pkt *wire.Packet) []byte {
	out, err := wire.Encode(pkt, true)
	if err != nil {
		return nil
	}
	return out
}

func (rv *Rendezvous) nextID() uint16 {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	rv.nextMsgID++
	return rv.nextMsgID
}

func (rv *Rendezvous) PeerSnapshots() []transport.PeerSnapshot {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	out := make([]transport.PeerSnapshot, 0, len(rv.peers))
	for _, id := range rv.peers {
		out = append(out, transport.PeerSnapshot{PeerID: idHex(id), IsConnected: true})
	}
	return out
}

func (rv *Rendezvous) IsPeerReachable(peerID string) bool {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	for _, id := range rv.peers {
		if idHex(id) == peerID {
			return true
		}
	}
	return false
}

// SendRaw sends directly to a known handle if the peer id resolves to one,
// otherwise broadcasts (spec.md §4.E.3: "Directed sends go direct if the
// handle is known, otherwise fall back to broadcast.").
func (rv *Rendezvous) SendRaw(peerID string, data []byte) error {
	rv.mu.Lock()
	var handle string
	var known bool
	for id, h := range rv.handleOf {
		if idHex(id) == peerID {
			handle, known = h, true
			break
		}
	}
	rv.mu.Unlock()

	msgID := rv.nextID()
	for _, msg := range fragment(msgID, data) {
		var err error
		if known {
			err = rv.radio.Send(handle, msg)
		} else {
			err = rv.radio.Broadcast(msg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (rv *Rendezvous) BroadcastRaw(data []byte) error {
	msgID := rv.nextID()
	for _, msg := range fragment(msgID, data) {
		if err := rv.radio.Broadcast(msg); err != nil {
			return err
		}
	}
	return nil
}

func (rv *Rendezvous) SendMessage(payload []byte) error           { return rv.BroadcastRaw(payload) }
func (rv *Rendezvous) SendPrivateMessage(peerID string, payload []byte) error {
	return rv.SendRaw(peerID, payload)
}
func (rv *Rendezvous) SendDeliveryAck(peerID string, messageID []byte) error {
	return rv.SendRaw(peerID, messageID)
}
func (rv *Rendezvous) SendReadReceipt(peerID string, messageID []byte) error {
	return rv.SendRaw(peerID, messageID)
}
func (rv *Rendezvous) TriggerHandshake(peerID string) error { return nil }
func (rv *Rendezvous) SendAnnounce(nickname string) error   { return rv.BroadcastRaw([]byte(nickname)) }

func idHex(id [8]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i, b := range id {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xF]
	}
	return string(out)
}
