/*
Backend.go is the root orchestrator: it wires identity, the Noise session
manager, the mesh router, and the transport layer into one constructed
node, grounded on the teacher's Peernet.go Init()/Backend shape (a single
constructor returning one struct with no package-level globals) and
Filter.go's hook-installation pattern (Filters.go in this package).
*/
package bitchat

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bitchat-mesh/core/adminapi"
	"github.com/bitchat-mesh/core/identity"
	"github.com/bitchat-mesh/core/mesh"
	"github.com/bitchat-mesh/core/noise"
	"github.com/bitchat-mesh/core/peerid"
	"github.com/bitchat-mesh/core/sanitize"
	"github.com/bitchat-mesh/core/store"
	"github.com/bitchat-mesh/core/transport"
	"github.com/bitchat-mesh/core/transport/link"
	"github.com/bitchat-mesh/core/wire"
)

var now = time.Now

// Sub-type bytes of a decrypted NOISE_ENCRYPTED payload (spec.md §4.D).
const (
	subtypePrivateMessage uint8 = 0x01
	subtypeReadReceipt    uint8 = 0x02
	subtypeDelivered      uint8 = 0x03
	subtypeVerifyChallenge uint8 = 0x10
	subtypeVerifyResponse uint8 = 0x11
)

const deliveryAckSentinel = 0xFE

// Backend is the constructed node. A host application builds one via New,
// adds transports with AddTransport, then calls Start.
type Backend struct {
	Config  *Config
	Filters Filters

	identity *identity.Identity
	db       store.Store

	sessions *noise.Manager
	router   *mesh.Router

	mu         sync.RWMutex
	transports []transport.Transport
	selector   *transport.Selector
	power      transport.PowerState

	admin *adminapi.API

	localShort [8]byte
}

// New constructs a Backend. sealer encrypts the identity keypair at rest;
// pass identity.NewSoftwareSealer(passphrase) for headless/test use. power
// may be nil if the host has no battery to report (spec.md §4.E.4 rule 1
// then never fires).
func New(cfg *Config, sealer identity.KeySealer, filters *Filters, power transport.PowerState) (*Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var db store.Store
	var err error
	if cfg.KeystorePath != "" {
		db, err = store.NewPogrebStore(cfg.KeystorePath)
		if err != nil {
			return nil, err
		}
	} else {
		db = store.NewMemoryStore()
	}

	id, err := identity.LoadOrCreate(db, sealer)
	if err != nil {
		return nil, err
	}
	id.LoadNickname(db)
	if id.Nickname() == "" && cfg.Nickname != "" {
		_ = id.SaveNickname(db, sanitize.Nickname(cfg.Nickname))
	}

	shortHex := id.ShortPeerID()
	shortRaw, err := hex.DecodeString(shortHex)
	if err != nil || len(shortRaw) != 8 {
		return nil, errors.New("bitchat: malformed short peer id derived from identity")
	}
	var short [8]byte
	copy(short[:], shortRaw)

	b := &Backend{
		Config:     cfg,
		identity:   id,
		db:         db,
		localShort: short,
		power:      power,
	}
	if filters != nil {
		b.Filters = *filters
	}
	b.initFilters()

	b.sessions = noise.NewManager(id.StaticPrivate, id.StaticPublic)
	b.sessions.OnHandshakeFailed = func(peerID string, err error) {
		b.Filters.HandshakeFailed(peerID, err)
	}

	b.router = mesh.NewRouter(short, b, b)
	b.selector = transport.NewSelector(power)
	b.admin = adminapi.New(b)

	return b, nil
}

// AddTransport registers a transport and rebuilds the selector over the
// updated set. Call before Start.
func (b *Backend) AddTransport(t transport.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports = append(b.transports, t)
	b.selector = transport.NewSelector(b.power, b.transports...)
}

// Start launches every registered transport and, if configured, the admin
// introspection server.
func (b *Backend) Start() error {
	b.mu.RLock()
	transports := append([]transport.Transport{}, b.transports...)
	b.mu.RUnlock()

	for _, t := range transports {
		if err := t.Start(); err != nil {
			return err
		}
	}

	if b.Config.AdminListen != "" {
		go func() {
			if err := b.admin.ListenAndServe(b.Config.AdminListen); err != nil {
				b.LogError("adminapi.ListenAndServe", "admin surface stopped: %s", err.Error())
			}
		}()
	}
	return nil
}

// Stop tears down every registered transport and drops every Noise session
// (spec.md's emergency-wipe posture).
func (b *Backend) Stop() {
	b.mu.RLock()
	transports := append([]transport.Transport{}, b.transports...)
	b.mu.RUnlock()

	for _, t := range transports {
		t.Stop()
	}
	b.sessions.DropAll()
}

// OnLinkFrame is the callback wired into transport/link.New: every whole
// codec frame a link peer delivers is decoded and run through the mesh
// pipeline, tagged with that peer's handle so relay never echoes straight
// back to it.
func (b *Backend) OnLinkFrame(peerID [8]byte, frame []byte) {
	pkt, err := wire.Decode(frame)
	if err != nil {
		b.LogError("OnLinkFrame", "dropping malformed frame from %x: %s", peerID, err.Error())
		return
	}
	_ = b.router.Ingest(pkt, "link:"+idHex(peerID))
}

// Identity exposes the node's long-lived identity to callers building
// transports (e.g. to seed announce payloads).
func (b *Backend) Identity() *identity.Identity { return b.identity }

// --- mesh.Sender ---

func (b *Backend) Relay(pkt *wire.Packet, excludeLink string) error {
	frame, err := wire.Encode(pkt, true)
	if err != nil {
		return err
	}

	b.mu.RLock()
	transports := append([]transport.Transport{}, b.transports...)
	b.mu.RUnlock()

	var firstErr error
	for _, t := range transports {
		if !t.IsAvailable() {
			continue
		}
		if lt, ok := t.(*link.Link); ok {
			for _, p := range lt.PeerSnapshots() {
				if "link:"+p.PeerID == excludeLink {
					continue
				}
				if err := lt.SendRaw(p.PeerID, frame); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			continue
		}
		if err := t.BroadcastRaw(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Backend) SendTo(peerID string, pkt *wire.Packet) error {
	frame, err := wire.Encode(pkt, true)
	if err != nil {
		return err
	}
	b.mu.RLock()
	sel := b.selector
	b.mu.RUnlock()
	return sel.SendPrivateMessage(peerID, frame)
}

// --- mesh.Delegate ---

func (b *Backend) HandleAnnounce(senderID [8]byte, payload []byte) {
	nickname := string(payload)
	b.Filters.NicknameUpdated(idHex(senderID), nickname)
}

func (b *Backend) HandleMessage(senderID [8]byte, recipient *[8]byte, payload []byte) {
	if len(payload) == 9 && payload[0] == deliveryAckSentinel {
		b.Filters.MessageDelivered(idHex(senderID))
		return
	}

	msg, err := wire.DecodeMessage(payload)
	if err != nil {
		b.LogError("HandleMessage", "malformed message from %s: %s", idHex(senderID), err.Error())
		return
	}
	b.Filters.MessageReceived(idHex(senderID), msg)
}

func (b *Backend) HandleLeave(senderID [8]byte) {
	peerID := idHex(senderID)
	b.sessions.Drop(peerID)
	b.Filters.PeerDisconnected("mesh", peerID)
}

func (b *Backend) HandleNoiseHandshake(senderID [8]byte, payload []byte) (reply []byte, hasReply bool) {
	peerID := idHex(senderID)
	reply, _, err := b.sessions.HandleIncoming(peerID, payload)
	if err != nil {
		return nil, false
	}
	return reply, len(reply) > 0
}

func (b *Backend) HandleNoiseEncrypted(senderID [8]byte, payload []byte) {
	peerID := idHex(senderID)
	session, ok := b.sessions.Session(peerID)
	if !ok || len(payload) < 4 {
		return
	}

	counter := binary.BigEndian.Uint32(payload[:4])
	plaintext, err := session.Decrypt(counter, nil, payload[4:])
	if err != nil {
		b.LogError("HandleNoiseEncrypted", "decrypt from %s failed: %s", peerID, err.Error())
		return
	}
	if len(plaintext) < 1 {
		return
	}

	subtype, inner := plaintext[0], plaintext[1:]
	switch subtype {
	case subtypePrivateMessage:
		if msg, err := wire.DecodeMessage(inner); err == nil {
			b.Filters.MessageReceived(peerID, msg)
		}
	case subtypeReadReceipt:
		b.Filters.ReadReceipt(peerID, inner)
	case subtypeDelivered:
		b.Filters.MessageDelivered(peerID)
	case subtypeVerifyChallenge:
		b.Filters.VerifyChallenge(peerID, inner)
	case subtypeVerifyResponse:
		b.Filters.VerifyResponse(peerID, inner)
	}
}

func (b *Backend) HandlePassthrough(pkt *wire.Packet) {
	b.Filters.Passthrough(pkt)
}

// --- adminapi.Backend ---

func (b *Backend) PeerID() string  { return b.identity.ShortPeerID() }
func (b *Backend) Nickname() string { return b.identity.Nickname() }

func (b *Backend) PeerList() []adminapi.PeerInfo {
	b.mu.RLock()
	sel := b.selector
	b.mu.RUnlock()

	snaps := sel.MergedPeers()
	out := make([]adminapi.PeerInfo, len(snaps))
	for i, s := range snaps {
		out[i] = adminapi.PeerInfo{
			PeerID:      s.PeerID,
			Nickname:    s.Nickname,
			IsConnected: s.IsConnected,
			LastSeen:    s.LastSeen,
		}
	}
	return out
}

func (b *Backend) SessionStates() []adminapi.SessionInfo {
	snaps := b.sessions.Sessions()
	out := make([]adminapi.SessionInfo, len(snaps))
	for i, s := range snaps {
		out[i] = adminapi.SessionInfo{
			PeerID:        s.PeerID,
			State:         sessionStateName(s.State),
			SentCount:     s.SentCount,
			ReceivedCount: s.RecvCount,
			NeedsRekey:    s.NeedsRekey,
		}
	}
	return out
}

func sessionStateName(s noise.SessionState) string {
	switch s {
	case noise.StateHandshaking:
		return "handshaking"
	case noise.StateEstablished:
		return "established"
	default:
		return "idle"
	}
}

func idHex(id [8]byte) string {
	return string(peerid.FromShortBytes(id))
}

func shortBytes(peerID string) ([8]byte, error) {
	return peerid.ID(peerID).Bytes()
}

// --- host-facing facade ---
//
// Announce, TriggerHandshake, and SendChatMessage are the three outbound
// operations spec.md §4.E.1 names (broadcast_announce, trigger_handshake,
// send_message) exposed directly on Backend so a host application doesn't
// have to reach into the router or session manager itself.

// Announce broadcasts this node's nickname mesh-wide (spec.md §4.A
// TYPE_ANNOUNCE).
func (b *Backend) Announce() error {
	pkt := &wire.Packet{
		Version:   2,
		Type:      wire.TypeAnnounce,
		TTL:       wire.MaxRouteHops,
		Timestamp: uint64(now().UnixMilli()),
		SenderID:  b.localShort,
		Payload:   []byte(sanitize.Nickname(b.identity.Nickname())),
	}
	return b.router.Originate(pkt)
}

// TriggerHandshake starts a Noise session toward peerID, originating the
// first XX handshake message (spec.md §4.C).
func (b *Backend) TriggerHandshake(peerID string) error {
	msg, err := b.sessions.InitiateSession(peerID)
	if err != nil {
		return err
	}
	to, err := shortBytes(peerID)
	if err != nil {
		return err
	}
	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseHandshake,
		TTL:         wire.MaxRouteHops,
		Timestamp:   uint64(now().UnixMilli()),
		SenderID:    b.localShort,
		RecipientID: &to,
		Payload:     msg,
	}
	return b.router.Originate(pkt)
}

// SendChatMessage encrypts content for an already-established session with
// peerID and originates it as a directed NOISE_ENCRYPTED packet carrying a
// subtypePrivateMessage payload (spec.md §4.C, §4.D).
func (b *Backend) SendChatMessage(peerID string, msg *wire.Message) error {
	if err := sanitize.Content(msg.Content); err != nil {
		return err
	}

	session, ok := b.sessions.Session(peerID)
	if !ok {
		return errors.New("bitchat: no session established with peer")
	}

	body, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	plaintext := append([]byte{subtypePrivateMessage}, body...)

	counter, ciphertext, err := session.Encrypt(nil, plaintext)
	if err != nil {
		return err
	}
	payload := make([]byte, 4+len(ciphertext))
	binary.BigEndian.PutUint32(payload[:4], counter)
	copy(payload[4:], ciphertext)

	to, err := shortBytes(peerID)
	if err != nil {
		return err
	}
	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseEncrypted,
		TTL:         wire.MaxRouteHops,
		Timestamp:   uint64(now().UnixMilli()),
		SenderID:    b.localShort,
		RecipientID: &to,
		Payload:     payload,
	}
	return b.router.Originate(pkt)
}

// --- transport.Delegate ---
//
// Backend also satisfies transport.Delegate so a host application can wire
// it directly into link.New/rendezvous.New alongside OnLinkFrame, fanning
// every transport lifecycle event out to both the installed Filters hooks
// and the admin introspection event stream.

func (b *Backend) DidReceiveMessage(transportName string, senderID string, payload []byte) {
	b.admin.Publish(adminapi.Event{Kind: "message", Transport: transportName, PeerID: senderID, At: now()})
}

func (b *Backend) DidConnectToPeer(transportName, peerID string) {
	b.Filters.PeerConnected(transportName, peerID)
	b.admin.Publish(adminapi.Event{Kind: "peer_connected", Transport: transportName, PeerID: peerID, At: now()})
}

func (b *Backend) DidDisconnectFromPeer(transportName, peerID string) {
	b.Filters.PeerDisconnected(transportName, peerID)
	b.admin.Publish(adminapi.Event{Kind: "peer_disconnected", Transport: transportName, PeerID: peerID, At: now()})
}

func (b *Backend) DidUpdatePeerList(transportName string, peers []transport.PeerSnapshot) {
	b.admin.Publish(adminapi.Event{Kind: "peer_list_updated", Transport: transportName, Detail: strconv.Itoa(len(peers)), At: now()})
}

func (b *Backend) DidUpdateTransportState(transportName string, state transport.State) {
	b.admin.Publish(adminapi.Event{Kind: "transport_state", Transport: transportName, Detail: state.String(), At: now()})
}

func (b *Backend) DidReceiveNoisePayload(from string, subtype uint8, payload []byte, timestamp uint64) {
	b.admin.Publish(adminapi.Event{Kind: "noise_payload", PeerID: from, At: now()})
}

func (b *Backend) DidUpdateMessageDeliveryStatus(messageID string, status string) {
	b.admin.Publish(adminapi.Event{Kind: "delivery_status", Detail: status, At: now()})
}
