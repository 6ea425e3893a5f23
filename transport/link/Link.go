/*
Package link implements the short-range link transport from spec.md
§4.E.2: a device that is simultaneously a peripheral (advertising and
responding to reads/writes on one characteristic) and a central (scanning
for and connecting to other advertisers). Since no concrete BLE stack
exists in the retrieval pack, the hardware boundary is an injected Radio
interface modeling exactly the primitives §4.E.2 describes; a fake Radio
drives the tests.

Grounded on the teacher's Network.go adapter lifecycle: a struct holding a
terminateSignal channel closed on shutdown, a periodic maintenance
goroutine selecting on a ticker and that channel, and a mutex guarding the
adapter's peer table.
*/
package link

import (
	"errors"
	"sync"
	"time"

	"github.com/bitchat-mesh/core/transport"
)

// Constants from spec.md §4.E.2.
const (
	ServiceID               = "bitchat-link-v1"
	TargetMTU               = 512
	DefaultTTL         uint8 = 7
	MaxInitiatorLinks        = 7
	MinConnectInterval       = 2 * time.Second
	MinAnnounceInterval      = 5 * time.Second
	MaintenanceInterval      = 15 * time.Second
	PeerTimeout              = 120 * time.Second
)

// Radio is the injected hardware boundary modeling the BLE primitives
// spec.md §4.E.2/§9 describe: advertise, scan, connect, read/write
// characteristic, notify, and an inbound message callback.
type Radio interface {
	Advertise(serviceID string) error
	StopAdvertising()

	Scan(serviceID string, onDiscover func(handle string)) error
	StopScan()

	Connect(handle string) error
	Disconnect(handle string)

	// ReadCharacteristic is the central side reading the peripheral's
	// single characteristic (used for the initial announce exchange).
	ReadCharacteristic(handle string) ([]byte, error)

	// WriteCharacteristic writes to the peer's characteristic, chunked
	// below mtu-3 by the radio implementation itself (spec.md §4.E.2:
	// "Writes larger than mtu-3 are transparently chunked at the link
	// layer").
	WriteCharacteristic(handle string, data []byte) error

	// Notify pushes a whole codec-framed packet to a subscribed central.
	Notify(handle string, data []byte) error

	// OnReceive registers the callback invoked for every inbound write or
	// notification, reassembled into a whole frame by the radio layer.
	OnReceive(handler func(handle string, data []byte))
}

// linkPeer tracks one connected/discovered peer.
type linkPeer struct {
	handle      string
	peerID      [8]byte
	nickname    string
	connected   bool
	lastSeen    time.Time
	isInitiator bool // true if we opened this link (we're the central)
}

// Link is the short-range mesh transport.
type Link struct {
	mu    sync.Mutex
	radio Radio

	localID       [8]byte
	nicknameFn    func() string
	onFrame       func(peerID [8]byte, frame []byte)
	delegate      transport.Delegate

	peers map[string]*linkPeer // keyed by radio handle

	lastAnnounce    time.Time
	lastConnectTry  time.Time
	activeInitiated int

	terminateSignal chan struct{}
	started         bool
}

// New constructs a Link transport. onFrame is called with every whole
// codec-framed packet received, to be fed to the mesh router.
func New(radio Radio, localID [8]byte, nicknameFn func() string, onFrame func(peerID [8]byte, frame []byte), delegate transport.Delegate) *Link {
	return &Link{
		radio:           radio,
		localID:         localID,
		nicknameFn:      nicknameFn,
		onFrame:         onFrame,
		delegate:        delegate,
		peers:           make(map[string]*linkPeer),
		terminateSignal: make(chan struct{}),
	}
}

func (l *Link) Name() string { return "link" }

func (l *Link) IsAvailable() bool { return true }

// Start begins advertising and scanning, and launches the maintenance loop.
func (l *Link) Start() error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.mu.Unlock()

	l.radio.OnReceive(l.handleReceive)

	if err := l.radio.Advertise(ServiceID); err != nil {
		return err
	}
	if err := l.radio.Scan(ServiceID, l.handleDiscover); err != nil {
		return err
	}

	go l.maintenanceLoop()
	return nil
}

// Stop tears down all links and clears peer state (spec.md §4.E.2:
// "Emergency disconnect tears down all links and clears all peer state.").
func (l *Link) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	close(l.terminateSignal)
	handles := make([]string, 0, len(l.peers))
	for h := range l.peers {
		handles = append(handles, h)
	}
	l.peers = make(map[string]*linkPeer)
	l.mu.Unlock()

	l.radio.StopAdvertising()
	l.radio.StopScan()
	for _, h := range handles {
		l.radio.Disconnect(h)
	}
}

func (l *Link) maintenanceLoop() {
	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.terminateSignal:
			return
		case <-ticker.C:
			l.runMaintenance()
		}
	}
}

func (l *Link) runMaintenance() {
	l.mu.Lock()
	now := time.Now()
	var stale, staleIDs []string
	for h, p := range l.peers {
		if now.Sub(p.lastSeen) > PeerTimeout {
			stale = append(stale, h)
			staleIDs = append(staleIDs, idHex(p.peerID))
		}
	}
	for _, h := range stale {
		delete(l.peers, h)
	}
	shouldAnnounce := now.Sub(l.lastAnnounce) >= MinAnnounceInterval
	if shouldAnnounce {
		l.lastAnnounce = now
	}
	l.mu.Unlock()

	for i, h := range stale {
		l.radio.Disconnect(h)
		if l.delegate != nil {
			l.delegate.DidDisconnectFromPeer(l.Name(), staleIDs[i])
		}
	}
	if shouldAnnounce {
		l.broadcastAnnounce()
	}
}

func encodeAnnounce(peerID [8]byte, nickname string) []byte {
	out := make([]byte, 8+len(nickname))
	copy(out[:8], peerID[:])
	copy(out[8:], nickname)
	return out
}

func decodeAnnounce(raw []byte) (peerID [8]byte, nickname string, err error) {
	if len(raw) < 8 {
		return peerID, "", errors.New("link: truncated announce payload")
	}
	copy(peerID[:], raw[:8])
	return peerID, string(raw[8:]), nil
}

// handleDiscover is the central-role path: on discovering a new
// advertiser, connect (respecting the minimum connect interval and the
// concurrent-initiator-link cap), read its announce characteristic, then
// write our own announce back.
func (l *Link) handleDiscover(handle string) {
	l.mu.Lock()
	if _, exists := l.peers[handle]; exists {
		l.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(l.lastConnectTry) < MinConnectInterval {
		l.mu.Unlock()
		return
	}
	if l.activeInitiated >= MaxInitiatorLinks {
		l.mu.Unlock()
		return
	}
	l.lastConnectTry = now
	l.activeInitiated++
	l.mu.Unlock()

	if err := l.radio.Connect(handle); err != nil {
		l.mu.Lock()
		l.activeInitiated--
		l.mu.Unlock()
		return
	}

	raw, err := l.radio.ReadCharacteristic(handle)
	if err != nil {
		l.radio.Disconnect(handle)
		l.mu.Lock()
		l.activeInitiated--
		l.mu.Unlock()
		return
	}
	peerID, nickname, err := decodeAnnounce(raw)
	if err != nil {
		l.radio.Disconnect(handle)
		l.mu.Lock()
		l.activeInitiated--
		l.mu.Unlock()
		return
	}

	ourAnnounce := encodeAnnounce(l.localID, l.nicknameFn())
	_ = l.radio.WriteCharacteristic(handle, ourAnnounce)

	l.mu.Lock()
	l.peers[handle] = &linkPeer{handle: handle, peerID: peerID, nickname: nickname, connected: true, lastSeen: time.Now(), isInitiator: true}
	l.mu.Unlock()

	if l.delegate != nil {
		l.delegate.DidConnectToPeer(l.Name(), idHex(peerID))
	}
}

// handleReceive demultiplexes inbound radio traffic: the first message on
// a fresh peripheral-side connection is treated as the central's announce
// write; everything after is a whole codec-framed packet for the router.
func (l *Link) handleReceive(handle string, data []byte) {
	l.mu.Lock()
	p, known := l.peers[handle]
	l.mu.Unlock()

	if !known {
		peerID, _, err := decodeAnnounce(data)
		if err != nil {
			return
		}
		l.mu.Lock()
		l.peers[handle] = &linkPeer{handle: handle, peerID: peerID, connected: true, lastSeen: time.Now()}
		l.mu.Unlock()
		if l.delegate != nil {
			l.delegate.DidConnectToPeer(l.Name(), idHex(peerID))
		}
		return
	}

	l.mu.Lock()
	p.lastSeen = time.Now()
	l.mu.Unlock()

	if l.onFrame != nil {
		l.onFrame(p.peerID, data)
	}
}

func (l *Link) broadcastAnnounce() {
	_ = l.BroadcastRaw(encodeAnnounce(l.localID, l.nicknameFn()))
}

func (l *Link) findHandle(peerID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, p := range l.peers {
		if idHex(p.peerID) == peerID {
			return h, true
		}
	}
	return "", false
}

func (l *Link) PeerSnapshots() []transport.PeerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transport.PeerSnapshot, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, transport.PeerSnapshot{
			PeerID:      idHex(p.peerID),
			Nickname:    p.nickname,
			IsConnected: p.connected,
			LastSeen:    p.lastSeen,
		})
	}
	return out
}

func (l *Link) IsPeerReachable(peerID string) bool {
	_, ok := l.findHandle(peerID)
	return ok
}

func (l *Link) SendRaw(peerID string, data []byte) error {
	handle, ok := l.findHandle(peerID)
	if !ok {
		return errors.New("link: peer not reachable")
	}
	return l.radio.Notify(handle, data)
}

func (l *Link) BroadcastRaw(data []byte) error {
	l.mu.Lock()
	handles := make([]string, 0, len(l.peers))
	for h := range l.peers {
		handles = append(handles, h)
	}
	l.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := l.radio.Notify(h, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Link) SendMessage(payload []byte) error           { return l.BroadcastRaw(payload) }
func (l *Link) SendPrivateMessage(peerID string, payload []byte) error { return l.SendRaw(peerID, payload) }
func (l *Link) SendDeliveryAck(peerID string, messageID []byte) error  { return l.SendRaw(peerID, messageID) }
func (l *Link) SendReadReceipt(peerID string, messageID []byte) error  { return l.SendRaw(peerID, messageID) }
func (l *Link) TriggerHandshake(peerID string) error                   { return nil }

func (l *Link) SendAnnounce(nickname string) error {
	return l.BroadcastRaw(encodeAnnounce(l.localID, nickname))
}

func idHex(id [8]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i, b := range id {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xF]
	}
	return string(out)
}
