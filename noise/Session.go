/*
Session.go wires the handshake, transport ciphers, and replay window into a
per-peer Noise session plus a manager keyed by peer id, grounded on the
teacher's single-mutex peer-table pattern (Kademlia/routing table access in
the teacher repo always goes through one lock guarding a map) generalized
here to session state instead of routing state.
*/
package noise

import (
	"errors"
	"sync"
	"time"
)

// SessionState reports where a per-peer Noise session sits in its lifecycle.
type SessionState int

const (
	StateIdle SessionState = iota
	StateHandshaking
	StateEstablished
)

// rekeyMessageThreshold and rekeyMaxAge implement spec.md §4.C's rekey
// triggers: "A session needs renegotiation when sent or received counts
// exceed 1,000,000 or when elapsed established time exceeds 24h."
const rekeyMessageThreshold = 1_000_000

const rekeyMaxAge = 24 * time.Hour

// ErrSessionNotEstablished is returned by Encrypt/Decrypt before the
// handshake has completed.
var ErrSessionNotEstablished = errors.New("noise: session not established")

// ErrUnexpectedHandshakeRole is returned when a responder-only or
// initiator-only operation is attempted on the wrong session.
var ErrUnexpectedHandshakeRole = errors.New("noise: unexpected role for operation")

// ErrHandshakeAlreadyComplete is returned when a handshake message arrives
// for a session that has already finished its handshake (e.g. a replayed
// or stray in-flight message 2/3 reaching an established session).
var ErrHandshakeAlreadyComplete = errors.New("noise: handshake already complete for session")

// Session is one peer's Noise_XX handshake plus, once established, the
// split transport cipher states and replay window for that direction pair.
type Session struct {
	mu    sync.Mutex
	state SessionState
	role  Role

	hs *HandshakeState

	send         *CipherState
	recv         *CipherState
	replay       *ReplayWindow
	remoteKey    [32]byte
	haveRemote   bool
	establishedAt time.Time
	sentCount    uint64
	recvCount    uint64
}

// newSession starts a fresh handshake in the given role.
func newSession(role Role, staticPriv, staticPub [32]byte) *Session {
	return &Session{
		state: StateHandshaking,
		role:  role,
		hs:    NewHandshake(role, staticPriv, staticPub),
	}
}

// StartHandshake produces message 1 (-> e) for an initiator session.
func (s *Session) StartHandshake() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleInitiator {
		return nil, ErrUnexpectedHandshakeRole
	}
	return s.hs.WriteMessage(nil)
}

// AdvanceHandshake feeds an incoming handshake message to the session and,
// if this side must reply, returns the next outgoing message. established
// is true once the session has split into transport ciphers: the initiator
// gets there when it writes XX message 3 (returned as reply), the responder
// when it reads message 3, in which case reply is nil.
func (s *Session) AdvanceHandshake(incoming []byte) (reply []byte, established bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hs == nil {
		return nil, false, ErrHandshakeAlreadyComplete
	}

	if _, err = s.hs.ReadMessage(incoming); err != nil {
		return nil, false, err
	}

	if s.hs.Complete() {
		if err = s.finishLocked(); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	reply, err = s.hs.WriteMessage(nil)
	if err != nil {
		return nil, false, err
	}

	if s.hs.Complete() {
		if err = s.finishLocked(); err != nil {
			return nil, false, err
		}
		return reply, true, nil
	}
	return reply, false, nil
}

func (s *Session) finishLocked() error {
	send, recv, err := s.hs.Split()
	if err != nil {
		return err
	}
	remote, ok := s.hs.RemoteStaticPublic()
	if !ok {
		return errors.New("noise: handshake completed without remote static key")
	}
	s.send = send
	s.recv = recv
	s.replay = NewReplayWindow()
	s.remoteKey = remote
	s.haveRemote = true
	s.establishedAt = now()
	s.state = StateEstablished
	s.hs = nil
	return nil
}

// now is the clock finishLocked and NeedsRekey read. It is a variable so a
// fake clock can be substituted to simulate session age; no test in this
// package does so.
var now = time.Now

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteStaticPublic returns the peer's static public key once known.
func (s *Session) RemoteStaticPublic() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteKey, s.haveRemote
}

// Encrypt seals plaintext for the wire, returning the 32-bit counter to
// carry as the 4-byte big-endian wire prefix alongside the ciphertext
// (spec.md §4.C).
func (s *Session) Encrypt(ad, plaintext []byte) (counter uint32, ciphertext []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return 0, nil, ErrSessionNotEstablished
	}
	counter, ciphertext, err = s.send.EncryptNext(ad, plaintext)
	if err == nil {
		s.sentCount++
	}
	return counter, ciphertext, err
}

// Decrypt verifies the replay window, decrypts, and — only on a verified
// tag — marks the counter as seen. A forged ciphertext never consumes a
// replay-window slot.
func (s *Session) Decrypt(counter uint32, ad, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return nil, ErrSessionNotEstablished
	}
	if err := s.replay.Check(uint64(counter)); err != nil {
		return nil, err
	}
	plaintext, err := s.recv.DecryptAt(counter, ad, ciphertext)
	if err != nil {
		return nil, err
	}
	s.replay.Accept(uint64(counter))
	s.recvCount++
	return plaintext, nil
}

// NeedsRekey reports whether this session has crossed spec.md §4.C's rekey
// triggers and should be renegotiated (a fresh handshake started) by the
// caller. The noise package never triggers renegotiation itself — that's a
// router/session-manager policy decision.
func (s *Session) NeedsRekey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return false
	}
	if s.sentCount > rekeyMessageThreshold || s.recvCount > rekeyMessageThreshold {
		return true
	}
	return now().Sub(s.establishedAt) > rekeyMaxAge
}

// Counts returns the sent/received message counts for this session.
func (s *Session) Counts() (sent, recv uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentCount, s.recvCount
}

// HighCounterWarning reports whether either direction's counter has crossed
// the threshold a caller should log a rekey-suggestion warning for: the send
// counter, or the highest counter the replay window has accepted.
func (s *Session) HighCounterWarning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return false
	}
	return s.send.HighCounterWarning() || s.replay.highest > int64(recvWarnThreshold)
}

// Close zeroizes both cipher states when a session is torn down (emergency
// wipe, peer departure, handshake failure).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send != nil {
		s.send.Zero()
	}
	if s.recv != nil {
		s.recv.Zero()
	}
	s.state = StateIdle
}

// Manager owns one Session per peer id, serialized behind a single mutex —
// the same shape the teacher repo uses for its peer table. HandleIncoming
// implements spec.md §4.C's responder rules verbatim.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	staticPriv [32]byte
	staticPub  [32]byte

	// OnHandshakeFailed is called, outside the manager's lock, whenever a
	// handshake step errors out and its session is torn down (spec.md
	// §4.C: "On any exception during handshake, remove the session and
	// surface HandshakeFailed via callback"). Nil is a valid no-op.
	OnHandshakeFailed func(peerID string, err error)
}

// NewManager constructs a session manager bound to this device's static
// Noise keypair.
func NewManager(staticPriv, staticPub [32]byte) *Manager {
	return &Manager{sessions: make(map[string]*Session), staticPriv: staticPriv, staticPub: staticPub}
}

// InitiateSession starts (or restarts) an initiator-role handshake toward
// peerID, returning the first message to send.
func (m *Manager) InitiateSession(peerID string) ([]byte, error) {
	m.mu.Lock()
	s := newSession(RoleInitiator, m.staticPriv, m.staticPub)
	m.sessions[peerID] = s
	m.mu.Unlock()
	return s.StartHandshake()
}

// freshInitiationLen is the wire length of a bare XX message 1 (a 32-byte
// ephemeral public key with an empty, unencrypted payload) — the signal
// spec.md §4.C uses to recognize a peer that has lost its session state.
const freshInitiationLen = 32

// HandleIncoming routes an incoming handshake message to the session for
// peerID, applying spec.md §4.C's rules: create a responder session on
// first contact; if an Established or Handshaking session sees a bare
// 32-byte message, treat it as the peer restarting and replace the session;
// otherwise feed the message to whatever session already exists. Any
// handshake error tears the session down and fires OnHandshakeFailed.
func (m *Manager) HandleIncoming(peerID string, msg []byte) (reply []byte, established bool, err error) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	restart := len(msg) == freshInitiationLen
	fresh := !ok || restart
	switch {
	case !ok:
		s = newSession(RoleResponder, m.staticPriv, m.staticPub)
		m.sessions[peerID] = s
	case restart:
		s.Close()
		s = newSession(RoleResponder, m.staticPriv, m.staticPub)
		m.sessions[peerID] = s
	}
	m.mu.Unlock()

	// A non-restart message against a session that has already finished
	// its handshake (hs == nil) is a stray or replayed frame, not a retry:
	// error out without touching the established session.
	if !fresh && s.State() == StateEstablished {
		return nil, false, ErrHandshakeAlreadyComplete
	}

	reply, established, err = s.AdvanceHandshake(msg)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, peerID)
		m.mu.Unlock()
		s.Close()
		if m.OnHandshakeFailed != nil {
			m.OnHandshakeFailed(peerID, err)
		}
	}
	return reply, established, err
}

// Session returns the current session for peerID, if any.
func (m *Manager) Session(peerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peerID]
	return s, ok
}

// SessionSnapshot is a point-in-time, read-only view of one peer's session,
// for introspection surfaces that must not reach into session internals.
type SessionSnapshot struct {
	PeerID     string
	State      SessionState
	SentCount  uint64
	RecvCount  uint64
	NeedsRekey bool
}

// Sessions lists a snapshot of every currently tracked session.
func (m *Manager) Sessions() []SessionSnapshot {
	m.mu.Lock()
	peers := make([]string, 0, len(m.sessions))
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		peers = append(peers, id)
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionSnapshot, len(peers))
	for i, s := range sessions {
		sent, recv := s.Counts()
		out[i] = SessionSnapshot{
			PeerID:     peers[i],
			State:      s.State(),
			SentCount:  sent,
			RecvCount:  recv,
			NeedsRekey: s.NeedsRekey(),
		}
	}
	return out
}

// Drop tears down and removes a peer's session (spec.md §4.A TYPE_LEAVE
// handling, and the S6 emergency-wipe scenario in bulk via DropAll).
func (m *Manager) Drop(peerID string) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	delete(m.sessions, peerID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// DropAll tears down every session, used for the emergency-wipe scenario.
func (m *Manager) DropAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
