package noise

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func genManagerStatic(t *testing.T, seedByte byte) (priv, pub [32]byte) {
	t.Helper()
	for i := range priv {
		priv[i] = seedByte
	}
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	copy(pub[:], out)
	return
}

func TestManagerFullHandshakeAndTransport(t *testing.T) {
	aPriv, aPub := genManagerStatic(t, 0x01)
	bPriv, bPub := genManagerStatic(t, 0x02)

	alice := NewManager(aPriv, aPub)
	bob := NewManager(bPriv, bPub)

	msg1, err := alice.InitiateSession("bob")
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}

	msg2, established, err := bob.HandleIncoming("alice", msg1)
	if err != nil {
		t.Fatalf("bob HandleIncoming(1): %v", err)
	}
	if established {
		t.Fatalf("bob should not be established after message 1")
	}

	aliceSession, _ := alice.Session("bob")
	msg3, established, err := aliceSession.AdvanceHandshake(msg2)
	if err != nil {
		t.Fatalf("alice AdvanceHandshake(2): %v", err)
	}
	if !established {
		t.Fatalf("alice should be established once it has written message 3")
	}

	bobSession, _ := bob.Session("alice")
	_, established, err = bobSession.AdvanceHandshake(msg3)
	if err != nil {
		t.Fatalf("bob AdvanceHandshake(3): %v", err)
	}
	if !established {
		t.Fatalf("bob should be established after message 3")
	}
	if aliceSession.State() != StateEstablished {
		t.Fatalf("alice should be established after sending message 3")
	}

	remote, ok := aliceSession.RemoteStaticPublic()
	if !ok || remote != bPub {
		t.Fatalf("alice's session should know bob's static key")
	}

	plaintext := []byte("private message")
	counter, ct, err := aliceSession.Encrypt(nil, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := bobSession.Decrypt(counter, nil, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch")
	}

	// Replaying the exact same ciphertext must now fail.
	if _, err := bobSession.Decrypt(counter, nil, ct); err == nil {
		t.Fatalf("expected replayed counter to be rejected")
	}
}

func TestManagerSessionsSnapshot(t *testing.T) {
	aPriv, aPub := genManagerStatic(t, 0x04)
	m := NewManager(aPriv, aPub)
	if _, err := m.InitiateSession("peer"); err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}

	snaps := m.Sessions()
	if len(snaps) != 1 || snaps[0].PeerID != "peer" {
		t.Fatalf("expected one snapshot for peer, got %+v", snaps)
	}
	if snaps[0].State != StateHandshaking {
		t.Fatalf("expected handshaking state before the exchange completes")
	}
}

func TestManagerDropClosesSession(t *testing.T) {
	aPriv, aPub := genManagerStatic(t, 0x03)
	m := NewManager(aPriv, aPub)
	if _, err := m.InitiateSession("peer"); err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	m.Drop("peer")
	if _, ok := m.Session("peer"); ok {
		t.Fatalf("expected session to be removed after Drop")
	}
}

func TestHandleIncomingRestartsOnBareInitiation(t *testing.T) {
	aPriv, aPub := genManagerStatic(t, 0x05)
	bPriv, bPub := genManagerStatic(t, 0x06)

	alice := NewManager(aPriv, aPub)
	bob := NewManager(bPriv, bPub)

	msg1, err := alice.InitiateSession("bob")
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	if _, _, err := bob.HandleIncoming("alice", msg1); err != nil {
		t.Fatalf("bob HandleIncoming(1): %v", err)
	}
	firstSession, _ := bob.Session("alice")
	if firstSession.State() != StateHandshaking {
		t.Fatalf("expected bob's session to be mid-handshake")
	}

	// Alice appears to have lost state and sends a completely fresh
	// message 1. Per spec.md §4.C this must reset bob's session rather
	// than be fed to the stale in-progress handshake.
	freshAlice := NewManager(aPriv, aPub)
	msg1Again, err := freshAlice.InitiateSession("bob")
	if err != nil {
		t.Fatalf("InitiateSession (restart): %v", err)
	}
	if _, _, err := bob.HandleIncoming("alice", msg1Again); err != nil {
		t.Fatalf("bob HandleIncoming(restart): %v", err)
	}
	secondSession, _ := bob.Session("alice")
	if secondSession == firstSession {
		t.Fatalf("expected a bare 32-byte initiation to replace the existing session")
	}
}

func TestHandleIncomingRejectsStrayMessageOnEstablishedSession(t *testing.T) {
	aPriv, aPub := genManagerStatic(t, 0x08)
	bPriv, bPub := genManagerStatic(t, 0x09)

	alice := NewManager(aPriv, aPub)
	bob := NewManager(bPriv, bPub)

	msg1, err := alice.InitiateSession("bob")
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	msg2, _, err := bob.HandleIncoming("alice", msg1)
	if err != nil {
		t.Fatalf("bob HandleIncoming(1): %v", err)
	}
	aliceSession, _ := alice.Session("bob")
	msg3, _, err := aliceSession.AdvanceHandshake(msg2)
	if err != nil {
		t.Fatalf("alice AdvanceHandshake(2): %v", err)
	}
	if _, established, err := bob.HandleIncoming("alice", msg3); err != nil || !established {
		t.Fatalf("bob HandleIncoming(3): established=%v err=%v", established, err)
	}

	bobSession, _ := bob.Session("alice")
	if bobSession.State() != StateEstablished {
		t.Fatalf("expected bob's session to be established")
	}

	// A stray non-32-byte handshake frame arrives for the already
	// established session (e.g. a replayed message 2/3). This must error,
	// not panic, and must leave the established session intact.
	garbage := make([]byte, 96)
	if _, _, err := bob.HandleIncoming("alice", garbage); err != ErrHandshakeAlreadyComplete {
		t.Fatalf("expected ErrHandshakeAlreadyComplete, got %v", err)
	}
	if bobSession.State() != StateEstablished {
		t.Fatalf("expected bob's established session to survive the stray frame")
	}
	if s, ok := bob.Session("alice"); !ok || s != bobSession {
		t.Fatalf("expected the same session to still be tracked for alice")
	}
}

func TestHandleIncomingTearsDownOnHandshakeError(t *testing.T) {
	bPriv, bPub := genManagerStatic(t, 0x07)
	bob := NewManager(bPriv, bPub)

	var failedPeer string
	var failedErr error
	bob.OnHandshakeFailed = func(peerID string, err error) {
		failedPeer = peerID
		failedErr = err
	}

	garbage := make([]byte, 96) // read as message 1; its all-zero ephemeral key is rejected
	if _, _, err := bob.HandleIncoming("mallory", garbage); err == nil {
		t.Fatalf("expected garbage handshake message to error")
	}
	if failedPeer != "mallory" || failedErr == nil {
		t.Fatalf("expected OnHandshakeFailed callback to fire for mallory")
	}
	if _, ok := bob.Session("mallory"); ok {
		t.Fatalf("expected failed session to be removed")
	}
}
