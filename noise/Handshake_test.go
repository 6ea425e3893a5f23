package noise

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func genStatic(t *testing.T, seedByte byte) (priv, pub [32]byte) {
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

func runFullHandshake(t *testing.T) (initSend, initRecv, respSend, respRecv *CipherState) {
	t.Helper()
	iPriv, iPub := genStatic(t, 0x11)
	rPriv, rPub := genStatic(t, 0x22)

	initiator := NewHandshake(RoleInitiator, iPriv, iPub)
	responder := NewHandshake(RoleResponder, rPriv, rPub)

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("initiator WriteMessage(1): %v", err)
	}
	if _, err := responder.ReadMessage(msg1); err != nil {
		t.Fatalf("responder ReadMessage(1): %v", err)
	}

	msg2, err := responder.WriteMessage(nil)
	if err != nil {
		t.Fatalf("responder WriteMessage(2): %v", err)
	}
	if _, err := initiator.ReadMessage(msg2); err != nil {
		t.Fatalf("initiator ReadMessage(2): %v", err)
	}

	msg3, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("initiator WriteMessage(3): %v", err)
	}
	if _, err := responder.ReadMessage(msg3); err != nil {
		t.Fatalf("responder ReadMessage(3): %v", err)
	}

	if !initiator.Complete() || !responder.Complete() {
		t.Fatalf("expected both sides complete")
	}

	iRemote, ok := initiator.RemoteStaticPublic()
	if !ok || iRemote != rPub {
		t.Fatalf("initiator did not learn responder's static key")
	}
	rRemote, ok := responder.RemoteStaticPublic()
	if !ok || rRemote != iPub {
		t.Fatalf("responder did not learn initiator's static key")
	}

	initSend, initRecv, err = initiator.Split()
	if err != nil {
		t.Fatalf("initiator Split: %v", err)
	}
	respSend, respRecv, err = responder.Split()
	if err != nil {
		t.Fatalf("responder Split: %v", err)
	}
	return
}

func TestHandshakeProducesSymmetricTransportKeys(t *testing.T) {
	initSend, initRecv, respSend, respRecv := runFullHandshake(t)

	if !bytes.Equal(initSend.key[:], respRecv.key[:]) {
		t.Fatalf("initiator send key must equal responder recv key")
	}
	if !bytes.Equal(initRecv.key[:], respSend.key[:]) {
		t.Fatalf("initiator recv key must equal responder send key")
	}
	if bytes.Equal(initSend.key[:], initRecv.key[:]) {
		t.Fatalf("send and recv keys must differ")
	}
}

func TestHandshakeTransportRoundTrip(t *testing.T) {
	initSend, initRecv, respSend, respRecv := runFullHandshake(t)

	ad := []byte("associated-data")
	plaintext := []byte("hello over the mesh")

	counter, ct, err := initSend.EncryptNext(ad, plaintext)
	if err != nil {
		t.Fatalf("EncryptNext: %v", err)
	}
	got, err := respRecv.DecryptAt(counter, ad, ct)
	if err != nil {
		t.Fatalf("DecryptAt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch: %q vs %q", got, plaintext)
	}

	counter2, ct2, err := respSend.EncryptNext(ad, plaintext)
	if err != nil {
		t.Fatalf("EncryptNext (reverse direction): %v", err)
	}
	got2, err := initRecv.DecryptAt(counter2, ad, ct2)
	if err != nil {
		t.Fatalf("DecryptAt (reverse direction): %v", err)
	}
	if !bytes.Equal(got2, plaintext) {
		t.Fatalf("reverse-direction plaintext mismatch")
	}
}

func TestHandshakeRejectsInvalidRemoteKey(t *testing.T) {
	iPriv, iPub := genStatic(t, 0x33)
	responder := NewHandshake(RoleResponder, iPriv, iPub)

	bogus := make([]byte, 32+16)
	if _, err := responder.ReadMessage(bogus); err == nil {
		t.Fatalf("expected all-zero ephemeral key to be rejected")
	}
}

func TestSplitBeforeCompletionFails(t *testing.T) {
	iPriv, iPub := genStatic(t, 0x44)
	hs := NewHandshake(RoleInitiator, iPriv, iPub)
	if _, err := hs.WriteMessage(nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, _, err := hs.Split(); err == nil {
		t.Fatalf("expected Split to fail before handshake completion")
	}
}
