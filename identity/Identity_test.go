package identity

import (
	"testing"

	"github.com/bitchat-mesh/core/store"
)

func TestLoadOrCreateGeneratesOnce(t *testing.T) {
	db := store.NewMemoryStore()
	sealer, err := NewSoftwareSealer([]byte("test passphrase"))
	if err != nil {
		t.Fatalf("NewSoftwareSealer: %v", err)
	}

	id1, err := LoadOrCreate(db, sealer)
	if err != nil {
		t.Fatalf("LoadOrCreate (generate): %v", err)
	}

	id2, err := LoadOrCreate(db, sealer)
	if err != nil {
		t.Fatalf("LoadOrCreate (reload): %v", err)
	}

	if id1.StaticPublic != id2.StaticPublic {
		t.Fatalf("expected the same identity to be reloaded, got different static keys")
	}
	if string(id1.SigningPublic) != string(id2.SigningPublic) {
		t.Fatalf("expected the same signing key to be reloaded")
	}
}

func TestShortPeerIDLength(t *testing.T) {
	db := store.NewMemoryStore()
	sealer, _ := NewSoftwareSealer([]byte("pw"))
	id, err := LoadOrCreate(db, sealer)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	short := id.ShortPeerID()
	if len(short) != 16 {
		t.Fatalf("expected 16-hex short id, got %q (%d chars)", short, len(short))
	}
}

func TestFingerprintFormat(t *testing.T) {
	db := store.NewMemoryStore()
	sealer, _ := NewSoftwareSealer([]byte("pw"))
	id, err := LoadOrCreate(db, sealer)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	fp := id.Fingerprint()
	// 16 hex chars grouped 4-4-4-4 with 3 separating spaces = 19 chars.
	if len(fp) != 19 {
		t.Fatalf("expected fingerprint length 19, got %d (%q)", len(fp), fp)
	}
	for _, c := range fp {
		if c == ' ' {
			continue
		}
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			t.Fatalf("fingerprint contains unexpected character %q in %q", c, fp)
		}
	}
}

func TestSignVerify(t *testing.T) {
	db := store.NewMemoryStore()
	sealer, _ := NewSoftwareSealer([]byte("pw"))
	id, err := LoadOrCreate(db, sealer)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	msg := []byte("hello mesh")
	sig := id.Sign(msg)

	pubHex := hexEncode(id.SigningPublic)
	if !Verify(pubHex, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(pubHex, []byte("tampered"), sig) {
		t.Fatalf("expected signature verification to fail for tampered data")
	}
}

func TestSaveLoadNickname(t *testing.T) {
	db := store.NewMemoryStore()
	sealer, _ := NewSoftwareSealer([]byte("pw"))
	id, err := LoadOrCreate(db, sealer)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	if err := id.SaveNickname(db, "alice"); err != nil {
		t.Fatalf("SaveNickname: %v", err)
	}

	id2 := &Identity{}
	id2.LoadNickname(db)
	if id2.Nickname() != "alice" {
		t.Fatalf("expected nickname %q, got %q", "alice", id2.Nickname())
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xF]
	}
	return string(out)
}
