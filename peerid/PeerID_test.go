package peerid

import (
	"encoding/hex"
	"testing"
)

func testPublicKey() (pub [32]byte) {
	for i := range pub {
		pub[i] = byte(i + 1)
	}
	return pub
}

func TestToShortFromFull(t *testing.T) {
	pub := testPublicKey()
	full := FromPublicKey(pub)
	if len(full) != FullLen {
		t.Fatalf("expected %d hex chars, got %d", FullLen, len(full))
	}

	want := ShortFromPublicKey(pub)
	if got := full.ToShort(); got != want {
		t.Fatalf("ToShort() = %q, want %q", got, want)
	}
}

func TestToShortIdempotent(t *testing.T) {
	pub := testPublicKey()
	short := ShortFromPublicKey(pub)

	id := ID(short)
	if got := id.ToShort(); got != short {
		t.Fatalf("ToShort() on an already-short id = %q, want %q", got, short)
	}
}

func TestToShortStripsPrefixes(t *testing.T) {
	pub := testPublicKey()
	short := ShortFromPublicKey(pub)

	for _, prefix := range []string{PrefixMesh, PrefixName, PrefixNoise, PrefixNostr, PrefixNostrAlt} {
		id := ID(prefix + short)
		if got := id.ToShort(); got != short {
			t.Fatalf("prefix %q: ToShort() = %q, want %q", prefix, got, short)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	pub := testPublicKey()
	id := ID(ShortFromPublicKey(pub))

	b, err := id.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}

	back := FromShortBytes(b)
	if back.ToShort() != id.ToShort() {
		t.Fatalf("round trip mismatch: %q != %q", back.ToShort(), id.ToShort())
	}
}

func TestIsFull(t *testing.T) {
	pub := testPublicKey()
	full := FromPublicKey(pub)
	if !full.IsFull() {
		t.Fatalf("expected %q to be a full id", full)
	}

	short := ID(ShortFromPublicKey(pub))
	if short.IsFull() {
		t.Fatalf("expected %q not to be a full id", short)
	}

	prefixedFull := ID(PrefixMesh + string(full))
	if !prefixedFull.IsFull() {
		t.Fatalf("expected prefixed full id to be detected as full")
	}
}

func TestDeterministic(t *testing.T) {
	pub := testPublicKey()
	a := ShortFromPublicKey(pub)
	b := ShortFromPublicKey(pub)
	if a != b {
		t.Fatalf("ShortFromPublicKey not deterministic: %q != %q", a, b)
	}
	if _, err := hex.DecodeString(a); err != nil {
		t.Fatalf("short id is not valid hex: %v", err)
	}
}
