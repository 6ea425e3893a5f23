package wire

import (
	"testing"

	"github.com/google/uuid"
)

func TestMessageRoundTripMinimal(t *testing.T) {
	m := &Message{
		ID:             uuid.New(),
		SenderNickname: "alice",
		Content:        "hello",
		Timestamp:      42,
	}

	raw, err := EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	got, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}

	if got.ID != m.ID || got.SenderNickname != m.SenderNickname || got.Content != m.Content || got.Timestamp != m.Timestamp {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, m)
	}
}

func TestMessageRoundTripAllOptionalFields(t *testing.T) {
	m := &Message{
		ID:                uuid.New(),
		SenderNickname:    "bob",
		Content:           "hi @alice",
		Timestamp:         1000,
		IsRelay:           true,
		IsPrivate:         true,
		OriginalSender:    "carol",
		RecipientNickname: "alice",
		SenderPeerID:      "abcdef0123456789",
		Mentions:          []string{"alice", "dave"},
	}

	raw, err := EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	got, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}

	if !got.IsRelay || !got.IsPrivate {
		t.Fatalf("flags not preserved")
	}
	if got.OriginalSender != m.OriginalSender || got.RecipientNickname != m.RecipientNickname || got.SenderPeerID != m.SenderPeerID {
		t.Fatalf("optional fields mismatch: %+v", got)
	}
	if len(got.Mentions) != 2 || got.Mentions[0] != "alice" || got.Mentions[1] != "dave" {
		t.Fatalf("mentions mismatch: %+v", got.Mentions)
	}
}

func TestMessageDecodeTruncated(t *testing.T) {
	if _, err := DecodeMessage([]byte{0x00}); err == nil {
		t.Fatalf("expected error for truncated message")
	}
}
