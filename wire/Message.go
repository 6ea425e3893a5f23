package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// Message flag bits (spec.md §6 BitchatMessage binary).
const (
	msgFlagIsRelay              uint8 = 1 << 0
	msgFlagIsPrivate            uint8 = 1 << 1
	msgFlagHasOriginalSender    uint8 = 1 << 2
	msgFlagHasRecipientNickname uint8 = 1 << 3
	msgFlagHasSenderPeerID      uint8 = 1 << 4
	msgFlagHasMentions          uint8 = 1 << 5
)

// Message is the application payload carried inside a MESSAGE or
// PRIVATE_MESSAGE packet (spec.md §3, §6).
type Message struct {
	ID                 uuid.UUID
	SenderNickname     string
	Content            string
	Timestamp          uint64 // milliseconds since epoch
	IsRelay            bool
	IsPrivate          bool
	OriginalSender     string // optional
	RecipientNickname  string // optional
	SenderPeerID       string // optional
	Mentions           []string
}

// EncodeMessage serializes m per spec.md §6's BitchatMessage binary layout.
func EncodeMessage(m *Message) ([]byte, error) {
	var flags uint8
	if m.IsRelay {
		flags |= msgFlagIsRelay
	}
	if m.IsPrivate {
		flags |= msgFlagIsPrivate
	}
	if m.OriginalSender != "" {
		flags |= msgFlagHasOriginalSender
	}
	if m.RecipientNickname != "" {
		flags |= msgFlagHasRecipientNickname
	}
	if m.SenderPeerID != "" {
		flags |= msgFlagHasSenderPeerID
	}
	if len(m.Mentions) > 0 {
		flags |= msgFlagHasMentions
	}

	idStr := m.ID.String()
	if len(idStr) > 255 || len(m.SenderNickname) > 255 {
		return nil, errors.New("wire: message field exceeds 1-byte length prefix")
	}
	if len(m.Content) > 0xFFFF {
		return nil, errors.New("wire: message content exceeds 2-byte length prefix")
	}

	out := make([]byte, 0, 64+len(m.Content))
	out = append(out, flags)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], m.Timestamp)
	out = append(out, tsBuf[:]...)

	out = appendLP1(out, idStr)
	out = appendLP1(out, m.SenderNickname)
	out = appendLP2(out, m.Content)

	if flags&msgFlagHasOriginalSender != 0 {
		if len(m.OriginalSender) > 255 {
			return nil, errors.New("wire: original_sender exceeds 1-byte length prefix")
		}
		out = appendLP1(out, m.OriginalSender)
	}
	if flags&msgFlagHasRecipientNickname != 0 {
		if len(m.RecipientNickname) > 255 {
			return nil, errors.New("wire: recipient_nickname exceeds 1-byte length prefix")
		}
		out = appendLP1(out, m.RecipientNickname)
	}
	if flags&msgFlagHasSenderPeerID != 0 {
		if len(m.SenderPeerID) > 255 {
			return nil, errors.New("wire: sender_peer_id exceeds 1-byte length prefix")
		}
		out = appendLP1(out, m.SenderPeerID)
	}
	if flags&msgFlagHasMentions != 0 {
		if len(m.Mentions) > 255 {
			return nil, errors.New("wire: mentions count exceeds 1-byte length prefix")
		}
		out = append(out, byte(len(m.Mentions)))
		for _, mention := range m.Mentions {
			if len(mention) > 255 {
				return nil, errors.New("wire: mention exceeds 1-byte length prefix")
			}
			out = appendLP1(out, mention)
		}
	}

	return out, nil
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) < 9 {
		return nil, errors.New("wire: truncated message header")
	}

	m := &Message{}
	flags := data[0]
	m.IsRelay = flags&msgFlagIsRelay != 0
	m.IsPrivate = flags&msgFlagIsPrivate != 0
	m.Timestamp = binary.BigEndian.Uint64(data[1:9])

	off := 9

	idStr, off2, err := readLP1(data, off)
	if err != nil {
		return nil, err
	}
	off = off2
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, errors.New("wire: invalid message id")
	}
	m.ID = id

	m.SenderNickname, off, err = readLP1(data, off)
	if err != nil {
		return nil, err
	}

	m.Content, off, err = readLP2(data, off)
	if err != nil {
		return nil, err
	}

	if flags&msgFlagHasOriginalSender != 0 {
		m.OriginalSender, off, err = readLP1(data, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&msgFlagHasRecipientNickname != 0 {
		m.RecipientNickname, off, err = readLP1(data, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&msgFlagHasSenderPeerID != 0 {
		m.SenderPeerID, off, err = readLP1(data, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&msgFlagHasMentions != 0 {
		if off >= len(data) {
			return nil, errors.New("wire: truncated mentions count")
		}
		count := int(data[off])
		off++
		mentions := make([]string, 0, count)
		for i := 0; i < count; i++ {
			var mention string
			mention, off, err = readLP1(data, off)
			if err != nil {
				return nil, err
			}
			mentions = append(mentions, mention)
		}
		m.Mentions = mentions
	}

	return m, nil
}

func appendLP1(out []byte, s string) []byte {
	out = append(out, byte(len(s)))
	return append(out, s...)
}

func appendLP2(out []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	out = append(out, lenBuf[:]...)
	return append(out, s...)
}

func readLP1(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", 0, errors.New("wire: truncated length-prefixed field")
	}
	n := int(data[off])
	off++
	if off+n > len(data) {
		return "", 0, errors.New("wire: truncated length-prefixed field body")
	}
	return string(data[off : off+n]), off + n, nil
}

func readLP2(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, errors.New("wire: truncated 2-byte length-prefixed field")
	}
	n := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if off+n > len(data) {
		return "", 0, errors.New("wire: truncated 2-byte length-prefixed field body")
	}
	return string(data[off : off+n]), off + n, nil
}
