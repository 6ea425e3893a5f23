package noise

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// maxSendCounter is where the send counter fails closed, well below the
// 2^64 theoretical AEAD limit (spec.md §4.C: "The send counter fails closed
// at 2³²−1 to force rekeying"). Wire encoding of the extracted nonce is
// four big-endian bytes, which bounds the counter to this range anyway.
const maxSendCounter = uint32(1<<32 - 1)

// recvWarnThreshold is the point above which a receiver should log a
// warning suggesting rekey (spec.md §4.C: "receivers log a warning above
// 10^9"). It is surfaced via HighCounterWarning rather than logged
// directly — the noise package itself never logs.
const recvWarnThreshold = uint32(1_000_000_000)

// ErrNonceExhausted signals that a cipher state's send counter has reached
// maxSendCounter and must be rekeyed before any further message can be sent.
var ErrNonceExhausted = errors.New("noise: send counter exhausted, rekey required")

// CipherState is one direction of a split transport session: a ChaCha20-
// Poly1305 key plus the nonce bookkeeping for that direction. Senders use a
// self-maintained monotonic 32-bit counter; receivers extract the counter
// carried on the wire (spec.md §4.C: "prefixed on the wire with 4
// big-endian bytes of the sender's counter") and validate it against a
// replay window before ever calling DecryptAt.
type CipherState struct {
	key     [32]byte
	counter uint32
}

func newCipherState(key [32]byte) *CipherState {
	return &CipherState{key: key}
}

// littleEndianNonce lays out a 12-byte AEAD nonce as 4 zero bytes followed
// by the little-endian 64-bit counter. The handshake's internal AEAD
// (Symmetric.go's encryptAndHash/decryptAndHash) and the transport cipher
// (transportNonce) both use this layout.
func littleEndianNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// transportNonce builds the 12-byte ChaCha20-Poly1305 nonce for a transport
// message from the 32-bit counter: 4 zero bytes followed by the counter as a
// little-endian 64-bit integer. The 4-byte big-endian wire prefix carries the
// same counter value but is not the nonce layout.
func transportNonce(counter uint32) []byte {
	return littleEndianNonce(uint64(counter))
}

// EncryptNext encrypts plaintext under the next send counter, returning the
// counter used so the caller can place its 4 big-endian bytes on the wire.
func (cs *CipherState) EncryptNext(ad, plaintext []byte) (counter uint32, ciphertext []byte, err error) {
	if cs.counter >= maxSendCounter {
		return 0, nil, ErrNonceExhausted
	}
	aead, err := chacha20poly1305.New(cs.key[:])
	if err != nil {
		return 0, nil, err
	}
	counter = cs.counter
	ciphertext = aead.Seal(nil, transportNonce(counter), plaintext, ad)
	cs.counter++
	return counter, ciphertext, nil
}

// DecryptAt decrypts ciphertext under an explicit, wire-extracted counter.
// Callers are expected to have already checked the counter against a
// ReplayWindow — DecryptAt itself performs no replay bookkeeping.
func (cs *CipherState) DecryptAt(counter uint32, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(cs.key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, transportNonce(counter), ciphertext, ad)
}

// HighCounterWarning reports whether the send counter has crossed the
// threshold above which a caller should log a rekey suggestion. DecryptAt
// does not advance the counter, so on a receiving CipherState this is
// always false.
func (cs *CipherState) HighCounterWarning() bool {
	return cs.counter > recvWarnThreshold
}

// Rekey replaces the cipher key via Noise's standard rekey construction:
// encrypt 32 zero bytes under the current key at the maximum nonce and take
// the result as the new key (spec.md §4.C rekey trigger on counter
// exhaustion or the 1,000,000-message/24h scheduled rotation).
func (cs *CipherState) Rekey() error {
	aead, err := chacha20poly1305.New(cs.key[:])
	if err != nil {
		return err
	}
	var zeros [32]byte
	newKey := aead.Seal(nil, transportNonce(maxSendCounter), zeros[:], nil)
	copy(cs.key[:], newKey[:32])
	cs.counter = 0
	return nil
}

// Zero scrubs the key material from memory once a session is torn down.
func (cs *CipherState) Zero() {
	zeroize(cs.key[:])
	cs.counter = 0
}

func randomFill(b []byte) (int, error) {
	return rand.Read(b)
}
