/*
Package noise implements the session engine from spec.md §4.C:
Noise_XX_25519_ChaChaPoly_SHA256 handshake, transport cipher states with the
two nonce regimes, and the 1024-bit sliding-window replay defense. This
file holds the symmetric state shared by every step of the handshake,
grounded on the vendored flynn/noise reference found in the retrieval pack
(other_examples/ee31748a_rclone-rclone__vendor-github.com-flynn-noise-state.go.go),
narrowed from its generic multi-cipher-suite framework to the single fixed
cipher suite this spec mandates.
*/
package noise

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const protocolName = "Noise_XX_25519_ChaChaPoly_SHA256"

// ErrInvalidPublicKey is returned when a peer's public key fails validation
// (spec.md §4.C: length 32, not all-zero, library-level DH validation).
var ErrInvalidPublicKey = errors.New("noise: invalid public key")

// symmetricState tracks the running chaining key and transcript hash
// through a handshake.
type symmetricState struct {
	ck [32]byte
	h  [32]byte

	hasKey bool
	key    [32]byte
	nonce  uint64
}

// initializeSymmetric implements spec.md §4.C: "hash = protocol name
// (padded to 32 bytes with zeros if shorter, else SHA-256(name)); chaining
// key = hash."
func (s *symmetricState) initializeSymmetric() {
	name := []byte(protocolName)
	if len(name) <= 32 {
		copy(s.h[:], name)
	} else {
		s.h = sha256.Sum256(name)
	}
	s.ck = s.h
}

// mixHash implements hash = SHA256(hash || x).
func (s *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

// hkdfExpand runs the Noise HKDF construction: temp_key = HMAC(ck, ikm),
// then n outputs of HMAC-chained expansion. golang.org/x/crypto/hkdf's
// Extract(salt=ck, secret=ikm) followed by Expand reproduces exactly this —
// HKDF-Extract computes HMAC(salt, secret), which is temp_key, and the
// subsequent Expand reads are the T(1), T(2), ... chain Noise specifies.
func hkdfExpand(ck [32]byte, ikm []byte, n int) [][32]byte {
	reader := hkdf.New(sha256.New, ikm, ck[:], nil)
	out := make([][32]byte, n)
	for i := 0; i < n; i++ {
		if _, err := reader.Read(out[i][:]); err != nil {
			panic("noise: hkdf read failed: " + err.Error())
		}
	}
	return out
}

// mixKey implements spec.md §4.C mixKey: splits HKDF(ck, dhOutput, 2) into
// (new ck, cipher key) and zeroizes dhOutput immediately after use.
func (s *symmetricState) mixKey(dhOutput []byte) {
	outs := hkdfExpand(s.ck, dhOutput, 2)
	s.ck = outs[0]
	s.key = outs[1]
	s.hasKey = true
	s.nonce = 0
	zeroize(dhOutput)
}

// mixKeyAndHash implements mixKeyAndHash: splits HKDF(ck, ikm, 3) into
// (new ck, hash input, cipher key), then mixes the hash input into the
// transcript hash. XX does not use a PSK token, so this is unused by the
// handshake state machine but kept for protocol fidelity and testability.
func (s *symmetricState) mixKeyAndHash(ikm []byte) {
	outs := hkdfExpand(s.ck, ikm, 3)
	s.ck = outs[0]
	tempH := outs[1]
	s.key = outs[2]
	s.hasKey = true
	s.nonce = 0
	s.mixHash(tempH[:])
}

// encryptAndHash encrypts plaintext (if a key is established) or passes it
// through, then mixes the resulting bytes into the transcript hash.
func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return append([]byte(nil), plaintext...), nil
	}

	ciphertext, err := encryptWithAD(s.key, s.nonce, s.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	s.nonce++
	s.mixHash(ciphertext)
	return ciphertext, nil
}

// decryptAndHash reverses encryptAndHash.
func (s *symmetricState) decryptAndHash(data []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(data)
		return append([]byte(nil), data...), nil
	}

	plaintext, err := decryptWithAD(s.key, s.nonce, s.h[:], data)
	if err != nil {
		return nil, err
	}
	s.nonce++
	s.mixHash(data)
	return plaintext, nil
}

// split derives the two transport cipher states from the final chaining
// key, then clears the symmetric state (spec.md §4.C: "the symmetric state
// is then cleared").
func (s *symmetricState) split() (sendKey, recvKey [32]byte) {
	outs := hkdfExpand(s.ck, nil, 2)
	sendKey, recvKey = outs[0], outs[1]

	zeroize(s.ck[:])
	zeroize(s.h[:])
	zeroize(s.key[:])
	s.hasKey = false
	s.nonce = 0

	return sendKey, recvKey
}

func encryptWithAD(key [32]byte, nonce uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, handshakeNonce(nonce), plaintext, ad), nil
}

func decryptWithAD(key [32]byte, nonce uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, handshakeNonce(nonce), ciphertext, ad)
}

// handshakeNonce builds the 12-byte AEAD nonce used during the handshake
// itself: 4 zero bytes followed by the little-endian 64-bit counter, same
// layout as the post-handshake transport cipher (spec.md §4.C).
func handshakeNonce(counter uint64) []byte {
	return littleEndianNonce(counter)
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
