package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// SoftwareSealer is a passphrase-derived KeySealer for headless operation
// and tests. It is explicitly NOT a hardware keystore: spec.md §4.B calls
// for identity to be "stored encrypted under a hardware-backed master key,"
// and binding to a real one (Android Keystore, Secure Enclave, …) is an
// external collaborator per spec.md §1 — this type only satisfies the
// KeySealer contract so the rest of the module doesn't need one to run.
type SoftwareSealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// NewSoftwareSealer derives a 256-bit key from passphrase via SHA-256. This
// is deliberately simple (no memory-hard KDF) since it stands in for a
// hardware keystore that would never derive a key from a passphrase this
// way at all.
func NewSoftwareSealer(passphrase []byte) (*SoftwareSealer, error) {
	key := sha256.Sum256(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &SoftwareSealer{aead: aead}, nil
}

// Seal encrypts plaintext, prefixing the nonce onto the returned ciphertext.
func (s *SoftwareSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *SoftwareSealer) Open(ciphertext []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("identity: sealed record too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return s.aead.Open(nil, nonce, body, nil)
}
