/*
Package identity implements the long-lived device identity from spec.md
§4.B: a Curve25519 static keypair used for Noise sessions, paired with an
Ed25519 signing keypair used for packet signatures (spec.md §3). The keypair
is generated once on first run and persisted encrypted, the way
`Peer ID.go`'s initPeerID loads-or-generates against a config-backed store
in the teacher repo.
*/
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/bitchat-mesh/core/peerid"
	"github.com/bitchat-mesh/core/store"
)

const keystoreKey = "identity/static-keypair"

// KeySealer models the "hardware-backed master key" from spec.md §4.B.
// Production builds inject a real platform keystore; SoftwareSealer below
// is a software fallback for headless operation and tests, not a
// replacement for one.
type KeySealer interface {
	Seal(plaintext []byte) (ciphertext []byte, err error)
	Open(ciphertext []byte) (plaintext []byte, err error)
}

// Identity holds a device's long-lived keypairs.
type Identity struct {
	StaticPrivate [32]byte // Curve25519, used for Noise DH
	StaticPublic  [32]byte

	SigningPrivate ed25519.PrivateKey // Ed25519, used for packet signatures
	SigningPublic  ed25519.PublicKey

	nickname string
}

// ShortPeerID returns the 16-hex routing id derived from the static public key.
func (id *Identity) ShortPeerID() string {
	return peerid.ShortFromPublicKey(id.StaticPublic)
}

// Fingerprint returns the user-facing out-of-band verification string: the
// 16-hex short id grouped 4-4-4-4, uppercase (spec.md §4.B).
func (id *Identity) Fingerprint() string {
	short := strings.ToUpper(id.ShortPeerID())
	var b strings.Builder
	for i, c := range short {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Nickname returns the current locally chosen display nickname.
func (id *Identity) Nickname() string {
	return id.nickname
}

// generate creates a fresh static Curve25519 keypair and Ed25519 signing
// keypair.
func generate() (*Identity, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}

	pub, err := curve25519.X25519(seed[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	id := &Identity{StaticPrivate: seed}
	copy(id.StaticPublic[:], pub)

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	id.SigningPrivate = signPriv
	id.SigningPublic = signPub

	return id, nil
}

// serialized is the on-disk/keystore representation: priv(32) + signPriv(64).
// Public keys and ed25519's own public portion are derivable and re-derived
// on load rather than stored twice.
func (id *Identity) serialize() []byte {
	out := make([]byte, 32+len(id.SigningPrivate))
	copy(out[:32], id.StaticPrivate[:])
	copy(out[32:], id.SigningPrivate)
	return out
}

func deserialize(raw []byte) (*Identity, error) {
	if len(raw) != 32+ed25519.PrivateKeySize {
		return nil, errors.New("identity: corrupted keystore record")
	}

	id := &Identity{}
	copy(id.StaticPrivate[:], raw[:32])

	pub, err := curve25519.X25519(id.StaticPrivate[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(id.StaticPublic[:], pub)

	id.SigningPrivate = append(ed25519.PrivateKey(nil), raw[32:]...)
	id.SigningPublic = id.SigningPrivate.Public().(ed25519.PublicKey)

	return id, nil
}

// LoadOrCreate loads the identity from db (decrypting with sealer), or
// generates and persists a new one if none exists yet. This mirrors the
// teacher's initPeerID: load from persisted config, else generate once and
// save.
func LoadOrCreate(db store.Store, sealer KeySealer) (*Identity, error) {
	sealed, found := db.Get([]byte(keystoreKey))
	if found {
		raw, err := sealer.Open(sealed)
		if err != nil {
			return nil, err
		}
		return deserialize(raw)
	}

	id, err := generate()
	if err != nil {
		return nil, err
	}

	sealed, err = sealer.Seal(id.serialize())
	if err != nil {
		return nil, err
	}
	if err := db.Set([]byte(keystoreKey), sealed); err != nil {
		return nil, err
	}

	return id, nil
}

// SaveNickname persists the chosen nickname alongside the identity record.
// It satisfies the "save_nickname(s)" external-collaborator surface from
// spec.md §6.
func (id *Identity) SaveNickname(db store.Store, nickname string) error {
	id.nickname = nickname
	return db.Set([]byte("identity/nickname"), []byte(nickname))
}

// LoadNickname restores a previously saved nickname, if any.
func (id *Identity) LoadNickname(db store.Store) {
	if raw, found := db.Get([]byte("identity/nickname")); found {
		id.nickname = string(raw)
	}
}

// Sign signs data with the Ed25519 signing key, returning the 64-byte
// signature carried in Packet.Signature (spec.md §3).
func (id *Identity) Sign(data []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(id.SigningPrivate, data))
	return sig
}

// Verify checks an Ed25519 signature against a hex-encoded 32-byte public key.
func Verify(signingPublicKeyHex string, data []byte, signature [64]byte) bool {
	raw, err := hex.DecodeString(signingPublicKeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(raw), data, signature[:])
}

// publicKeyFingerprint returns the 16-hex short id (first 8 bytes of
// SHA-256, lowercase, ungrouped) of an arbitrary public key without
// constructing a full Identity. Nothing in the module calls it.
func publicKeyFingerprint(pub [32]byte) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:8])
}
