package noise

import (
	"errors"

	"golang.org/x/crypto/curve25519"
)

// Role distinguishes the two sides of a handshake; XX is asymmetric in who
// reveals their static key first.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// ErrHandshakeComplete is returned when WriteMessage/ReadMessage is called
// after the three XX messages have already been exchanged.
var ErrHandshakeComplete = errors.New("noise: handshake already complete")

// HandshakeState drives the three-message Noise_XX_25519_ChaChaPoly_SHA256
// pattern from spec.md §4.C:
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
//
// grounded on the same vendored flynn/noise state machine referenced in
// Symmetric.go, narrowed to the single fixed XX pattern this spec uses —
// there is no pattern selection, no PSK token, no fallback.
type HandshakeState struct {
	ss   symmetricState
	role Role
	step int

	localStatic    [32]byte
	localStaticPub [32]byte
	localEphemeral [32]byte
	localEphPub    [32]byte

	remoteStaticPub *[32]byte
	remoteEphPub    *[32]byte
}

// NewHandshake starts a fresh handshake with the local static keypair. The
// ephemeral keypair is generated internally by the WriteMessage call that
// sends it (message 1 for the initiator, message 2 for the responder).
func NewHandshake(role Role, staticPriv, staticPub [32]byte) *HandshakeState {
	hs := &HandshakeState{role: role, localStatic: staticPriv, localStaticPub: staticPub}
	hs.ss.initializeSymmetric()
	return hs
}

func dh(priv, pub [32]byte) ([]byte, error) {
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return out, nil
}

func validatePublicKey(pub []byte) error {
	if len(pub) != 32 {
		return ErrInvalidPublicKey
	}
	var zero [32]byte
	if string(pub) == string(zero[:]) {
		return ErrInvalidPublicKey
	}
	return nil
}

func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = randomFill(priv[:]); err != nil {
		return
	}
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], out)
	return
}

// WriteMessage produces the next handshake message, mixing payload (usually
// empty for BitChat's handshake) into the transcript per the active token
// pattern step.
func (hs *HandshakeState) WriteMessage(payload []byte) ([]byte, error) {
	switch hs.step {
	case 0:
		if hs.role != RoleInitiator {
			return nil, errors.New("noise: responder cannot write message 0")
		}
		ePriv, ePub, err := generateEphemeral()
		if err != nil {
			return nil, err
		}
		hs.localEphemeral, hs.localEphPub = ePriv, ePub
		hs.ss.mixHash(ePub[:])
		ct, err := hs.ss.encryptAndHash(payload)
		if err != nil {
			return nil, err
		}
		hs.step = 1
		return append(append([]byte{}, ePub[:]...), ct...), nil

	case 1:
		if hs.role != RoleResponder {
			return nil, errors.New("noise: initiator cannot write message 1")
		}
		ePriv, ePub, err := generateEphemeral()
		if err != nil {
			return nil, err
		}
		hs.localEphemeral, hs.localEphPub = ePriv, ePub
		hs.ss.mixHash(ePub[:])

		// ee
		shared, err := dh(hs.localEphemeral, *hs.remoteEphPub)
		if err != nil {
			return nil, err
		}
		hs.ss.mixKey(shared)

		// s
		sCT, err := hs.ss.encryptAndHash(hs.localStaticPub[:])
		if err != nil {
			return nil, err
		}

		// es: responder DHs its static with the remote ephemeral
		shared, err = dh(hs.localStatic, *hs.remoteEphPub)
		if err != nil {
			return nil, err
		}
		hs.ss.mixKey(shared)

		payloadCT, err := hs.ss.encryptAndHash(payload)
		if err != nil {
			return nil, err
		}

		hs.step = 2
		out := append(append([]byte{}, ePub[:]...), sCT...)
		return append(out, payloadCT...), nil

	case 2:
		if hs.role != RoleInitiator {
			return nil, errors.New("noise: responder cannot write message 2")
		}
		sCT, err := hs.ss.encryptAndHash(hs.localStaticPub[:])
		if err != nil {
			return nil, err
		}

		// se: initiator DHs its static with the remote ephemeral
		shared, err := dh(hs.localStatic, *hs.remoteEphPub)
		if err != nil {
			return nil, err
		}
		hs.ss.mixKey(shared)

		payloadCT, err := hs.ss.encryptAndHash(payload)
		if err != nil {
			return nil, err
		}

		hs.step = 3
		return append(sCT, payloadCT...), nil
	}

	return nil, ErrHandshakeComplete
}

// ReadMessage consumes the next handshake message and returns the embedded
// payload (empty for BitChat).
func (hs *HandshakeState) ReadMessage(msg []byte) ([]byte, error) {
	switch hs.step {
	case 0:
		if hs.role != RoleResponder {
			return nil, errors.New("noise: initiator cannot read message 0")
		}
		if len(msg) < 32 {
			return nil, errors.New("noise: truncated handshake message")
		}
		if err := validatePublicKey(msg[:32]); err != nil {
			return nil, err
		}
		var ePub [32]byte
		copy(ePub[:], msg[:32])
		hs.remoteEphPub = &ePub
		hs.ss.mixHash(ePub[:])

		payload, err := hs.ss.decryptAndHash(msg[32:])
		if err != nil {
			return nil, err
		}
		hs.step = 1
		return payload, nil

	case 1:
		if hs.role != RoleInitiator {
			return nil, errors.New("noise: responder cannot read message 1")
		}
		if len(msg) < 32 {
			return nil, errors.New("noise: truncated handshake message")
		}
		if err := validatePublicKey(msg[:32]); err != nil {
			return nil, err
		}
		var ePub [32]byte
		copy(ePub[:], msg[:32])
		hs.remoteEphPub = &ePub
		hs.ss.mixHash(ePub[:])

		shared, err := dh(hs.localEphemeral, *hs.remoteEphPub)
		if err != nil {
			return nil, err
		}
		hs.ss.mixKey(shared)

		rest := msg[32:]
		sCTLen := 32 + 16 // static pub + AEAD tag
		if len(rest) < sCTLen {
			return nil, errors.New("noise: truncated handshake message")
		}
		sPub, err := hs.ss.decryptAndHash(rest[:sCTLen])
		if err != nil {
			return nil, err
		}
		if err := validatePublicKey(sPub); err != nil {
			return nil, err
		}
		var remoteStatic [32]byte
		copy(remoteStatic[:], sPub)
		hs.remoteStaticPub = &remoteStatic

		// es: initiator DHs its ephemeral with the remote static
		shared, err = dh(hs.localEphemeral, remoteStatic)
		if err != nil {
			return nil, err
		}
		hs.ss.mixKey(shared)

		payload, err := hs.ss.decryptAndHash(rest[sCTLen:])
		if err != nil {
			return nil, err
		}
		hs.step = 2
		return payload, nil

	case 2:
		if hs.role != RoleResponder {
			return nil, errors.New("noise: initiator cannot read message 2")
		}
		sCTLen := 32 + 16
		if len(msg) < sCTLen {
			return nil, errors.New("noise: truncated handshake message")
		}
		sPub, err := hs.ss.decryptAndHash(msg[:sCTLen])
		if err != nil {
			return nil, err
		}
		if err := validatePublicKey(sPub); err != nil {
			return nil, err
		}
		var remoteStatic [32]byte
		copy(remoteStatic[:], sPub)
		hs.remoteStaticPub = &remoteStatic

		// se: responder DHs its ephemeral with the remote static
		shared, err := dh(hs.localEphemeral, remoteStatic)
		if err != nil {
			return nil, err
		}
		hs.ss.mixKey(shared)

		payload, err := hs.ss.decryptAndHash(msg[sCTLen:])
		if err != nil {
			return nil, err
		}
		hs.step = 3
		return payload, nil
	}

	return nil, ErrHandshakeComplete
}

// Complete reports whether all three XX messages have been exchanged.
func (hs *HandshakeState) Complete() bool {
	return hs.step == 3
}

// RemoteStaticPublic returns the peer's static public key, available once
// it has been received (after message 2 for the initiator, message 3 for
// the responder).
func (hs *HandshakeState) RemoteStaticPublic() ([32]byte, bool) {
	if hs.remoteStaticPub == nil {
		return [32]byte{}, false
	}
	return *hs.remoteStaticPub, true
}

// Split finalizes the handshake into a pair of transport cipher states. The
// initiator's send key is the responder's receive key and vice versa, per
// Noise's Split() convention. The local ephemeral private key is overwritten
// once the transport keys are derived.
func (hs *HandshakeState) Split() (send, recv *CipherState, err error) {
	if !hs.Complete() {
		return nil, nil, errors.New("noise: handshake not complete")
	}
	k1, k2 := hs.ss.split()
	zeroize(hs.localEphemeral[:])
	if hs.role == RoleInitiator {
		return newCipherState(k1), newCipherState(k2), nil
	}
	return newCipherState(k2), newCipherState(k1), nil
}
