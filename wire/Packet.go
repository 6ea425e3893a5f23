/*
Package wire implements the BitChat binary wire format from spec.md §4.A:
versioned packet framing, flag bits, zlib compression, and PKCS#7-style
padding. The format is byte-exact across implementations — nothing here may
diverge from the header layouts and flag semantics spec.md §4.A and §6
describe.
*/
package wire

import (
	"encoding/binary"
	"errors"
)

// Type is the packet-level message type (spec.md §6).
type Type uint8

const (
	TypeAnnounce       Type = 0x01
	TypeMessage        Type = 0x02
	TypeLeave          Type = 0x03
	TypeNoiseHandshake Type = 0x10
	TypeNoiseEncrypted Type = 0x11
	TypeFragment       Type = 0x20
	TypeRequestSync    Type = 0x21
	TypeFileTransfer   Type = 0x22
)

// Flag bits (spec.md §4.A).
const (
	FlagHasRecipient uint8 = 0x01
	FlagHasSignature uint8 = 0x02
	FlagIsCompressed uint8 = 0x04
	FlagHasRoute     uint8 = 0x08
	FlagIsRSR        uint8 = 0x10
)

// MaxPayloadLen is the §4.A size bound: payload_len must be in [0, 10 MiB].
const MaxPayloadLen = 10 * 1024 * 1024

// MaxRouteHops is the practical cap on route list length (spec.md §3, §4.D).
const MaxRouteHops = 10

const (
	headerLenV1 = 14
	headerLenV2 = 16
	signatureLen = 64
	hopLen       = 8
	idLen        = 8
)

// ErrDecodeFailed is returned for any malformed frame. Per spec.md §7, all
// decode/validate errors are recoverable: the caller drops the frame.
var ErrDecodeFailed = errors.New("wire: decode failed")

// Packet is the unit of mesh transmission (spec.md §3).
type Packet struct {
	Version     uint8
	Type        Type
	TTL         uint8
	Timestamp   uint64 // milliseconds since epoch
	SenderID    [8]byte
	RecipientID *[8]byte // nil => broadcast
	Route       [][8]byte
	Payload     []byte
	Signature   *[64]byte
	IsRSR       bool
}

// flags computes the flag byte implied by the packet's populated fields.
func (p *Packet) flags() uint8 {
	var f uint8
	if p.RecipientID != nil {
		f |= FlagHasRecipient
	}
	if p.Signature != nil {
		f |= FlagHasSignature
	}
	if len(p.Route) > 0 && p.Version >= 2 {
		f |= FlagHasRoute
	}
	if p.IsRSR {
		f |= FlagIsRSR
	}
	return f
}

// Validate checks the structural invariants from spec.md §3.
func (p *Packet) Validate() error {
	if p.Version != 1 && p.Version != 2 {
		return errors.New("wire: unsupported version")
	}
	if len(p.Route) > 0 && p.Version < 2 {
		return errors.New("wire: route requires version >= 2")
	}
	if len(p.Route) > 255 {
		return errors.New("wire: route exceeds 255 hops")
	}
	if len(p.Payload) > MaxPayloadLen {
		return errors.New("wire: payload exceeds size bound")
	}
	return nil
}

// Encode serializes p. When pad is true the frame is padded to the next
// block boundary per spec.md §4.A; when the frame is already too large to
// pad it is returned unpadded, exactly as §4.A specifies.
func Encode(p *Packet, pad bool) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	body, compressed, err := encodeBody(p)
	if err != nil {
		return nil, err
	}

	flags := p.flags()
	if compressed {
		flags |= FlagIsCompressed
	}

	frame, err := assembleFrame(p, flags, body)
	if err != nil {
		return nil, err
	}

	if !pad {
		return frame, nil
	}
	return applyPadding(frame), nil
}

// assembleFrame writes header + sender + recipient + route + body + signature.
func assembleFrame(p *Packet, flags uint8, body []byte) ([]byte, error) {
	headerLen := headerLenV1
	if p.Version >= 2 {
		headerLen = headerLenV2
	}

	total := headerLen + idLen
	if p.RecipientID != nil {
		total += idLen
	}
	if flags&FlagHasRoute != 0 {
		total += 1 + len(p.Route)*hopLen
	}
	total += len(body)
	if p.Signature != nil {
		total += signatureLen
	}

	out := make([]byte, total)
	off := 0

	out[off] = p.Version
	out[off+1] = uint8(p.Type)
	out[off+2] = p.TTL
	binary.BigEndian.PutUint64(out[off+3:off+11], p.Timestamp)
	out[off+11] = flags
	if p.Version >= 2 {
		if len(body) > 0xFFFFFFFF {
			return nil, errors.New("wire: payload too large for v2 length field")
		}
		binary.BigEndian.PutUint32(out[off+12:off+16], uint32(len(body)))
		off += headerLenV2
	} else {
		if len(body) > 0xFFFF {
			return nil, errors.New("wire: payload too large for v1 length field")
		}
		binary.BigEndian.PutUint16(out[off+12:off+14], uint16(len(body)))
		off += headerLenV1
	}

	copy(out[off:off+idLen], p.SenderID[:])
	off += idLen

	if p.RecipientID != nil {
		copy(out[off:off+idLen], p.RecipientID[:])
		off += idLen
	}

	if flags&FlagHasRoute != 0 {
		out[off] = uint8(len(p.Route))
		off++
		for _, hop := range p.Route {
			copy(out[off:off+hopLen], hop[:])
			off += hopLen
		}
	}

	copy(out[off:off+len(body)], body)
	off += len(body)

	if p.Signature != nil {
		copy(out[off:off+signatureLen], p.Signature[:])
		off += signatureLen
	}

	return out, nil
}

// Decode parses raw into a Packet. It first attempts the frame as-is; only
// if that fails does it strip PKCS#7 padding and retry, and only when
// stripping actually changed the bytes (spec.md §4.A). Any failure is
// reported as ErrDecodeFailed — the caller's response is always to drop
// the frame, never to propagate a detailed parse error onto the wire.
func Decode(raw []byte) (*Packet, error) {
	if p, err := decodeCore(raw); err == nil {
		return p, nil
	}

	stripped := stripPKCS7(raw)
	if len(stripped) == len(raw) {
		return nil, ErrDecodeFailed
	}

	if p, err := decodeCore(stripped); err == nil {
		return p, nil
	}
	return nil, ErrDecodeFailed
}

// decodeCore parses raw with no padding tolerance: every byte of raw must
// be consumed exactly, which is what lets Decode detect a padded frame by
// the initial attempt failing.
func decodeCore(raw []byte) (*Packet, error) {
	if len(raw) < 1 {
		return nil, ErrDecodeFailed
	}

	version := raw[0]
	var headerLen int
	switch version {
	case 1:
		headerLen = headerLenV1
	case 2:
		headerLen = headerLenV2
	default:
		return nil, ErrDecodeFailed
	}
	if len(raw) < headerLen {
		return nil, ErrDecodeFailed
	}

	p := &Packet{Version: version, Type: Type(raw[1]), TTL: raw[2]}
	p.Timestamp = binary.BigEndian.Uint64(raw[3:11])
	flags := raw[11]
	p.IsRSR = flags&FlagIsRSR != 0

	var payloadLen int
	off := 0
	if version >= 2 {
		payloadLen = int(binary.BigEndian.Uint32(raw[12:16]))
		off = headerLenV2
	} else {
		payloadLen = int(binary.BigEndian.Uint16(raw[12:14]))
		off = headerLenV1
	}
	if payloadLen < 0 || payloadLen > MaxPayloadLen {
		return nil, ErrDecodeFailed
	}

	if len(raw) < off+idLen {
		return nil, ErrDecodeFailed
	}
	copy(p.SenderID[:], raw[off:off+idLen])
	off += idLen

	if flags&FlagHasRecipient != 0 {
		if len(raw) < off+idLen {
			return nil, ErrDecodeFailed
		}
		var rid [8]byte
		copy(rid[:], raw[off:off+idLen])
		p.RecipientID = &rid
		off += idLen
	}

	if flags&FlagHasRoute != 0 {
		if version < 2 {
			return nil, ErrDecodeFailed
		}
		if len(raw) < off+1 {
			return nil, ErrDecodeFailed
		}
		n := int(raw[off])
		off++
		if len(raw) < off+n*hopLen {
			return nil, ErrDecodeFailed
		}
		route := make([][8]byte, n)
		for i := 0; i < n; i++ {
			copy(route[i][:], raw[off:off+hopLen])
			off += hopLen
		}
		p.Route = route
	}

	if len(raw) < off+payloadLen {
		return nil, ErrDecodeFailed
	}
	body := raw[off : off+payloadLen]
	off += payloadLen

	payload, err := decodeBody(body, flags&FlagIsCompressed != 0, version)
	if err != nil {
		return nil, ErrDecodeFailed
	}
	p.Payload = payload

	if flags&FlagHasSignature != 0 {
		if len(raw) < off+signatureLen {
			return nil, ErrDecodeFailed
		}
		var sig [64]byte
		copy(sig[:], raw[off:off+signatureLen])
		p.Signature = &sig
		off += signatureLen
	}

	if off != len(raw) {
		// Trailing bytes: either a padded frame (handled by Decode's
		// retry) or genuine corruption either way.
		return nil, ErrDecodeFailed
	}

	if err := p.Validate(); err != nil {
		return nil, ErrDecodeFailed
	}

	return p, nil
}
