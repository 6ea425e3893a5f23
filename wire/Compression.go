package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
)

// compressionThreshold is the payload size, in bytes, that a payload must
// exceed before deflate is even attempted (spec.md §4.A).
const compressionThreshold = 256

// maxDecompressionRatio guards against a decompression bomb: a compressed
// blob that claims to expand to more than this multiple of its own size is
// rejected outright rather than decompressed.
const maxDecompressionRatio = 50000

// encodeBody produces the "payload section" of the frame: either the raw
// payload, or — when compression helps — a length-prefixed deflated blob.
// The length prefix is 2 bytes for v1, 4 bytes for v2, matching payload_len's
// own width, and holds the original uncompressed size.
func encodeBody(p *Packet) (body []byte, compressed bool, err error) {
	if len(p.Payload) <= compressionThreshold {
		return p.Payload, false, nil
	}

	deflated, err := deflate(p.Payload)
	if err != nil {
		return p.Payload, false, nil
	}
	if len(deflated) >= len(p.Payload) {
		return p.Payload, false, nil
	}

	lenFieldSize := 2
	if p.Version >= 2 {
		lenFieldSize = 4
	}

	out := make([]byte, lenFieldSize+len(deflated))
	if lenFieldSize == 4 {
		binary.BigEndian.PutUint32(out[:4], uint32(len(p.Payload)))
	} else {
		if len(p.Payload) > 0xFFFF {
			// Can't express the original size in a v1 2-byte field; skip compression.
			return p.Payload, false, nil
		}
		binary.BigEndian.PutUint16(out[:2], uint16(len(p.Payload)))
	}
	copy(out[lenFieldSize:], deflated)

	return out, true, nil
}

// decodeBody reverses encodeBody.
func decodeBody(body []byte, compressed bool, version uint8) ([]byte, error) {
	if !compressed {
		return append([]byte(nil), body...), nil
	}

	lenFieldSize := 2
	if version >= 2 {
		lenFieldSize = 4
	}
	if len(body) < lenFieldSize {
		return nil, errors.New("wire: truncated compression length field")
	}

	var originalSize uint64
	if lenFieldSize == 4 {
		originalSize = uint64(binary.BigEndian.Uint32(body[:4]))
	} else {
		originalSize = uint64(binary.BigEndian.Uint16(body[:2]))
	}

	compressedPayload := body[lenFieldSize:]
	if len(compressedPayload) > 0 {
		ratio := originalSize / uint64(len(compressedPayload))
		if ratio > maxDecompressionRatio {
			return nil, errors.New("wire: decompression ratio exceeds bomb threshold")
		}
	}

	return inflate(compressedPayload, originalSize)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte, expectedSize uint64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Cap the read one byte past expectedSize so a lying length field can't
	// be used to force an unbounded read even when the ratio check passes.
	limited := io.LimitReader(r, int64(expectedSize)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) > expectedSize {
		return nil, errors.New("wire: decompressed size exceeds declared original size")
	}
	return out, nil
}
