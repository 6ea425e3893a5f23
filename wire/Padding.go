package wire

// paddingBlocks are the candidate frame sizes padding rounds up to
// (spec.md §4.A). cipherTagReservation accounts for the 16-byte AEAD tag
// that transport encryption will later append, so the padded frame still
// fits its block after that tag is added.
var paddingBlocks = []int{256, 512, 1024, 2048}

const cipherTagReservation = 16

// applyPadding rounds frame up to the next padding block using PKCS#7-style
// padding, or returns it unpadded if no block can accommodate it.
//
// PKCS#7 padding stores the pad length in the pad byte itself, which bounds
// a single application of this scheme to at most 255 bytes of padding. When
// the gap to a candidate block exceeds that, the frame is left as-is rather
// than emitting padding whose length byte couldn't round-trip — this is a
// deliberate, narrower reading of the "PKCS#7-style" wording than a literal
// jump to the nearest listed block regardless of gap size.
func applyPadding(frame []byte) []byte {
	if len(frame) > 2048 {
		return frame
	}

	effective := len(frame) + cipherTagReservation

	for _, block := range paddingBlocks {
		if block < effective {
			continue
		}
		padLen := block - len(frame)
		if padLen < 1 || padLen > 255 {
			continue
		}
		return pkcs7Pad(frame, padLen)
	}

	return frame
}

func pkcs7Pad(frame []byte, padLen int) []byte {
	out := make([]byte, len(frame)+padLen)
	copy(out, frame)
	for i := len(frame); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// stripPKCS7 removes trailing PKCS#7 padding if the trailer is
// self-consistent (last byte N, N in [1,255], last N bytes all equal N).
// Invalid padding is left untouched — spec.md §4.A requires this so
// non-padded senders remain forward-compatible: returning the input
// unchanged signals to Decode that stripping made no difference.
func stripPKCS7(frame []byte) []byte {
	if len(frame) == 0 {
		return frame
	}

	padLen := int(frame[len(frame)-1])
	if padLen < 1 || padLen > 255 || padLen > len(frame) {
		return frame
	}

	for i := len(frame) - padLen; i < len(frame); i++ {
		if frame[i] != byte(padLen) {
			return frame
		}
	}

	return frame[:len(frame)-padLen]
}
