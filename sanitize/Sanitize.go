/*
Package sanitize applies the local input policies from spec.md §7: nickname
cleanup and the 2000-character message content bound, enforced before a
message is ever framed onto the wire.
*/
package sanitize

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxNicknameLength bounds a sanitized nickname.
const MaxNicknameLength = 36

// MaxContentLength is the policy limit from spec.md §7: "message > 2000
// characters: rejected locally before framing."
const MaxContentLength = 2000

// ErrContentTooLong is returned by Content when the message exceeds
// MaxContentLength runes.
var ErrContentTooLong = errors.New("sanitize: message content exceeds maximum length")

// Nickname sanitizes a user-supplied display name: invalid UTF-8 is
// rejected, newlines are flattened, and the result is bounded in length.
func Nickname(input string) string {
	if !utf8.ValidString(input) {
		return "<invalid encoding>"
	}

	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\n", " ")
	input = strings.ReplaceAll(input, "\r", "")

	if utf8.RuneCountInString(input) > MaxNicknameLength {
		runes := []rune(input)
		input = string(runes[:MaxNicknameLength])
	}

	return input
}

// Content validates message content against the §7 policy bound. It does
// not mutate the content — oversized content is a rejection, not a
// truncation, since silently truncating a user's message would be a worse
// surprise than failing the send locally.
func Content(input string) error {
	if !utf8.ValidString(input) {
		return errors.New("sanitize: invalid UTF-8 in message content")
	}
	if utf8.RuneCountInString(input) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
