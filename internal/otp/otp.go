// Package otp implements the time-based one-time password derivation
// (RFC 6238 / HOTP with SHA-1) used to answer the portal's MFA challenge,
// together with the base32 secret decoding that feeds it.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput indicates a shared secret that is not valid base32.
var ErrInvalidInput = errors.New("invalid base32 input")

// Period is the TOTP time step in seconds.
const Period = 30

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// DecodeBase32 decodes a base32-encoded shared secret into raw bytes.
// Input is case-insensitive; whitespace and '=' padding are stripped
// before decoding. Trailing bits that do not fill a complete byte are
// discarded, so secrets whose length is not a multiple of 8 characters
// decode the way authenticator apps expect.
func DecodeBase32(s string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(s), ""))
	cleaned = strings.TrimRight(cleaned, "=")

	out := make([]byte, 0, len(cleaned)*5/8)
	var buf uint32
	var bits uint
	for i := 0; i < len(cleaned); i++ {
		v := strings.IndexByte(base32Alphabet, cleaned[i])
		if v < 0 {
			return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrInvalidInput, cleaned[i], i)
		}
		buf = buf<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>bits))
		}
	}
	return out, nil
}

// GenerateCode derives the 6-digit code for the given raw secret and
// wall-clock time. The derivation is bit-exact RFC 6238: an 8-byte
// big-endian counter of floor(unix/30), HMAC-SHA1, dynamic truncation
// to a 31-bit integer, modulo 10^6, zero-padded.
func GenerateCode(secret []byte, t time.Time) string {
	counter := uint64(t.Unix() / Period)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	digest := mac.Sum(nil)

	offset := digest[len(digest)-1] & 0x0F
	value := binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7FFFFFFF

	return fmt.Sprintf("%06d", value%1_000_000)
}

// CodeFromSecret decodes a base32 secret and derives the code for t.
func CodeFromSecret(base32Secret string, t time.Time) (string, error) {
	secret, err := DecodeBase32(base32Secret)
	if err != nil {
		return "", err
	}
	return GenerateCode(secret, t), nil
}
