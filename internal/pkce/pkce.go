// Package pkce implements the Proof Key for Code Exchange primitives used by the auth flow.
//
// Verifiers are random bytes encoded with unpadded base64url; challenges are the
// unpadded base64url SHA-256 digest of the verifier (the "S256" method).
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

const (
	// VerifierBytes is the number of random bytes drawn for a verifier.
	VerifierBytes = 128
	// MinVerifierLength and MaxVerifierLength bound a verifier per RFC 7636 §4.1.
	MinVerifierLength = 43
	MaxVerifierLength = 128
	// Method is the only challenge method this package produces.
	Method = "S256"
)

// ErrInvalidLength is returned when a non-positive byte length is requested.
var ErrInvalidLength = errors.New("pkce: byte length must be positive")

// RandomString reads byteLength bytes from r and returns them base64url-encoded without padding.
//
// A nil reader falls back to [rand.Reader].
func RandomString(r io.Reader, byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", ErrInvalidLength
	}
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, byteLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("pkce: read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SHA256URLSafe hashes the UTF-8 bytes of input and returns the digest base64url-encoded without padding.
func SHA256URLSafe(input string) string {
	return oauth2.S256ChallengeFromVerifier(input)
}

// NewVerifier returns a code verifier built from [VerifierBytes] random bytes.
//
// The encoding of 128 bytes is 171 characters, so the result is cut to [MaxVerifierLength];
// every character is still drawn from the random input.
func NewVerifier(r io.Reader) (string, error) {
	s, err := RandomString(r, VerifierBytes)
	if err != nil {
		return "", err
	}
	if len(s) > MaxVerifierLength {
		s = s[:MaxVerifierLength]
	}
	return s, nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	return SHA256URLSafe(verifier)
}
