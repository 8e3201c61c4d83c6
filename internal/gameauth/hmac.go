// Package gameauth is a demo VerifyClient collaborator for cwdtp.Acceptor: it
// verifies an HMAC-SHA256 bearer token on the upgrade request instead of
// implementing any identity subsystem of its own. CWDTP treats peer
// authentication as entirely out of core scope (see cwdtp.AcceptorConfig.
// VerifyClient); this package exists only to give the demo server binary
// something concrete to plug into that hook.
package gameauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"strings"
)

const (
	// HMACEnvKey names the environment variable cmd/cwdtpd reads the signing
	// key from.
	// #nosec G101 -- not a credential, an environment variable name.
	HMACEnvKey = "CWDTP_GAMEAUTH_HMAC_KEY"

	bearerPrefix = "Bearer "
	authHeader   = "X-Cwdtp-Auth"
)

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a
// minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the signing key env var is present (non-empty
// after trim). It does not enforce a minimum length; use HMACKeyFromEnv for
// policy checks.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// IssueToken signs subject with key, producing a "subject.signature" bearer
// token suitable for the X-Cwdtp-Auth upgrade header.
func IssueToken(subject string, key []byte) string {
	return subject + "." + sign(subject, key)
}

// VerifyToken checks a previously issued token against key and returns the
// subject it was issued for.
func VerifyToken(token string, key []byte) (string, error) {
	// The signature is hex and never contains '.', so split at the last dot
	// to keep subjects that contain dots intact.
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return "", ErrMalformedToken
	}
	subject, sig := token[:i], token[i+1:]
	if subject == "" || sig == "" {
		return "", ErrMalformedToken
	}
	want := sign(subject, key)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", ErrInvalidSignature
	}
	return subject, nil
}

func sign(subject string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(subject))
	return hex.EncodeToString(m.Sum(nil))
}

// NewVerifyClient returns a cwdtp.AcceptorConfig.VerifyClient collaborator
// that requires a valid "Bearer subject.signature" X-Cwdtp-Auth header.
func NewVerifyClient(key []byte) func(ctx context.Context, r *http.Request) error {
	return func(_ context.Context, r *http.Request) error {
		raw := strings.TrimSpace(r.Header.Get(authHeader))
		if raw == "" {
			return ErrMissingToken
		}
		if !strings.HasPrefix(raw, bearerPrefix) {
			return ErrMalformedToken
		}
		_, err := VerifyToken(strings.TrimPrefix(raw, bearerPrefix), key)
		return err
	}
}
