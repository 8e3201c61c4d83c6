package cwdtp

import (
	"crypto/rand"
	"crypto/sha1" // #nosec G505 -- wire-mandated by the handshake, not a pluggable choice
	"encoding/base64"
)

// MagicString is the shared salt both roles fold into the res_key derivation
// (§4.D, §9). It is a compile-time constant, not a per-deployment secret: the
// handshake's security property is liveness confirmation, not authentication.
const MagicString = "cwdtp-colonialwars-2024"

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// newReqKey generates the client's opaque per-handshake nonce.
func newReqKey() (string, error) {
	b, err := randomBytes(16)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// deriveResKey computes the server's response key for a given req_key,
// per §4.D: base64(sha1(req_key + MagicString)).
func deriveResKey(reqKey string) string {
	sum := sha1.Sum([]byte(reqKey + MagicString))
	return base64.StdEncoding.EncodeToString(sum[:])
}
