package cwdtp

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newConnectionID assigns the server-side Connection.id (§3). ULIDs sort by
// creation time, which makes audit-trail and log correlation easier than the
// opaque random hex blob the wire format also permits.
func newConnectionID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
