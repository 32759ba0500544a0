// Package ids generates ULID identifiers for request correlation and mock backend records.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string (26 chars) stamped with now.
// IDs generated within the same millisecond stay strictly increasing.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRequestID returns a ULID for X-Request-ID. It falls back to ulid.Make when the
// monotonic source overflows within one millisecond.
func NewRequestID() string {
	id, err := NewULID(time.Now().UTC())
	if err != nil {
		return ulid.Make().String()
	}
	return id
}
