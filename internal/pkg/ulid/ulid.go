// Package ulid mints correlation ids for pipeline operations the platform
// did not supply one for. ULIDs sort by creation time, which keeps log
// searches over an operation's lifetime cheap.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New returns a fresh ULID string.
func New() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
