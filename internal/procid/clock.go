package procid

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// Time is the owning node's monotonic registration timestamp, at
// nanosecond granularity. It is used solely as a tiebreaker for updates to
// the same (name, pid) and as a freshness counter stamped fresh by a
// conflict resolver that elects the local pid.
type Time int64

// Clock mints per-node monotonic timestamps. A single Clock is shared by
// every state machine local to a node — registry and groups actors for
// every scope, each running on their own goroutine — so Now must be
// safe for concurrent callers.
type Clock struct {
	mu   sync.Mutex
	last int64
}

// Now returns a Time guaranteed to be greater than any Time previously
// returned by this Clock, even if wall-clock time does not advance
// between calls (two registrations racing in the same nanosecond).
func (c *Clock) Now() Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return Time(n)
}

// Token mints a sortable, globally-unique debugging token: a compact,
// lexicographically-sortable identifier that doesn't require parsing a
// raw nanosecond integer. It is never used as the tiebreaker — Time is —
// and neither the audit trail nor the event feed attaches one to its
// records.
func Token() string {
	return xid.New().String()
}
