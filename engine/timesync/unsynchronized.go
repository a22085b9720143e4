package timesync

import "time"

// Unsynchronized is the degenerate policy: there is no virtual clock and
// no simulation task. Messages carry wall-time timestamps (§4.4).
type Unsynchronized struct{}

// NewUnsynchronized creates the Unsynchronized policy.
func NewUnsynchronized() *Unsynchronized { return &Unsynchronized{} }

func (*Unsynchronized) Name() string { return "Unsynchronized" }

// Now returns the current wall-clock time in nanoseconds, the timestamp
// every message stamps itself with under this policy.
func (*Unsynchronized) Now() int64 {
	return time.Now().UnixNano()
}
