// Package timesync implements the four time-synchronization policies a
// simulation selects between: Unsynchronized, Loose/quantum-grant,
// Strict/tick, and Distributed quantum (§4.4).
package timesync

import "context"

// SimulationTask is the user function a policy invokes once per
// tick/quantum/grant. It must not block on another participant's
// response — doing so can deadlock Strict.
type SimulationTask func(ctx context.Context, windowStartNs, windowEndNs int64) error

// Policy is the shared contract every time-sync policy implements; it
// consists of Name alone.
type Policy interface {
	// Name identifies the policy for logging/metrics.
	Name() string
}
