// Package testutil provides shared test doubles and a small in-process
// multi-participant harness for integration-style tests that span
// routing, lifecycle, and timesync without a real transport.Mesh.
//
// All doubles here are designed for testing engine components in
// isolation from the network: a real deployment always goes through
// engine/transport, but the routing/lifecycle/timesync semantics this
// package exercises are transport-agnostic by design (§5).
package testutil

import (
	"sync"

	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/routing"
)

// =============================================================================
// MOCK LOGGER
// =============================================================================

// NoopLogger implements model.Logger and discards everything. Use it
// wherever a test needs a Logger but does not assert on log output.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// RecordingLogger captures every call for assertion, matching the
// teacher's MockLogger shape.
type RecordingLogger struct {
	mu   sync.Mutex
	logs []LogEntry
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) Debug(msg string, kv ...any) { l.log("debug", msg, kv...) }
func (l *RecordingLogger) Info(msg string, kv ...any)  { l.log("info", msg, kv...) }
func (l *RecordingLogger) Warn(msg string, kv ...any)  { l.log("warn", msg, kv...) }
func (l *RecordingLogger) Error(msg string, kv ...any) { l.log("error", msg, kv...) }

func (l *RecordingLogger) log(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, LogEntry{Level: level, Message: msg, Fields: append([]any(nil), kv...)})
}

// Entries returns a copy of every captured log call.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.logs))
	copy(out, l.logs)
	return out
}

// HasLevel reports whether any entry was logged at level.
func (l *RecordingLogger) HasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.logs {
		if e.Level == level {
			return true
		}
	}
	return false
}

var _ model.Logger = (*RecordingLogger)(nil)

// =============================================================================
// RECORDING ROUTING SENDER
// =============================================================================

// RecordingSender implements routing.Sender, capturing every Delivery
// per recipient endpoint in arrival order. It is the exported
// counterpart of the recordingSender in engine/routing's core_test.go.
type RecordingSender struct {
	mu        sync.Mutex
	delivered map[string][]routing.Delivery
}

// NewRecordingSender creates an empty RecordingSender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{delivered: make(map[string][]routing.Delivery)}
}

// SendTo implements routing.Sender.
func (s *RecordingSender) SendTo(endpoint string, d routing.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[endpoint] = append(s.delivered[endpoint], d)
	return nil
}

// For returns a copy of every delivery recorded for endpoint, in order.
func (s *RecordingSender) For(endpoint string) []routing.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]routing.Delivery, len(s.delivered[endpoint]))
	copy(out, s.delivered[endpoint])
	return out
}

// Reset clears every recorded delivery.
func (s *RecordingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = make(map[string][]routing.Delivery)
}

var _ routing.Sender = (*RecordingSender)(nil)

// =============================================================================
// MANUAL CLOCK
// =============================================================================

// ManualClock is a test double for the virtual simulation clock driven
// by timesync policies: tests advance it explicitly instead of sleeping
// on wall-clock time, matching the teacher's synchronous-fake-time test
// style (e.g. coreengine/kernel's rate limiter tests).
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock creates a clock starting at nowNs.
func NewManualClock(nowNs int64) *ManualClock {
	return &ManualClock{now: nowNs}
}

// Now returns the current simulated nanosecond timestamp.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by deltaNs and returns the new time.
func (c *ManualClock) Advance(deltaNs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += deltaNs
	return c.now
}

// =============================================================================
// TWO-PARTICIPANT DOMAIN HARNESS
// =============================================================================

// Domain is a minimal in-process stand-in for a connected mesh: every
// participant's controllers share one routing.Core, the way the wire
// protocol would make a distributed mesh behave if every hop were free
// (§4.2 routing semantics are transport-agnostic). Use it to exercise
// cross-participant scenarios (S1, S4, S5) without engine/transport.
type Domain struct {
	Core   *routing.Core
	Sender *RecordingSender
	Logger model.Logger
}

// NewDomain creates a Domain with a fresh RecordingSender and NoopLogger.
func NewDomain() *Domain {
	sender := NewRecordingSender()
	logger := NoopLogger{}
	return &Domain{
		Core:   routing.NewCore(sender, logger),
		Sender: sender,
		Logger: logger,
	}
}

// DeliveriesFor is a convenience wrapper over the Domain's sender.
func (d *Domain) DeliveriesFor(endpoint string) []routing.Delivery {
	return d.Sender.For(endpoint)
}
