package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/observability"
)

// tickRound tracks which required participants still owe a TickDone for
// one outstanding Tick.
type tickRound struct {
	seq       uint64
	pending   map[string]struct{}
	doneCh    chan struct{}
	startedAt time.Time
}

// StrictTickMaster broadcasts Tick(now) every configured period and
// waits for every required participant's TickDone before advancing
// (§4.4 — Strict/tick). A generation-tagged round guards against a
// TickDone arriving late for a tick the master has already closed out.
type StrictTickMaster struct {
	mu        sync.Mutex
	periodNs  int64
	required  []string
	seq       uint64
	simTimeNs int64
	round     *tickRound
}

// NewStrictTickMaster creates a master with the given tick period and
// required participant set. periodNs MUST be nonzero (§4.4, enforced at
// config validation).
func NewStrictTickMaster(periodNs int64, required []string) *StrictTickMaster {
	return &StrictTickMaster{periodNs: periodNs, required: append([]string(nil), required...)}
}

func (*StrictTickMaster) Name() string { return "StrictTick" }

// BeginTick opens a new tick round and returns its sequence number and
// the simulation time to broadcast with it.
func (m *StrictTickMaster) BeginTick() (seq uint64, nowNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	pending := make(map[string]struct{}, len(m.required))
	for _, p := range m.required {
		pending[p] = struct{}{}
	}
	m.round = &tickRound{seq: m.seq, pending: pending, doneCh: make(chan struct{}), startedAt: time.Now()}
	return m.seq, m.simTimeNs
}

// OnTickDone records a TickDone for participant at tickSeq. A TickDone
// whose seq doesn't match the in-flight round — a straggler from a tick
// the master already closed — is silently ignored.
func (m *StrictTickMaster) OnTickDone(participant string, tickSeq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.round == nil || m.round.seq != tickSeq {
		return
	}
	delete(m.round.pending, participant)
	if len(m.round.pending) == 0 {
		observability.RecordTickLatency(m.Name(), time.Since(m.round.startedAt).Seconds())
		close(m.round.doneCh)
		m.simTimeNs += m.periodNs
	}
}

// AwaitTickDone blocks until the round opened by the most recent
// BeginTick has every required TickDone, or ctx is cancelled — e.g. by a
// Shutdown command aborting the wait (§4.4 — Cancellation).
func (m *StrictTickMaster) AwaitTickDone(ctx context.Context) error {
	m.mu.Lock()
	round := m.round
	m.mu.Unlock()
	if round == nil {
		return model.NewStateError("AwaitTickDone called before BeginTick")
	}

	select {
	case <-round.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the participants still owed for the in-flight round,
// used for diagnostics and tests.
func (m *StrictTickMaster) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round == nil {
		return nil
	}
	out := make([]string, 0, len(m.round.pending))
	for p := range m.round.pending {
		out = append(out, p)
	}
	return out
}
