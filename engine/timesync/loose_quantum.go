package timesync

import "sync"

// LooseQuantumMaster grants a quantum window [now, now+period] once
// every synchronized participant has an outstanding request, then resets
// for the next round (§4.4 — Loose/quantum-grant).
type LooseQuantumMaster struct {
	mu        sync.Mutex
	periodNs  int64
	required  map[string]struct{}
	simTimeNs int64
	pending   map[string]struct{}
}

// NewLooseQuantumMaster creates a master with the given quantum period
// and required participant set.
func NewLooseQuantumMaster(periodNs int64, required []string) *LooseQuantumMaster {
	req := make(map[string]struct{}, len(required))
	for _, p := range required {
		req[p] = struct{}{}
	}
	return &LooseQuantumMaster{
		periodNs: periodNs,
		required: req,
		pending:  make(map[string]struct{}),
	}
}

func (*LooseQuantumMaster) Name() string { return "LooseQuantumGrant" }

// RequestQuantum records participant's quantum request. Once every
// required participant has an outstanding request, it grants the window
// [now, now+period] to all of them, advances the simulated clock, and
// clears the pending set for the next round.
func (m *LooseQuantumMaster) RequestQuantum(participant string) (granted bool, windowStartNs, windowEndNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.required[participant]; !ok {
		return false, 0, 0
	}
	m.pending[participant] = struct{}{}
	if len(m.pending) < len(m.required) {
		return false, 0, 0
	}

	windowStartNs = m.simTimeNs
	windowEndNs = m.simTimeNs + m.periodNs
	m.simTimeNs = windowEndNs
	m.pending = make(map[string]struct{})
	return true, windowStartNs, windowEndNs
}

// PendingCount returns how many required participants have an
// outstanding request in the current round.
func (m *LooseQuantumMaster) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
