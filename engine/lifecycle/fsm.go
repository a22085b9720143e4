// Package lifecycle implements the participant state machine, the
// join-semilattice SystemState aggregation, and the coordinator that
// drives a required set of participants through Init/Run/Stop/Shutdown
// and cold-swap, delivering user callbacks on the dispatching goroutine.
package lifecycle

import (
	"github.com/ibsim/ibus/engine/model"
)

// validTransitions enumerates every legal participant state transition;
// anything absent is rejected by Machine.Transition.
var validTransitions = map[model.LifecycleState]map[model.LifecycleState]bool{
	model.StateInvalid: {
		model.StateIdle: true,
	},
	model.StateIdle: {
		model.StateInitializing: true,
	},
	model.StateInitializing: {
		model.StateInitialized: true,
	},
	model.StateInitialized: {
		model.StateRunning: true,
	},
	model.StateRunning: {
		model.StatePaused:         true,
		model.StateStopping:       true,
		model.StateColdswapPrepare: true,
		model.StateColdswapIgnored: true,
	},
	model.StatePaused: {
		model.StateRunning:         true,
		model.StateStopping:        true,
		model.StateColdswapPrepare: true,
		model.StateColdswapIgnored: true,
	},
	model.StateStopping: {
		model.StateStopped: true,
	},
	model.StateStopped: {
		model.StateShuttingDown:   true,
		model.StateColdswapPrepare: true,
		model.StateColdswapIgnored: true,
	},
	model.StateShuttingDown: {
		model.StateShutdown: true,
	},
	model.StateColdswapPrepare: {
		model.StateColdswapReady: true,
	},
	model.StateColdswapReady: {
		model.StateColdswapShutdown: true,
	},
	model.StateColdswapShutdown: {
		model.StateIdle: true,
	},
	// ColdswapIgnored records that this participant was not a cold-swap
	// target; it resumes whatever it was doing rather than resetting.
	model.StateColdswapIgnored: {
		model.StateRunning: true,
		model.StatePaused:  true,
	},
}

// anyStateTargets are reachable from every non-terminal state regardless
// of the table above (§4.3: "any → Error", "any → ColdswapPrepare").
var anyStateTargets = map[model.LifecycleState]bool{
	model.StateError:           true,
	model.StateColdswapPrepare: true,
}

var terminal = map[model.LifecycleState]bool{
	model.StateShutdown: true,
}

// IsValidTransition reports whether from → to is legal.
func IsValidTransition(from, to model.LifecycleState) bool {
	if terminal[from] {
		return false
	}
	if anyStateTargets[to] {
		return true
	}
	if targets, ok := validTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// Machine is one participant's lifecycle state holder. It is not
// concurrency-safe on its own; the coordinator serializes all
// transitions through the participant's single dispatch goroutine.
type Machine struct {
	participant string
	state       model.LifecycleState
}

// NewMachine creates a Machine starting in StateInvalid.
func NewMachine(participant string) *Machine {
	return &Machine{participant: participant, state: model.StateInvalid}
}

// State returns the current state.
func (m *Machine) State() model.LifecycleState {
	return m.state
}

// Transition moves the machine to newState, or returns a StateError if
// the transition is not legal from the current state.
func (m *Machine) Transition(newState model.LifecycleState) error {
	if !IsValidTransition(m.state, newState) {
		return model.NewStateError("participant %s: invalid lifecycle transition %s -> %s", m.participant, m.state, newState)
	}
	m.state = newState
	return nil
}

// ForceError unconditionally transitions to StateError, used when a user
// callback panics or returns an error (§4.3 Failure).
func (m *Machine) ForceError() {
	m.state = model.StateError
}
