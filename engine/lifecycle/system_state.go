package lifecycle

import (
	"sync"

	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/observability"
)

// SystemStateHandler is called whenever the aggregated SystemState
// changes, mirroring RegisterSystemStateHandler from §4.3/§8 (S6).
type SystemStateHandler func(state model.LifecycleState)

// SystemStateAggregator computes the join-semilattice SystemState over a
// required set of participants: the minimum rank across all of them,
// except that any participant in a "special" (forcing) state pins the
// aggregate to that state regardless of rank (§4.3).
type SystemStateAggregator struct {
	mu       sync.Mutex
	required map[string]struct{}
	states   map[string]model.LifecycleState
	current  model.LifecycleState
	handlers []SystemStateHandler
}

// NewSystemStateAggregator creates an aggregator over required, the
// qualified names of every participant the system controller has
// declared mandatory for SystemState computation.
func NewSystemStateAggregator(required []string) *SystemStateAggregator {
	req := make(map[string]struct{}, len(required))
	for _, r := range required {
		req[r] = struct{}{}
	}
	return &SystemStateAggregator{
		required: req,
		states:   make(map[string]model.LifecycleState),
		current:  model.StateInvalid,
	}
}

// OnHandler registers a callback invoked on every SystemState change.
func (a *SystemStateAggregator) OnHandler(h SystemStateHandler) {
	a.mu.Lock()
	a.handlers = append(a.handlers, h)
	a.mu.Unlock()
}

// Observe records a ParticipantStatus update and recomputes SystemState,
// firing registered handlers exactly once per distinct resulting state.
func (a *SystemStateAggregator) Observe(participant string, state model.LifecycleState) {
	a.mu.Lock()
	if _, required := a.required[participant]; !required {
		a.mu.Unlock()
		return
	}
	a.states[participant] = state
	next := a.compute()
	changed := next != a.current
	a.current = next
	handlers := append([]SystemStateHandler(nil), a.handlers...)
	a.mu.Unlock()

	if changed {
		observability.SetSystemStateRank(next.Rank())
		for _, h := range handlers {
			h(next)
		}
	}
}

// compute must be called with a.mu held.
func (a *SystemStateAggregator) compute() model.LifecycleState {
	if len(a.states) < len(a.required) {
		// Not every required participant has reported yet.
		return model.StateInvalid
	}

	// A forcing state among any required participant wins outright.
	// When more than one is forcing, Shutdown dominates Error which
	// dominates the Coldswap* family, reflecting the terminal-most
	// outcome a system controller would want to observe.
	var forcing model.LifecycleState
	sawForcing := false
	for _, s := range a.states {
		if !s.IsSpecial() {
			continue
		}
		sawForcing = true
		if forcingRank(s) > forcingRank(forcing) {
			forcing = s
		}
	}
	if sawForcing {
		allShutdown := true
		for _, s := range a.states {
			if s != model.StateShutdown {
				allShutdown = false
				break
			}
		}
		if allShutdown {
			return model.StateShutdown
		}
		if forcing == model.StateShutdown {
			// Shutdown only dominates once every required participant
			// reaches it; until then the aggregate reflects whichever
			// other forcing state is in play, or the minimum rank.
			forcing = model.StateInvalid
			sawForcing = false
			for _, s := range a.states {
				if s.IsSpecial() && s != model.StateShutdown {
					sawForcing = true
					if forcingRank(s) > forcingRank(forcing) {
						forcing = s
					}
				}
			}
			if !sawForcing {
				return a.minRank()
			}
		}
		return forcing
	}

	return a.minRank()
}

func (a *SystemStateAggregator) minRank() model.LifecycleState {
	min := model.LifecycleState("")
	minRank := -1
	for _, s := range a.states {
		r := s.Rank()
		if minRank == -1 || r < minRank {
			minRank = r
			min = s
		}
	}
	return min
}

func forcingRank(s model.LifecycleState) int {
	switch s {
	case model.StateColdswapPrepare:
		return 1
	case model.StateColdswapReady:
		return 2
	case model.StateColdswapShutdown:
		return 3
	case model.StateError:
		return 4
	case model.StateShutdown:
		return 5
	default:
		return 0
	}
}

// Current returns the last computed SystemState.
func (a *SystemStateAggregator) Current() model.LifecycleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
