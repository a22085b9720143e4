package bus

import (
	"context"
	"sync"
	"time"
)

// LoggingMiddleware logs message traffic through a dispatcher using the
// engine-wide Logger protocol rather than the standard log package, so
// reactor traffic lands in the same sink as everything else a participant
// emits.
type LoggingMiddleware struct {
	logger Logger
}

// Logger is the minimal structured-logging protocol LoggingMiddleware
// depends on. engine/model.Logger satisfies it; bus stays independent of
// the engine package to avoid an import cycle (engine/routing imports
// bus, not the reverse).
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NewLoggingMiddleware creates a LoggingMiddleware that writes through logger.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("dispatch", "category", message.Category(), "type", MessageType(message))
	return message, nil
}

// After logs message completion or failure.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := MessageType(message)
	if err != nil {
		m.logger.Warn("dispatch failed", "type", msgType, "error", err.Error())
	} else {
		m.logger.Debug("dispatch completed", "type", msgType)
	}
	return result, nil
}

// circuitState is the per-message-type circuit breaker state.
type circuitState struct {
	failures    int
	lastFailure time.Time
	state       string // "closed", "open", "half-open"
}

// CircuitBreakerMiddleware protects a dispatcher's handlers against
// cascading failure: it opens the circuit for a message type after
// failureThreshold consecutive failures, blocks dispatch while open, and
// probes with a single half-open attempt after resetTimeout.
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*circuitState
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a CircuitBreakerMiddleware. A
// failureThreshold of 0 disables tripping entirely (the breaker only
// tallies failures but never opens).
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{}, len(excludedTypes))
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}
	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*circuitState),
	}
}

func (m *CircuitBreakerMiddleware) stateFor(msgType string) *circuitState {
	s, exists := m.states[msgType]
	if !exists {
		s = &circuitState{state: "closed"}
		m.states[msgType] = s
	}
	return s
}

// Before blocks dispatch (by returning a nil message) while the circuit
// for message's type is open and the reset timeout has not yet elapsed.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := MessageType(message)
	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateFor(msgType)
	now := time.Now()

	if state.state == "open" {
		if now.Sub(state.lastFailure) >= m.resetTimeout {
			state.state = "half-open"
		} else {
			return nil, nil
		}
	}
	return message, nil
}

// After records the outcome and transitions the circuit state.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := MessageType(message)
	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateFor(msgType)
	if err != nil {
		state.failures++
		state.lastFailure = time.Now()
		if state.state == "half-open" {
			state.state = "open"
		} else if m.failureThreshold > 0 && state.failures >= m.failureThreshold {
			state.state = "open"
		}
	} else {
		state.state = "closed"
		state.failures = 0
	}
	return result, nil
}

// States returns a snapshot of each message type's current circuit state.
func (m *CircuitBreakerMiddleware) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.states))
	for k, v := range m.states {
		out[k] = v.state
	}
	return out
}

// Reset clears circuit state for msgType, or for every message type when
// msgType is empty.
func (m *CircuitBreakerMiddleware) Reset(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msgType == "" {
		m.states = make(map[string]*circuitState)
		return
	}
	delete(m.states, msgType)
}
