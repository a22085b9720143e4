package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallHandle tracks one outstanding RPC call's completion, mirroring the
// wire-level CallStatus states a bus RPC server/client pair round-trips
// (engine/routing's RPC service). It is the correlation-table entry a
// client-side RpcClient controller keeps per in-flight call.
type CallHandle struct {
	CorrelationID string

	mu       sync.Mutex
	done     bool
	response any
	err      error
	waiters  chan struct{}
}

// NewCallHandle creates a handle with a fresh correlation id, prefixed
// per the envelope/interrupt id convention used elsewhere in this codebase.
func NewCallHandle() *CallHandle {
	return &CallHandle{
		CorrelationID: "call_" + uuid.New().String()[:16],
		waiters:       make(chan struct{}),
	}
}

// Complete resolves the handle with response/err. Only the first call
// has an effect; later calls are ignored, matching the "a call completes
// exactly once" invariant.
func (h *CallHandle) Complete(response any, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.response = response
	h.err = err
	close(h.waiters)
}

// Wait blocks until the call completes, ctx is cancelled, or timeout
// elapses, whichever comes first.
func (h *CallHandle) Wait(ctx context.Context, timeout time.Duration) (any, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-h.waiters:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.response, h.err
	case <-timeoutCtx.Done():
		return nil, NewQueryTimeoutError(h.CorrelationID, timeout.Seconds())
	}
}

// CallTable is the correlation table a client-side RPC controller keeps
// between issuing a call and receiving its matching response frame:
// allocate a handle on Call, look it up by correlation id when the
// response frame arrives, and Complete it to unblock the waiting caller.
type CallTable struct {
	mu      sync.Mutex
	pending map[string]*CallHandle
}

// NewCallTable creates an empty correlation table.
func NewCallTable() *CallTable {
	return &CallTable{pending: make(map[string]*CallHandle)}
}

// New allocates and registers a handle for a new outstanding call.
func (t *CallTable) New() *CallHandle {
	h := NewCallHandle()
	t.mu.Lock()
	t.pending[h.CorrelationID] = h
	t.mu.Unlock()
	return h
}

// Resolve completes and removes the handle for correlationID, if still
// pending. It reports whether a pending call was found — an unmatched
// correlation id (late or duplicate response) is not an error to the
// caller, only a no-op.
func (t *CallTable) Resolve(correlationID string, response any, err error) bool {
	t.mu.Lock()
	h, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	h.Complete(response, err)
	return true
}

// Forget removes a handle without completing it, used when Wait times
// out and the caller gives up on a call that might still resolve later.
func (t *CallTable) Forget(correlationID string) {
	t.mu.Lock()
	delete(t.pending, correlationID)
	t.mu.Unlock()
}

// Pending returns the number of outstanding calls.
func (t *CallTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
