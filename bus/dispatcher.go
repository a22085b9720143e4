package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type subscriberEntry struct {
	id      string
	handler HandlerFunc
}

// LocalDispatcher is the per-participant reactor's message table: fan-out
// for events, single-handler for commands, and request/response with
// timeout for queries. It never invokes a handler while holding its
// internal lock (§9 — callback re-entrancy), so a handler calling back
// into Subscribe/RegisterHandler/Publish cannot deadlock.
//
// A Participant's reactor owns exactly one LocalDispatcher and drains its
// dispatch queue on a single goroutine (engine/reactor), giving the
// "handlers observe a sequential execution model" guarantee from §5.
type LocalDispatcher struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscriberEntry
	middleware   []Middleware
	queryTimeout time.Duration
	nextSubID    uint64
}

// NewLocalDispatcher creates a dispatcher with the given query timeout.
func NewLocalDispatcher(queryTimeout time.Duration) *LocalDispatcher {
	return &LocalDispatcher{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscriberEntry),
		queryTimeout: queryTimeout,
	}
}

// Publish delivers an event to every subscriber in registration order, one
// at a time on the caller's goroutine — the per-participant reactor this
// dispatcher serves already serializes every dispatch onto one goroutine
// (§5), so fanning subscribers for the same event out onto separate
// goroutines here would let them race each other and observe reactor
// state out of order, contradicting the very guarantee this package's
// doc comment makes. Individual handler errors are collected but not
// propagated (an event has no single owner to report failure to); the
// first one is still threaded through After middleware.
func (d *LocalDispatcher) Publish(ctx context.Context, event Message) error {
	eventType := MessageType(event)

	processed, err := d.runBefore(ctx, event)
	if err != nil {
		return err
	}
	if processed == nil {
		return nil
	}

	d.mu.RLock()
	entries := append([]subscriberEntry(nil), d.subscribers[eventType]...)
	d.mu.RUnlock()

	var first error
	for _, entry := range entries {
		if _, err := entry.handler(ctx, processed); err != nil && first == nil {
			first = err
		}
	}

	_, _ = d.runAfter(ctx, event, nil, first)
	return nil
}

// Send delivers a fire-and-forget command to its single registered
// handler. No handler registered is not an error — commands may be
// advisory.
func (d *LocalDispatcher) Send(ctx context.Context, command Message) error {
	messageType := MessageType(command)

	processed, err := d.runBefore(ctx, command)
	if err != nil {
		return err
	}
	if processed == nil {
		return nil
	}

	d.mu.RLock()
	handler, exists := d.handlers[messageType]
	d.mu.RUnlock()
	if !exists {
		return nil
	}

	_, handlerErr := handler(ctx, processed)
	_, _ = d.runAfter(ctx, command, nil, handlerErr)
	return handlerErr
}

// QuerySync sends a query and blocks for its handler's response, bounded
// by the dispatcher's query timeout.
func (d *LocalDispatcher) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := MessageType(query)

	processed, err := d.runBefore(ctx, query)
	if err != nil {
		return nil, err
	}
	if processed == nil {
		return nil, NewNoHandlerError(messageType)
	}

	d.mu.RLock()
	handler, exists := d.handlers[messageType]
	d.mu.RUnlock()
	if !exists {
		return nil, NewNoHandlerError(messageType)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, e := handler(timeoutCtx, processed)
		resultCh <- result{v, e}
	}()

	select {
	case <-timeoutCtx.Done():
		err := NewQueryTimeoutError(messageType, d.queryTimeout.Seconds())
		_, _ = d.runAfter(ctx, query, nil, err)
		return nil, err
	case res := <-resultCh:
		final, mwErr := d.runAfter(ctx, query, res.value, res.err)
		if mwErr != nil {
			return final, mwErr
		}
		return final, res.err
	}
}

// Subscribe registers handler for every Publish of eventType and returns
// an idempotent unsubscribe func.
func (d *LocalDispatcher) Subscribe(eventType string, handler HandlerFunc) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&d.nextSubID, 1))

	d.mu.Lock()
	d.subscribers[eventType] = append(d.subscribers[eventType], subscriberEntry{id: subID, handler: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		entries := d.subscribers[eventType]
		for i, e := range entries {
			if e.id == subID {
				d.subscribers[eventType] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// RegisterHandler registers the single handler for messageType. Only one
// handler per message type is permitted.
func (d *LocalDispatcher) RegisterHandler(messageType string, handler HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[messageType]; exists {
		return NewHandlerAlreadyRegisteredError(messageType)
	}
	d.handlers[messageType] = handler
	return nil
}

// AddMiddleware appends middleware, run in registration order on Before
// and reverse order on After.
func (d *LocalDispatcher) AddMiddleware(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw)
}

// HasHandler reports whether messageType has a registered handler.
func (d *LocalDispatcher) HasHandler(messageType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[messageType]
	return ok
}

func (d *LocalDispatcher) runBefore(ctx context.Context, message Message) (Message, error) {
	d.mu.RLock()
	mws := append([]Middleware(nil), d.middleware...)
	d.mu.RUnlock()

	current := message
	for _, mw := range mws {
		result, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

func (d *LocalDispatcher) runAfter(ctx context.Context, message Message, result any, err error) (any, error) {
	d.mu.RLock()
	mws := append([]Middleware(nil), d.middleware...)
	d.mu.RUnlock()

	current := result
	for i := len(mws) - 1; i >= 0; i-- {
		afterResult, afterErr := mws[i].After(ctx, message, current, err)
		if afterErr != nil {
			err = afterErr
		}
		if afterResult != nil {
			current = afterResult
		}
	}
	return current, err
}
