package transport

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ibsim/ibus/engine/config"
	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/observability"
)

// interfaceKindName renders an InterfaceIdentifier as a metric label
// without a central registry of names; unknown ids still get a stable
// label rather than colliding into an "unknown" bucket.
func interfaceKindName(id model.InterfaceIdentifier) string {
	return strconv.FormatUint(uint64(id), 10)
}

// FrameHandler processes a Frame received from a peer. Called on the
// connection's own reader goroutine; handlers that need to do real work
// should hand off rather than block it (§4.1 — slow subscribers must not
// stall the sender's send loop).
type FrameHandler func(peer string, f Frame)

// Peer is one direct, persistent connection to another participant (§4.1
// — once every pair has a direct connection, the registry is off the
// critical path). Outbound frames are queued on a bounded channel so a
// slow or stalled peer applies back-pressure to its sender instead of
// unbounded buffering.
type Peer struct {
	name   string
	conn   net.Conn
	logger model.Logger

	outbox chan Frame
	done   chan struct{}
	once   sync.Once
	closeErr error
}

// DialPeer connects to a peer's listen address, applies socket tuning,
// and starts its send/receive loops. handler is invoked for every frame
// read from this connection.
func DialPeer(ctx context.Context, name, addr string, cfg config.MiddlewareConfig, queueDepth int, logger model.Logger, handler FrameHandler) (*Peer, error) {
	conn, err := DialWithRetry("tcp", addr, max(cfg.Registry.ConnectAttempts, 1), 5*time.Second)
	if err != nil {
		return nil, err
	}
	if err := ApplySocketOptions(conn, cfg); err != nil {
		conn.Close()
		return nil, model.NewTransportError(err, "tune socket for peer %s", name)
	}
	return newPeer(name, conn, queueDepth, logger, handler), nil
}

// AcceptPeer wraps an already-accepted connection (a registry-driven
// inbound dial) into a Peer, applying the same socket tuning and loops as
// DialPeer.
func AcceptPeer(name string, conn net.Conn, cfg config.MiddlewareConfig, queueDepth int, logger model.Logger, handler FrameHandler) (*Peer, error) {
	if err := ApplySocketOptions(conn, cfg); err != nil {
		conn.Close()
		return nil, model.NewTransportError(err, "tune socket for peer %s", name)
	}
	return newPeer(name, conn, queueDepth, logger, handler), nil
}

func newPeer(name string, conn net.Conn, queueDepth int, logger model.Logger, handler FrameHandler) *Peer {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	p := &Peer{
		name:   name,
		conn:   conn,
		logger: logger,
		outbox: make(chan Frame, queueDepth),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	go p.readLoop(handler)
	return p
}

// Send enqueues a frame for delivery. Blocks if the outbound queue is
// full (back-pressure); returns immediately with an error once the
// connection has failed.
func (p *Peer) Send(ctx context.Context, f Frame) error {
	select {
	case p.outbox <- f:
		return nil
	case <-p.done:
		return model.NewTransportError(p.closeErr, "peer %s connection closed", p.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues a frame without blocking, reporting whether the queue
// had room. Used by callers that would rather drop a frame than stall
// (e.g. best-effort telemetry) than honor general back-pressure.
func (p *Peer) TrySend(f Frame) bool {
	select {
	case p.outbox <- f:
		return true
	default:
		return false
	}
}

// QueueDepth reports the number of frames currently queued for send,
// for observability.SetPeerQueueDepth callers.
func (p *Peer) QueueDepth() int {
	return len(p.outbox)
}

// Name returns the peer's participant name.
func (p *Peer) Name() string { return p.name }

func (p *Peer) writeLoop() {
	for {
		select {
		case f, ok := <-p.outbox:
			if !ok {
				return
			}
			if err := WriteFrame(p.conn, f); err != nil {
				p.fail(err)
				return
			}
			observability.RecordBytesTransferred("send", headerSize+len(f.Payload))
			observability.SetPeerQueueDepth(p.name, len(p.outbox))
		case <-p.done:
			return
		}
	}
}

func (p *Peer) readLoop(handler FrameHandler) {
	for {
		f, err := ReadFrame(p.conn)
		if err != nil {
			if err != io.EOF {
				p.logger.Warn("peer: read failed", "peer", p.name, "error", err.Error())
			}
			p.fail(err)
			return
		}
		observability.RecordBytesTransferred("receive", headerSize+len(f.Payload))
		observability.RecordMessageRouted(interfaceKindName(f.Interface), "delivered")
		handler(p.name, f)
	}
}

func (p *Peer) fail(err error) {
	p.once.Do(func() {
		p.closeErr = err
		close(p.done)
		p.conn.Close()
	})
}

// Close tears down the connection and stops both loops.
func (p *Peer) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
	return nil
}

// Done returns a channel closed once the peer connection has failed or
// been closed, for callers that want to react to disconnects (e.g. the
// routing core deregistering the peer's endpoints).
func (p *Peer) Done() <-chan struct{} {
	return p.done
}
