package routing

import (
	"context"
	"errors"
	"time"

	"github.com/ibsim/ibus/bus"
	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/observability"
)

// RpcCallStatus is the outcome of a Call round-trip (§4.5).
type RpcCallStatus string

const (
	RpcSuccess       RpcCallStatus = "SUCCESS"
	RpcTimeout       RpcCallStatus = "TIMEOUT"
	RpcUndeliverable RpcCallStatus = "UNDELIVERABLE"
)

// RpcCallEnvelope carries a call to every matching server; the server
// routes its result back to Caller by CorrelationID (§4.5).
type RpcCallEnvelope struct {
	CorrelationID string
	Caller        string
	Arg           []byte
}

// RpcResultEnvelope carries a server's result back to the calling client.
type RpcResultEnvelope struct {
	CorrelationID string
	Result        []byte
	Err           string
}

// RpcResult is what Call returns: the status and, on SUCCESS, the first
// server result to arrive.
type RpcResult struct {
	Status RpcCallStatus
	Result []byte
}

// RpcClient is a participant's RpcClient controller instance.
type RpcClient struct {
	core     *Core
	endpoint string
	link     string
	calls    *bus.CallTable
}

// NewRpcClient creates a client bound to link with its own correlation
// table; calls are not shared with any other client.
func NewRpcClient(core *Core, endpoint, link string) *RpcClient {
	return &RpcClient{core: core, endpoint: endpoint, link: link, calls: bus.NewCallTable()}
}

// Call allocates a CallHandle, sends (callHandle, arg) to every matching
// server on the link, and waits up to timeout for the first result
// (§4.5). Returns UNDELIVERABLE immediately if no server currently
// matches, without opening a call.
func (c *RpcClient) Call(ctx context.Context, labels model.LabelSet, arg []byte, timeout time.Duration, timestampNs int64) (RpcResult, error) {
	started := time.Now()
	if len(c.core.Subscribers(c.link)) == 0 {
		observability.RecordRPCCall(c.link, "undeliverable", time.Since(started).Seconds())
		return RpcResult{Status: RpcUndeliverable}, nil
	}

	handle := c.calls.New()
	envelope := RpcCallEnvelope{CorrelationID: handle.CorrelationID, Caller: c.endpoint, Arg: arg}

	if err := c.core.Publish(c.endpoint, c.link, model.IfidRpcCall, labels, encodeRpcCall(envelope), timestampNs, 0); err != nil {
		c.calls.Forget(handle.CorrelationID)
		observability.RecordRPCCall(c.link, "error", time.Since(started).Seconds())
		return RpcResult{}, err
	}

	response, err := handle.Wait(ctx, timeout)
	if err != nil {
		c.calls.Forget(handle.CorrelationID)
		var timeoutErr *bus.QueryTimeoutError
		if errors.As(err, &timeoutErr) {
			observability.RecordRPCCall(c.link, "timeout", time.Since(started).Seconds())
			return RpcResult{Status: RpcTimeout}, nil
		}
		observability.RecordRPCCall(c.link, "error", time.Since(started).Seconds())
		return RpcResult{}, err
	}

	result, _ := response.([]byte)
	observability.RecordRPCCall(c.link, "success", time.Since(started).Seconds())
	return RpcResult{Status: RpcSuccess, Result: result}, nil
}

// DeliverResult routes a server's result back to this client's waiting
// call (§4.5). A correlation id with no pending call is a no-op — the
// call may have already timed out.
func (c *RpcClient) DeliverResult(envelope RpcResultEnvelope) {
	var err error
	if envelope.Err != "" {
		err = model.NewUserCallbackError(nil, "%s", envelope.Err)
	}
	c.calls.Resolve(envelope.CorrelationID, envelope.Result, err)
}

// RpcServer is a participant's RpcServer controller instance.
type RpcServer struct {
	core     *Core
	endpoint string
	link     string
	handler  func(caller string, arg []byte) ([]byte, error)
}

// NewRpcServer creates a server bound to link and registers it as a
// subscriber so DiscoverServers/Call matching finds it.
func NewRpcServer(core *Core, endpoint, link string) *RpcServer {
	core.Subscribe(model.Subscription{Subscriber: endpoint, Link: link}, false)
	return &RpcServer{core: core, endpoint: endpoint, link: link}
}

// SetHandler registers the callback invoked for every delivered call.
func (s *RpcServer) SetHandler(h func(caller string, arg []byte) ([]byte, error)) { s.handler = h }

// Deliver is called by the owning participant's dispatch loop for every
// RpcCallEnvelope routed to this endpoint; it runs the handler and sends
// the result directly back to the caller (not broadcast).
func (s *RpcServer) Deliver(envelope RpcCallEnvelope, timestampNs int64) {
	if s.handler == nil {
		return
	}
	result, err := s.handler(envelope.Caller, envelope.Arg)

	resultEnvelope := RpcResultEnvelope{CorrelationID: envelope.CorrelationID, Result: result}
	if err != nil {
		resultEnvelope.Err = err.Error()
	}

	delivery := Delivery{
		Interface:   model.IfidRpcCallResult,
		Publisher:   s.endpoint,
		Link:        s.link,
		TimestampNs: timestampNs,
		Payload:     encodeRpcResult(resultEnvelope),
	}
	s.core.Sender().SendTo(envelope.Caller, delivery)
}

func encodeRpcCall(e RpcCallEnvelope) []byte {
	id := []byte(e.CorrelationID)
	caller := []byte(e.Caller)
	out := make([]byte, 2+len(id)+2+len(caller)+len(e.Arg))
	off := 0
	off += putLenPrefixed(out[off:], id)
	off += putLenPrefixed(out[off:], caller)
	copy(out[off:], e.Arg)
	return out
}

func encodeRpcResult(e RpcResultEnvelope) []byte {
	id := []byte(e.CorrelationID)
	errStr := []byte(e.Err)
	out := make([]byte, 2+len(id)+2+len(errStr)+len(e.Result))
	off := 0
	off += putLenPrefixed(out[off:], id)
	off += putLenPrefixed(out[off:], errStr)
	copy(out[off:], e.Result)
	return out
}

func putLenPrefixed(b, v []byte) int {
	b[0] = byte(len(v))
	b[1] = byte(len(v) >> 8)
	copy(b[2:], v)
	return 2 + len(v)
}
