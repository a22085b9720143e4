package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibsim/ibus/engine/model"
)

func decodeRpcCall(b []byte) RpcCallEnvelope {
	idLen := int(b[0]) | int(b[1])<<8
	id := string(b[2 : 2+idLen])
	off := 2 + idLen
	callerLen := int(b[off]) | int(b[off+1])<<8
	off += 2
	caller := string(b[off : off+callerLen])
	off += callerLen
	return RpcCallEnvelope{CorrelationID: id, Caller: caller, Arg: b[off:]}
}

func decodeRpcResult(b []byte) RpcResultEnvelope {
	idLen := int(b[0]) | int(b[1])<<8
	id := string(b[2 : 2+idLen])
	off := 2 + idLen
	errLen := int(b[off]) | int(b[off+1])<<8
	off += 2
	errStr := string(b[off : off+errLen])
	off += errLen
	return RpcResultEnvelope{CorrelationID: id, Err: errStr, Result: b[off:]}
}

func TestRpcCallUndeliverableWithNoMatchingServer(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	client := NewRpcClient(core, "client/rpc0", "SVC")

	result, err := client.Call(context.Background(), nil, []byte("arg"), time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, RpcUndeliverable, result.Status)
	assert.Empty(t, sender.For("client/rpc0"))
}

func TestRpcCallSucceedsWhenServerResponds(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	server := NewRpcServer(core, "server/rpc0", "SVC")
	server.SetHandler(func(caller string, arg []byte) ([]byte, error) {
		return append([]byte("echo:"), arg...), nil
	})
	client := NewRpcClient(core, "client/rpc0", "SVC")

	resultCh := make(chan RpcResult, 1)
	go func() {
		r, err := client.Call(context.Background(), nil, []byte("ping"), time.Second, 0)
		require.NoError(t, err)
		resultCh <- r
	}()

	require.Eventually(t, func() bool { return len(sender.For("server/rpc0")) == 1 }, time.Second, time.Millisecond)
	callDelivery := sender.For("server/rpc0")[0]
	server.Deliver(decodeRpcCall(callDelivery.Payload), 1)

	require.Eventually(t, func() bool { return len(sender.For("client/rpc0")) == 1 }, time.Second, time.Millisecond)
	resultDelivery := sender.For("client/rpc0")[0]
	client.DeliverResult(decodeRpcResult(resultDelivery.Payload))

	result := <-resultCh
	assert.Equal(t, RpcSuccess, result.Status)
	assert.Equal(t, []byte("echo:ping"), result.Result)
}

func TestRpcCallCarriesHandlerErrorBack(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	server := NewRpcServer(core, "server/rpc0", "SVC")
	server.SetHandler(func(caller string, arg []byte) ([]byte, error) {
		return nil, model.NewUserCallbackError(nil, "boom")
	})
	client := NewRpcClient(core, "client/rpc0", "SVC")

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), nil, []byte("ping"), time.Second, 0)
		resultCh <- err
	}()

	require.Eventually(t, func() bool { return len(sender.For("server/rpc0")) == 1 }, time.Second, time.Millisecond)
	server.Deliver(decodeRpcCall(sender.For("server/rpc0")[0].Payload), 1)

	require.Eventually(t, func() bool { return len(sender.For("client/rpc0")) == 1 }, time.Second, time.Millisecond)
	client.DeliverResult(decodeRpcResult(sender.For("client/rpc0")[0].Payload))

	err := <-resultCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRpcCallTimesOutWithoutResponse(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	NewRpcServer(core, "server/rpc0", "SVC")
	client := NewRpcClient(core, "client/rpc0", "SVC")

	result, err := client.Call(context.Background(), nil, []byte("ping"), 10*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, RpcTimeout, result.Status)
}

func TestRpcDeliverResultIgnoresUnknownCorrelationID(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	client := NewRpcClient(core, "client/rpc0", "SVC")

	// A late/duplicate response with no matching pending call must not panic.
	client.DeliverResult(RpcResultEnvelope{CorrelationID: "call_unknown", Result: []byte("x")})
}
