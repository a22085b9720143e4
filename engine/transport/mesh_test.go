package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibsim/ibus/engine/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestConnectMeshDialsAlreadyKnownPeer(t *testing.T) {
	registryAddr, stop := startTestRegistry(t)
	defer stop()

	cfg := config.MiddlewareConfig{Registry: config.RegistryConfig{Hostname: "127.0.0.1", Port: mustPort(t, registryAddr), ConnectAttempts: 1}}

	var mu sync.Mutex
	var received []Frame
	handlerA := func(peer string, f Frame) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, f)
	}

	addrA := freeAddr(t)
	meshA, err := ConnectMesh(context.Background(), "A", addrA, 1, cfg, 8, silentLogger{}, handlerA)
	require.NoError(t, err)
	defer meshA.Close()

	addrB := freeAddr(t)
	meshB, err := ConnectMesh(context.Background(), "B", addrB, 2, cfg, 8, silentLogger{}, func(string, Frame) {})
	require.NoError(t, err)
	defer meshB.Close()

	require.Eventually(t, func() bool { return meshB.Peer("A") != nil }, time.Second, 10*time.Millisecond)

	require.NoError(t, meshB.SendFrame(context.Background(), "A", Frame{Payload: []byte("hi")}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []byte("hi"), received[0].Payload)
	mu.Unlock()
}

func TestConnectMeshDialsLateJoiningPeer(t *testing.T) {
	registryAddr, stop := startTestRegistry(t)
	defer stop()

	cfg := config.MiddlewareConfig{Registry: config.RegistryConfig{Hostname: "127.0.0.1", Port: mustPort(t, registryAddr), ConnectAttempts: 1}}

	addrA := freeAddr(t)
	meshA, err := ConnectMesh(context.Background(), "A", addrA, 1, cfg, 8, silentLogger{}, func(string, Frame) {})
	require.NoError(t, err)
	defer meshA.Close()

	addrB := freeAddr(t)
	meshB, err := ConnectMesh(context.Background(), "B", addrB, 2, cfg, 8, silentLogger{}, func(string, Frame) {})
	require.NoError(t, err)
	defer meshB.Close()

	require.Eventually(t, func() bool { return meshA.Peer("B") != nil }, time.Second, 10*time.Millisecond)
}

func mustPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}
