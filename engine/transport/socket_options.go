package transport

import (
	"net"
	"time"

	"github.com/ibsim/ibus/engine/config"
	"github.com/ibsim/ibus/engine/model"
)

// ApplySocketOptions tunes a TCP connection per the MiddlewareConfig
// knobs in §6: Nagle's algorithm, delayed-ACK, and explicit send/receive
// buffer sizes. Called right after dial/accept, before any frame is
// exchanged.
func ApplySocketOptions(conn net.Conn, cfg config.MiddlewareConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		// Unix domain sockets (EnableDomainSockets) expose none of these
		// knobs; nothing to tune.
		return nil
	}

	if cfg.TcpNoDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	if cfg.TcpSendBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(cfg.TcpSendBufferSize); err != nil {
			return err
		}
	}
	if cfg.TcpReceiveBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(cfg.TcpReceiveBufferSize); err != nil {
			return err
		}
	}
	// TcpQuickAck has no portable equivalent in net.TCPConn; Linux-only
	// setsockopt(TCP_QUICKACK) would need per-call re-arming after every
	// read since the kernel clears it, and isn't exposed by the
	// standard library. Left unenforced, matching the simple-mode
	// posture the rest of this layer takes toward baud-rate and similar
	// unenforced knobs.
	return nil
}

// DialWithRetry dials addr up to attempts times (§5 — "bounded by
// ConnectAttempts × per-attempt-timeout"), returning the first
// successful connection or the last error.
func DialWithRetry(network, addr string, attempts int, perAttemptTimeout time.Duration) (net.Conn, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := net.DialTimeout(network, addr, perAttemptTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, model.NewTransportError(lastErr, "dial %s after %d attempt(s)", addr, attempts)
}
