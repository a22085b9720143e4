package transport

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ibsim/ibus/engine/config"
	"github.com/ibsim/ibus/engine/model"
)

// protocolVersion is the announcement compatibility tag (§6); bumped
// whenever the Frame wire format changes incompatibly.
const protocolVersion = "1.0"

// Mesh is one participant's bootstrapped peer-to-peer connection set
// (§4.1): a listener accepting inbound peer connections, one dialed Peer
// per already-known or newly-announced participant, and a background
// watch of the registry connection for PeerJoined notices. Once every
// pair has a direct connection the registry is off the critical path.
type Mesh struct {
	name       string
	cfg        config.MiddlewareConfig
	queueDepth int
	logger     model.Logger
	handler    FrameHandler

	ln net.Listener

	mu    sync.Mutex
	peers map[string]*Peer
}

// ConnectMesh announces name (listening at listenAddr) to the registry,
// dials every already-known peer, accepts inbound connections at
// listenAddr, and keeps watching the registry connection so later-
// joining peers are dialed as they announce (§4.1).
func ConnectMesh(ctx context.Context, name, listenAddr string, id uint32, cfg config.MiddlewareConfig, queueDepth int, logger model.Logger, handler FrameHandler) (*Mesh, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, model.NewTransportError(err, "mesh: listen on %s", listenAddr)
	}

	m := &Mesh{
		name: name, cfg: cfg, queueDepth: queueDepth, logger: logger, handler: handler,
		ln: ln, peers: make(map[string]*Peer),
	}
	go m.acceptLoop()

	registryAddr := net.JoinHostPort(cfg.Registry.Hostname, strconv.Itoa(cfg.Registry.Port))
	conn, err := DialWithRetry("tcp", registryAddr, max(cfg.Registry.ConnectAttempts, 1), 5*time.Second)
	if err != nil {
		ln.Close()
		return nil, err
	}

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	announcement := ParticipantAnnouncement{ID: id, Name: name, ProtocolVersion: protocolVersion, ListenAddr: listenAddr}
	if err := encoder.Encode(announcement); err != nil {
		conn.Close()
		ln.Close()
		return nil, model.NewTransportError(err, "mesh: announce to registry")
	}

	var known KnownParticipants
	if err := decoder.Decode(&known); err != nil {
		conn.Close()
		ln.Close()
		return nil, model.NewTransportError(err, "mesh: read known participants")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, peer := range known.Participants {
		peer := peer
		group.Go(func() error { return m.dial(groupCtx, peer) })
	}
	if err := group.Wait(); err != nil {
		logger.Warn("mesh: initial fan-out dial failed", "participant", name, "error", err.Error())
	}

	go m.watchRegistry(ctx, decoder, conn)

	return m, nil
}

func (m *Mesh) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		peer, err := AcceptPeer("", conn, m.cfg, m.queueDepth, m.logger, m.handler)
		if err != nil {
			m.logger.Warn("mesh: failed to accept inbound peer", "error", err.Error())
			continue
		}
		// The remote side's identity isn't known until its own
		// announcement arrives via dial(); an inbound-only connection
		// is still usable for Send since frames carry SenderEP, not a
		// lookup key, so it's tracked under a synthetic local name.
		m.track(conn.RemoteAddr().String(), peer)
	}
}

// watchRegistry decodes PeerJoined notices off the still-open
// announcement connection and dials each newcomer directly (§4.1 —
// peers are informed and accept without polling the registry).
func (m *Mesh) watchRegistry(ctx context.Context, decoder *json.Decoder, conn net.Conn) {
	defer conn.Close()
	for {
		var notice peerJoinedNotice
		if err := decoder.Decode(&notice); err != nil {
			return
		}
		if notice.Participant.Name == m.name {
			continue
		}
		if err := m.dial(ctx, notice.Participant); err != nil {
			m.logger.Warn("mesh: failed to dial newcomer", "peer", notice.Participant.Name, "error", err.Error())
		}
	}
}

func (m *Mesh) dial(ctx context.Context, remote ParticipantAnnouncement) error {
	peer, err := DialPeer(ctx, remote.Name, remote.ListenAddr, m.cfg, m.queueDepth, m.logger, m.handler)
	if err != nil {
		return err
	}
	m.track(remote.Name, peer)
	return nil
}

func (m *Mesh) track(name string, peer *Peer) {
	m.mu.Lock()
	m.peers[name] = peer
	m.mu.Unlock()
}

// Peer returns the named peer connection, or nil if none is tracked.
func (m *Mesh) Peer(name string) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[name]
}

// Peers returns a snapshot of every tracked peer name.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for name := range m.peers {
		out = append(out, name)
	}
	return out
}

// SendFrame delivers f to the named participant's connection, blocking
// on back-pressure per Peer.Send. Callers bridging routing.Delivery onto
// the mesh (the participant dispatch layer) resolve the owning
// participant name from an endpoint's qualified name themselves.
func (m *Mesh) SendFrame(ctx context.Context, participant string, f Frame) error {
	peer := m.Peer(participant)
	if peer == nil {
		return model.NewTransportError(nil, "mesh: no connection to participant %q", participant)
	}
	return peer.Send(ctx, f)
}

// Close tears down the listener and every tracked peer connection.
func (m *Mesh) Close() error {
	m.ln.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, peer := range m.peers {
		if err := peer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
