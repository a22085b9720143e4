package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/observability"
)

// ParticipantAnnouncement is what a participant sends the registry on
// connect (§4.1): its identity and where peers should dial it back.
type ParticipantAnnouncement struct {
	ID              uint32 `json:"id"`
	Name            string `json:"name"`
	ProtocolVersion string `json:"protocolVersion"`
	ListenAddr      string `json:"listenAddr"`
}

// KnownParticipants is the registry's reply to a fresh announcement:
// every peer already connected, so the newcomer can dial each directly.
type KnownParticipants struct {
	Participants []ParticipantAnnouncement `json:"participants"`
}

// peerJoinedNotice is pushed to every already-registered participant
// when a newcomer announces, so peers accept the newcomer's incoming
// connection without polling the registry (§4.1 — "peers simultaneously
// are informed and accept").
type peerJoinedNotice struct {
	Participant ParticipantAnnouncement `json:"participant"`
}

// Registry is the single bootstrap process of §4.1: participants
// announce once, learn the already-connected peer set, and the registry
// pushes PeerJoined notices to existing peers as newcomers arrive. Once
// every pair has a direct connection the registry is off the critical
// path and only serves late joiners.
type Registry struct {
	logger model.Logger

	mu        sync.Mutex
	peers     map[string]ParticipantAnnouncement
	encoders  map[string]*json.Encoder
	dashboard *Dashboard
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger model.Logger) *Registry {
	return &Registry{
		logger:   logger,
		peers:    make(map[string]ParticipantAnnouncement),
		encoders: make(map[string]*json.Encoder),
	}
}

// SetDashboard attaches an observer surface: every participant join/leave
// is pushed to it as a DashboardEvent (§4.1's operator-tooling collaborator).
func (r *Registry) SetDashboard(d *Dashboard) {
	r.mu.Lock()
	r.dashboard = d
	r.mu.Unlock()
}

// ListenAndServe accepts connections on addr until ctx is cancelled or
// the listener errors. Each connection is handled in its own goroutine.
func (r *Registry) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return model.NewTransportError(err, "registry listen on %s", addr)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return model.NewTransportError(err, "registry accept")
			}
		}
		go r.handleConn(conn)
	}
}

func (r *Registry) handleConn(conn net.Conn) {
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var announcement ParticipantAnnouncement
	if err := decoder.Decode(&announcement); err != nil {
		r.logger.Warn("registry: malformed announcement", "error", err.Error())
		conn.Close()
		return
	}

	_, span := observability.Tracer("registry").Start(context.Background(), "registry.announce")
	span.SetAttributes(attribute.String("participant", announcement.Name))
	defer span.End()

	known := r.register(announcement, encoder)
	if err := encoder.Encode(known); err != nil {
		r.logger.Warn("registry: failed to reply to announcement", "participant", announcement.Name, "error", err.Error())
	}

	r.notifyExisting(announcement)
	r.broadcastDashboard("joined", announcement.Name)

	// Keep reading to detect disconnect; the registry never needs
	// further messages from a registered participant.
	var discard json.RawMessage
	for decoder.Decode(&discard) == nil {
	}
	r.deregister(announcement.Name)
	r.broadcastDashboard("left", announcement.Name)
	conn.Close()
}

func (r *Registry) broadcastDashboard(action, participant string) {
	r.mu.Lock()
	d := r.dashboard
	r.mu.Unlock()
	if d == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Action      string `json:"action"`
		Participant string `json:"participant"`
	}{action, participant})
	if err != nil {
		return
	}
	d.Broadcast(DashboardEvent{Kind: "participantStatus", Timestamp: time.Now().UnixNano(), Payload: payload})
}

func (r *Registry) register(a ParticipantAnnouncement, enc *json.Encoder) KnownParticipants {
	r.mu.Lock()
	defer r.mu.Unlock()

	known := make([]ParticipantAnnouncement, 0, len(r.peers))
	for _, p := range r.peers {
		known = append(known, p)
	}
	r.peers[a.Name] = a
	r.encoders[a.Name] = enc
	return KnownParticipants{Participants: known}
}

func (r *Registry) notifyExisting(newcomer ParticipantAnnouncement) {
	r.mu.Lock()
	encoders := make(map[string]*json.Encoder, len(r.encoders))
	for name, enc := range r.encoders {
		if name != newcomer.Name {
			encoders[name] = enc
		}
	}
	r.mu.Unlock()

	notice := peerJoinedNotice{Participant: newcomer}
	for name, enc := range encoders {
		if err := enc.Encode(notice); err != nil {
			r.logger.Warn("registry: failed to notify peer of newcomer", "peer", name, "error", err.Error())
		}
	}
}

func (r *Registry) deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, name)
	delete(r.encoders, name)
}

// Peers returns a snapshot of currently registered participants.
func (r *Registry) Peers() []ParticipantAnnouncement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParticipantAnnouncement, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}
