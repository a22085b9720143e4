package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ibsim/ibus/engine/model"
)

// DashboardEvent is one record pushed to every connected dashboard: a
// lifecycle transition, an aggregated SystemState change, or a remote log
// line (when LogFromRemotes is enabled). Kind distinguishes the payload
// shape for clients that only want a subset.
type DashboardEvent struct {
	Kind      string          `json:"kind"` // "participantStatus" | "systemState" | "log"
	Timestamp int64           `json:"timestampNs"`
	Payload   json.RawMessage `json:"payload"`
}

// Dashboard is the registry's optional observer surface (§4.1): an HTTP
// endpoint dashboards upgrade to a WebSocket and then passively receive
// DashboardEvent records. Never on the publish critical path — Broadcast
// drops the frame for any client whose send buffer is full rather than
// block the caller.
type Dashboard struct {
	logger   model.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*dashboardClient]struct{}
}

type dashboardClient struct {
	conn *websocket.Conn
	send chan DashboardEvent
}

// NewDashboard creates an empty Dashboard. Cross-origin checks are
// disabled since this endpoint is meant for operator tooling on a
// trusted network, matching the teacher's permissive-by-default local
// tooling posture.
func NewDashboard(logger model.Logger) *Dashboard {
	return &Dashboard{
		logger:  logger,
		clients: make(map[*dashboardClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// resulting connection as a dashboard client until it disconnects.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("dashboard: upgrade failed", "error", err.Error())
		return
	}

	client := &dashboardClient{conn: conn, send: make(chan DashboardEvent, 64)}
	d.mu.Lock()
	d.clients[client] = struct{}{}
	d.mu.Unlock()

	go d.writeLoop(client)
	d.readUntilClose(client)
}

func (d *Dashboard) writeLoop(c *dashboardClient) {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			c.conn.Close()
			return
		}
	}
}

// readUntilClose blocks discarding any client-sent frames (dashboards are
// receive-only) until the connection closes, then deregisters it.
func (d *Dashboard) readUntilClose(c *dashboardClient) {
	defer d.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (d *Dashboard) remove(c *dashboardClient) {
	d.mu.Lock()
	delete(d.clients, c)
	d.mu.Unlock()
	close(c.send)
	c.conn.Close()
}

// Broadcast pushes event to every connected dashboard, dropping it for
// any client whose send buffer is already full.
func (d *Dashboard) Broadcast(event DashboardEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		select {
		case c.send <- event:
		default:
			d.logger.Warn("dashboard: client send buffer full, dropping event", "kind", event.Kind)
		}
	}
}

// ClientCount reports the number of currently connected dashboards.
func (d *Dashboard) ClientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}
