package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialDashboard(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/dashboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestDashboardBroadcastReachesConnectedClient(t *testing.T) {
	dashboard := NewDashboard(silentLogger{})
	srv := httptest.NewServer(dashboard)
	defer srv.Close()

	conn := dialDashboard(t, srv)
	defer conn.Close()

	// Give ServeHTTP's goroutines a moment to register the client.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, dashboard.ClientCount())

	dashboard.Broadcast(DashboardEvent{Kind: "systemState", Payload: json.RawMessage(`"Running"`)})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event DashboardEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "systemState", event.Kind)
}

func TestDashboardBroadcastReachesMultipleClients(t *testing.T) {
	dashboard := NewDashboard(silentLogger{})
	srv := httptest.NewServer(dashboard)
	defer srv.Close()

	conn1 := dialDashboard(t, srv)
	defer conn1.Close()
	conn2 := dialDashboard(t, srv)
	defer conn2.Close()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, dashboard.ClientCount())

	dashboard.Broadcast(DashboardEvent{Kind: "log", Payload: json.RawMessage(`"hello"`)})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var event DashboardEvent
		require.NoError(t, conn.ReadJSON(&event))
		require.Equal(t, "log", event.Kind)
	}
}

func TestDashboardClientCountDropsAfterDisconnect(t *testing.T) {
	dashboard := NewDashboard(silentLogger{})
	srv := httptest.NewServer(dashboard)
	defer srv.Close()

	conn := dialDashboard(t, srv)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, dashboard.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return dashboard.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}
