package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialHub spins up a WebSocket endpoint that registers every accepted
// connection with the hub and returns a connected client.
func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Registration happens in the handler goroutine.
	require.Eventually(t, func() bool { return hub.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	return client
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := dialHub(t, hub)

	payload, err := json.Marshal(map[string]int{"quiz_id": 7})
	require.NoError(t, err)
	hub.BroadcastAll(Message{Type: TypeLeaderboardUpdate, Payload: payload})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Message
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, TypeLeaderboardUpdate, got.Type)
	assert.JSONEq(t, `{"quiz_id":7}`, string(got.Payload))
}

func TestHubUnregisterClosesConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id := hub.Register(conn)
		hub.Unregister(id)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsDeadConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := dialHub(t, hub)
	require.NoError(t, client.Close())

	// Writes to the closed connection eventually fail and evict it.
	payload := json.RawMessage(`{}`)
	assert.Eventually(t, func() bool {
		hub.BroadcastAll(Message{Type: TypePing, Payload: payload})
		return hub.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
