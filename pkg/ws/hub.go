package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub manages spectator WebSocket connections and fans messages out to all
// of them.
type Hub struct {
	mu     sync.Mutex
	conns  map[uuid.UUID]*websocket.Conn
	logger zerolog.Logger
}

// NewHub creates a connection hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[uuid.UUID]*websocket.Conn),
		logger: logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Register adds a connection and returns its id for later removal.
func (h *Hub) Register(conn *websocket.Conn) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	h.logger.Info().Str("conn_id", id.String()).Msg("connection registered")
	return id
}

// Unregister closes and removes a connection.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	if conn, ok := h.conns[id]; ok {
		_ = conn.Close()
		delete(h.conns, id)
	}
	h.mu.Unlock()
}

// BroadcastAll sends msg to every connection, dropping the ones that fail.
func (h *Hub) BroadcastAll(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", id.String()).Msg("dropping dead connection")
			_ = conn.Close()
			delete(h.conns, id)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
