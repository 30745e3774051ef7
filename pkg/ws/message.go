package ws

import "encoding/json"

// MessageType constants for the spectator stream.
const (
	TypeLeaderboardUpdate = "leaderboard_update"
	TypePing              = "ping"
	TypePong              = "pong"
)

// Message wraps all WebSocket payloads with a type tag.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
