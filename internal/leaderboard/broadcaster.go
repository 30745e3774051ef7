package leaderboard

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/pkg/ws"
)

// Broadcaster listens for Pub/Sub score-update events and pushes the fresh
// board for the affected quiz to all spectator WebSocket clients.
type Broadcaster struct {
	redis   *redis.Client
	svc     *Service
	hub     *ws.Hub
	channel string
	logger  zerolog.Logger
}

// NewBroadcaster creates a Pub/Sub powered leaderboard broadcaster.
func NewBroadcaster(redisClient *redis.Client, svc *Service, hub *ws.Hub, channel string, logger zerolog.Logger) *Broadcaster {
	if channel == "" {
		channel = "quiz:lb:updates"
	}
	return &Broadcaster{
		redis:   redisClient,
		svc:     svc,
		hub:     hub,
		channel: channel,
		logger:  logger.With().Str("component", "leaderboard_broadcaster").Logger(),
	}
}

// Run subscribes to the update channel and blocks until the context is
// cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.redis == nil || b.hub == nil {
		return nil
	}

	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(ctx, msg.Payload)
		}
	}
}

func (b *Broadcaster) forward(ctx context.Context, payload string) {
	var evt UpdateEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Warn().Err(err).Msg("failed to decode leaderboard update event")
		return
	}

	if b.hub.Len() == 0 {
		return
	}

	board, err := b.svc.GetByID(ctx, evt.QuizID)
	if err != nil {
		b.logger.Warn().Err(err).Int64("quiz_id", evt.QuizID).Msg("failed to build board for broadcast")
		return
	}

	raw, err := json.Marshal(board)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to marshal board payload")
		return
	}
	b.hub.BroadcastAll(ws.Message{Type: ws.TypeLeaderboardUpdate, Payload: raw})
}
