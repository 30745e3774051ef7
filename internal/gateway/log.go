package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/catalog"
)

// LogBroadcaster is a dry-run transport: it writes prompts and notices to
// the log and hands out synthetic delivery refs. Useful for local runs and
// for embedding the engine before a real chat transport is attached.
type LogBroadcaster struct {
	logger zerolog.Logger
}

var _ Broadcaster = (*LogBroadcaster)(nil)

// NewLogBroadcaster creates a log-only messaging transport.
func NewLogBroadcaster(logger zerolog.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger.With().Str("component", "log_gateway").Logger()}
}

// BroadcastQuestion logs the prompt and returns a fresh synthetic ref.
func (g *LogBroadcaster) BroadcastQuestion(_ context.Context, chatID int64, q catalog.Question, openPeriod time.Duration) (string, error) {
	ref := uuid.NewString()
	g.logger.Info().
		Int64("chat_id", chatID).
		Str("ref", ref).
		Str("question", q.Text).
		Str("options", strings.Join(q.Options, " | ")).
		Dur("open_period", openPeriod).
		Msg("question broadcast")
	return ref, nil
}

// CloseBroadcast logs the close.
func (g *LogBroadcaster) CloseBroadcast(_ context.Context, chatID int64, ref string) error {
	g.logger.Info().Int64("chat_id", chatID).Str("ref", ref).Msg("broadcast closed")
	return nil
}

// SendNotice logs the notice text.
func (g *LogBroadcaster) SendNotice(_ context.Context, chatID int64, text string) error {
	g.logger.Info().Int64("chat_id", chatID).Str("text", text).Msg("notice sent")
	return nil
}
