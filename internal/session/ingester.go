package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/metrics"
	"github.com/antonvlasov/quizbot/internal/score"
)

// Result of an answer submission.
type Result string

const (
	ResultScored  Result = "scored"
	ResultIgnored Result = "ignored"
)

// BoardInvalidator drops cached leaderboard renderings after a score
// mutation.
type BoardInvalidator interface {
	Invalidate(ctx context.Context, quizID int64)
}

// Ingester maps incoming answer submissions to their open question and
// scores first correct submissions exactly once.
type Ingester struct {
	bindings *BindingStore
	scores   *score.Store
	boards   BoardInvalidator
	logger   zerolog.Logger
}

// NewIngester constructs an answer ingester. boards may be nil.
func NewIngester(bindings *BindingStore, scores *score.Store, boards BoardInvalidator, logger zerolog.Logger) *Ingester {
	return &Ingester{
		bindings: bindings,
		scores:   scores,
		boards:   boards,
		logger:   logger.With().Str("component", "ingester").Logger(),
	}
}

// Record processes one answer submission. Late answers, duplicates, wrong
// options, and submissions outside any tracked session all come back as
// ResultIgnored; only a user's first correct answer for an open question
// scores a point.
func (ing *Ingester) Record(ctx context.Context, deliveredRef string, userID int64, optionIndex int) Result {
	b, err := ing.bindings.Get(ctx, deliveredRef)
	if err != nil {
		ing.logger.Warn().Err(err).Str("ref", deliveredRef).Msg("binding lookup failed")
		return ing.ignored("binding_error")
	}
	if b == nil {
		return ing.ignored("no_binding")
	}

	first, err := ing.bindings.MarkAnswered(ctx, deliveredRef, userID)
	if err != nil {
		ing.logger.Warn().Err(err).Str("ref", deliveredRef).Msg("answered marker failed")
		return ing.ignored("marker_error")
	}
	if !first {
		return ing.ignored("duplicate")
	}

	if optionIndex != b.CorrectIndex {
		return ing.ignored("wrong_answer")
	}

	ing.scores.Bump(ctx, b.QuizID, userID)
	metrics.AnswersScored.Inc()
	if ing.boards != nil {
		ing.boards.Invalidate(ctx, b.QuizID)
	}

	ing.logger.Debug().
		Int64("quiz_id", b.QuizID).
		Int64("user_id", userID).
		Int("question", b.QuestionIndex).
		Msg("answer scored")
	return ResultScored
}

func (ing *Ingester) ignored(reason string) Result {
	metrics.AnswersIgnored.WithLabelValues(reason).Inc()
	return ResultIgnored
}
