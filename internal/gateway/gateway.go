package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/antonvlasov/quizbot/internal/catalog"
)

// Broadcaster is the messaging-gateway boundary. Implementations deliver
// question prompts to a chat, close them, and send plain notices. The wire
// protocol behind it is entirely the transport's concern.
type Broadcaster interface {
	// BroadcastQuestion delivers a question prompt with its options and a
	// fixed open period, returning the transport-assigned reference for
	// the broadcast.
	BroadcastQuestion(ctx context.Context, chatID int64, q catalog.Question, openPeriod time.Duration) (string, error)

	// CloseBroadcast stops accepting answers for a delivered question.
	// Best effort; callers log failures and move on.
	CloseBroadcast(ctx context.Context, chatID int64, ref string) error

	// SendNotice sends a plain text message to the chat.
	SendNotice(ctx context.Context, chatID int64, text string) error
}

// TransientError marks a delivery failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient delivery error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AdminPredicate decides whether a user may run operator commands in a chat.
type AdminPredicate func(userID, chatID int64) bool

// Allowlist builds an AdminPredicate from a fixed set of operator ids.
func Allowlist(ids []int64) AdminPredicate {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(userID, _ int64) bool {
		_, ok := set[userID]
		return ok
	}
}
