package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Binding links a delivered question broadcast back to the session and
// question it belongs to. It lives in Redis for the open period plus a
// grace window; answers arriving after it is gone are discarded.
type Binding struct {
	QuizID        int64 `json:"quiz_id"`
	ChatID        int64 `json:"chat_id"`
	QuestionIndex int   `json:"question_index"`
	CorrectIndex  int   `json:"correct_index"`
}

// BindingStore keeps open-question bindings and per-user answered markers
// in Redis with automatic expiry.
type BindingStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewBindingStore creates a binding store. ttl should be the question open
// period plus the answer grace window.
func NewBindingStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *BindingStore {
	return &BindingStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "bindings").Logger(),
	}
}

// Put stores the binding for a delivered broadcast reference.
func (s *BindingStore) Put(ctx context.Context, ref string, b Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal binding: %w", err)
	}
	if err := s.client.Set(ctx, s.bindingKey(ref), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store binding: %w", err)
	}
	return nil
}

// Get returns the binding for ref, or nil when absent or expired.
func (s *BindingStore) Get(ctx context.Context, ref string) (*Binding, error) {
	data, err := s.client.Get(ctx, s.bindingKey(ref)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get binding: %w", err)
	}

	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal binding: %w", err)
	}
	return &b, nil
}

// Delete drops the binding when its question closes. Expiry would get
// there eventually; deleting keeps late answers out of the grace window
// once the session has moved on.
func (s *BindingStore) Delete(ctx context.Context, ref string) error {
	return s.client.Del(ctx, s.bindingKey(ref)).Err()
}

// MarkAnswered records that a user submitted for this broadcast. Returns
// true only for the user's first submission.
func (s *BindingStore) MarkAnswered(ctx context.Context, ref string, userID int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.answeredKey(ref, userID), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark answered: %w", err)
	}
	return ok, nil
}

func (s *BindingStore) bindingKey(ref string) string {
	return "quiz:binding:" + ref
}

func (s *BindingStore) answeredKey(ref string, userID int64) string {
	return fmt.Sprintf("quiz:answered:%s:%d", ref, userID)
}
