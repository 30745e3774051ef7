package score

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultHotTTL = 24 * time.Hour

// HotStore is the fast ephemeral score tier: one Redis counter per
// (quiz, user), incremented atomically while a session runs. Every write
// refreshes an inactivity TTL so orphaned counters eventually disappear.
type HotStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewHotStore creates a Redis-backed hot score tier.
func NewHotStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *HotStore {
	if ttl <= 0 {
		ttl = defaultHotTTL
	}
	return &HotStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "hot_scores").Logger(),
	}
}

// Incr adds one point for (quiz, user) and refreshes the key TTL.
func (h *HotStore) Incr(ctx context.Context, quizID, userID int64) error {
	key := h.key(quizID, userID)
	pipe := h.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr hot score: %w", err)
	}
	return nil
}

// Snapshot returns all unreconciled counters for a quiz.
func (h *HotStore) Snapshot(ctx context.Context, quizID int64) (map[int64]int64, error) {
	pattern := fmt.Sprintf("score:hot:%d:*", quizID)
	keys, err := h.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("list hot score keys: %w", err)
	}

	snap := make(map[int64]int64, len(keys))
	for _, key := range keys {
		idx := strings.LastIndex(key, ":")
		userID, err := strconv.ParseInt(key[idx+1:], 10, 64)
		if err != nil {
			h.logger.Warn().Str("key", key).Msg("skip malformed hot score key")
			continue
		}
		val, err := h.client.Get(ctx, key).Int64()
		if err == redis.Nil {
			continue // expired between KEYS and GET
		}
		if err != nil {
			return nil, fmt.Errorf("read hot score %s: %w", key, err)
		}
		snap[userID] = val
	}
	return snap, nil
}

// Clear removes the counter for one (quiz, user) pair.
func (h *HotStore) Clear(ctx context.Context, quizID, userID int64) error {
	return h.client.Del(ctx, h.key(quizID, userID)).Err()
}

// ClearQuiz removes every counter recorded for a quiz.
func (h *HotStore) ClearQuiz(ctx context.Context, quizID int64) error {
	pattern := fmt.Sprintf("score:hot:%d:*", quizID)
	keys, err := h.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("list hot score keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return h.client.Del(ctx, keys...).Err()
}

func (h *HotStore) key(quizID, userID int64) string {
	return fmt.Sprintf("score:hot:%d:%d", quizID, userID)
}
