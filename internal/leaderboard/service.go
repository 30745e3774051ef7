package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/catalog"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	UserID int64 `json:"user_id"`
	Score  int64 `json:"score"`
}

// Board is a rendered leaderboard projection for one quiz.
type Board struct {
	QuizID  int64   `json:"quiz_id"`
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Empty reports whether the quiz has no scores yet. An empty board is a
// valid result, not an error.
func (b *Board) Empty() bool { return len(b.Entries) == 0 }

// UpdateEvent is published on the pub/sub channel whenever a quiz's scores
// change.
type UpdateEvent struct {
	EventID string `json:"event_id"`
	QuizID  int64  `json:"quiz_id"`
}

// Resolver looks up quizzes by reference.
type Resolver interface {
	Find(ctx context.Context, ref string) (*catalog.Quiz, error)
}

// ScoreSource provides combined hot+durable per-user totals.
type ScoreSource interface {
	Combined(ctx context.Context, quizID int64) (map[int64]int64, error)
	ResetQuiz(ctx context.Context, quizID int64) error
}

// ServiceOptions configures leaderboard behavior.
type ServiceOptions struct {
	TopN          int
	CacheTTL      time.Duration
	PubSubChannel string
}

// Service computes ranked leaderboards by merging both score tiers, caches
// the rendered result in Redis, and announces mutations over Pub/Sub.
type Service struct {
	redis    *redis.Client
	resolver Resolver
	scores   ScoreSource
	logger   zerolog.Logger

	topN    int
	ttl     time.Duration
	channel string
}

// NewService constructs a leaderboard service.
func NewService(redisClient *redis.Client, resolver Resolver, scores ScoreSource, logger zerolog.Logger, opts ServiceOptions) *Service {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.PubSubChannel == "" {
		opts.PubSubChannel = "quiz:lb:updates"
	}
	return &Service{
		redis:    redisClient,
		resolver: resolver,
		scores:   scores,
		logger:   logger.With().Str("component", "leaderboard").Logger(),
		topN:     opts.TopN,
		ttl:      opts.CacheTTL,
		channel:  opts.PubSubChannel,
	}
}

// Get resolves a quiz reference and returns its board. Resolution errors
// (catalog.ErrNotFound, *catalog.AmbiguousError) pass through.
func (s *Service) Get(ctx context.Context, ref string) (*Board, error) {
	quiz, err := s.resolver.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.board(ctx, quiz.ID, quiz.Title)
}

// GetByID returns the board for a known quiz id.
func (s *Service) GetByID(ctx context.Context, quizID int64) (*Board, error) {
	quiz, err := s.resolver.Find(ctx, strconv.FormatInt(quizID, 10))
	if err != nil {
		return nil, err
	}
	return s.board(ctx, quiz.ID, quiz.Title)
}

// Render returns the human-readable board for a quiz whose title the
// caller already knows (the scheduler's final report path).
func (s *Service) Render(ctx context.Context, quizID int64, title string) (string, error) {
	board, err := s.board(ctx, quizID, title)
	if err != nil {
		return "", err
	}
	return Format(board), nil
}

// Invalidate drops the cached board and announces the mutation.
func (s *Service) Invalidate(ctx context.Context, quizID int64) {
	if err := s.redis.Del(ctx, s.cacheKey(quizID)).Err(); err != nil {
		s.logger.Warn().Err(err).Int64("quiz_id", quizID).Msg("board cache invalidation failed")
	}
	s.publish(ctx, quizID)
}

// Reset wipes both score tiers for the referenced quiz and invalidates its
// board. Admin-gated by the caller.
func (s *Service) Reset(ctx context.Context, ref string) (*catalog.Quiz, error) {
	quiz, err := s.resolver.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.scores.ResetQuiz(ctx, quiz.ID); err != nil {
		return nil, fmt.Errorf("reset scores: %w", err)
	}
	s.Invalidate(ctx, quiz.ID)
	s.logger.Info().Int64("quiz_id", quiz.ID).Msg("leaderboard reset")
	return quiz, nil
}

func (s *Service) board(ctx context.Context, quizID int64, title string) (*Board, error) {
	if cached := s.cached(ctx, quizID); cached != nil {
		return cached, nil
	}

	totals, err := s.scores.Combined(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("combine scores: %w", err)
	}

	entries := make([]Entry, 0, len(totals))
	for uid, score := range totals {
		if score == 0 {
			continue
		}
		entries = append(entries, Entry{UserID: uid, Score: score})
	}
	// Descending score; ties broken by ascending user id so output is
	// deterministic.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if len(entries) > s.topN {
		entries = entries[:s.topN]
	}

	board := &Board{QuizID: quizID, Title: title, Entries: entries}
	s.cache(ctx, board)
	return board, nil
}

func (s *Service) cached(ctx context.Context, quizID int64) *Board {
	data, err := s.redis.Get(ctx, s.cacheKey(quizID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("quiz_id", quizID).Msg("board cache read failed")
		return nil
	}
	var board Board
	if err := json.Unmarshal(data, &board); err != nil {
		s.logger.Warn().Err(err).Int64("quiz_id", quizID).Msg("board cache corrupted")
		_ = s.redis.Del(ctx, s.cacheKey(quizID)).Err()
		return nil
	}
	return &board
}

func (s *Service) cache(ctx context.Context, board *Board) {
	data, err := json.Marshal(board)
	if err != nil {
		s.logger.Warn().Err(err).Msg("board marshal failed")
		return
	}
	if err := s.redis.Set(ctx, s.cacheKey(board.QuizID), data, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Int64("quiz_id", board.QuizID).Msg("board cache write failed")
	}
}

func (s *Service) publish(ctx context.Context, quizID int64) {
	evt := UpdateEvent{EventID: uuid.NewString(), QuizID: quizID}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, s.channel, data).Err(); err != nil {
		s.logger.Warn().Err(err).Int64("quiz_id", quizID).Msg("board update publish failed")
	}
}

func (s *Service) cacheKey(quizID int64) string {
	return fmt.Sprintf("leaderboard:%d", quizID)
}

// Format renders a board as chat-ready text.
func Format(board *Board) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Leaderboard — %s\n", board.Title)
	if board.Empty() {
		b.WriteString("No scores yet.")
		return b.String()
	}
	for i, e := range board.Entries {
		fmt.Fprintf(&b, "%d. user %d — %d pt", i+1, e.UserID, e.Score)
		if e.Score != 1 {
			b.WriteString("s")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
