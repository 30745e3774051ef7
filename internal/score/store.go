package score

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/metrics"
)

// StoreOptions tunes retry behavior for durable writes.
type StoreOptions struct {
	LedgerRetries   int           // attempts per durable write (default 5)
	RetryDelay      time.Duration // delay between busy retries (default 200ms)
	FallbackTimeout time.Duration // budget for async fallback writes (default 10s)
}

// Store is the hybrid score accumulator: atomic hot-tier increments during
// a session, merged into the durable ledger at teardown. Hot-tier outages
// degrade writes to the ledger without blocking the ingestion path.
type Store struct {
	hot    *HotStore
	ledger Ledger
	logger zerolog.Logger

	ledgerRetries   int
	retryDelay      time.Duration
	fallbackTimeout time.Duration
}

// NewStore constructs a hybrid score store.
func NewStore(hot *HotStore, ledger Ledger, logger zerolog.Logger, opts StoreOptions) *Store {
	if opts.LedgerRetries <= 0 {
		opts.LedgerRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.FallbackTimeout <= 0 {
		opts.FallbackTimeout = 10 * time.Second
	}
	return &Store{
		hot:             hot,
		ledger:          ledger,
		logger:          logger.With().Str("component", "score_store").Logger(),
		ledgerRetries:   opts.LedgerRetries,
		retryDelay:      opts.RetryDelay,
		fallbackTimeout: opts.FallbackTimeout,
	}
}

// Bump awards one point to (quiz, user). Normally a hot-tier increment;
// when the hot tier is unreachable the point goes straight to the ledger
// from a background goroutine so the caller never blocks on it.
func (s *Store) Bump(ctx context.Context, quizID, userID int64) {
	if err := s.hot.Incr(ctx, quizID, userID); err != nil {
		metrics.CacheFallbacks.Inc()
		s.logger.Warn().Err(err).
			Int64("quiz_id", quizID).
			Int64("user_id", userID).
			Msg("hot tier unavailable, falling back to durable ledger")
		go s.fallbackAdd(quizID, userID, 1)
	}
}

// Reconcile merges every hot-tier counter for the quiz into the durable
// ledger. Each user entry is merged in its own transaction and the hot key
// is cleared only after that transaction commits, so a mid-run failure
// never loses an unmerged value. Returns the number of merged users.
func (s *Store) Reconcile(ctx context.Context, quizID int64) (int, error) {
	snap, err := s.hot.Snapshot(ctx, quizID)
	if err != nil {
		return 0, fmt.Errorf("snapshot hot scores: %w", err)
	}

	users := make([]int64, 0, len(snap))
	for uid := range snap {
		users = append(users, uid)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	merged := 0
	for _, uid := range users {
		delta := snap[uid]
		if delta == 0 {
			continue
		}
		if err := s.addWithRetry(ctx, quizID, uid, delta); err != nil {
			return merged, fmt.Errorf("merge user %d: %w", uid, err)
		}
		if err := s.hot.Clear(ctx, quizID, uid); err != nil {
			// The merge committed; a lingering hot key risks double
			// counting at the next reconcile, so this is loud.
			s.logger.Error().Err(err).
				Int64("quiz_id", quizID).
				Int64("user_id", uid).
				Msg("merged hot score could not be cleared")
		}
		merged++
		metrics.ReconciledUsers.Inc()
	}
	return merged, nil
}

// Combined returns per-user totals merging both tiers. A hot-tier outage
// degrades to durable-only data rather than failing the read.
func (s *Store) Combined(ctx context.Context, quizID int64) (map[int64]int64, error) {
	totals, err := s.ledger.Scores(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	snap, err := s.hot.Snapshot(ctx, quizID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("quiz_id", quizID).Msg("hot tier unavailable, serving durable scores only")
		return totals, nil
	}
	for uid, v := range snap {
		totals[uid] += v
	}
	return totals, nil
}

// ResetQuiz wipes both tiers for a quiz.
func (s *Store) ResetQuiz(ctx context.Context, quizID int64) error {
	if err := s.ledger.Reset(ctx, quizID); err != nil {
		return err
	}
	if err := s.hot.ClearQuiz(ctx, quizID); err != nil {
		return fmt.Errorf("clear hot scores: %w", err)
	}
	return nil
}

func (s *Store) addWithRetry(ctx context.Context, quizID, userID, delta int64) error {
	var err error
	for attempt := 0; attempt < s.ledgerRetries; attempt++ {
		err = s.ledger.Add(ctx, quizID, userID, delta)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLedgerBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
	return err
}

func (s *Store) fallbackAdd(quizID, userID, delta int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.fallbackTimeout)
	defer cancel()

	if err := s.addWithRetry(ctx, quizID, userID, delta); err != nil {
		s.logger.Error().Err(err).
			Int64("quiz_id", quizID).
			Int64("user_id", userID).
			Msg("durable fallback write failed, point lost")
	}
}
