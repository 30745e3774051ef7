package score

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLedgerBusy indicates the target ledger row is locked by another
// writer. Callers skip and retry instead of blocking on the row.
var ErrLedgerBusy = errors.New("ledger row locked")

// Ledger is the durable cumulative score tier. Append/merge only; the
// live engine never decrements it.
type Ledger interface {
	Add(ctx context.Context, quizID, userID, delta int64) error
	Scores(ctx context.Context, quizID int64) (map[int64]int64, error)
	Reset(ctx context.Context, quizID int64) error
}

const pgLockNotAvailable = "55P03"

// PGLedger implements Ledger on Postgres with per-row locking.
type PGLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PGLedger)(nil)

// NewPGLedger constructs a Postgres-backed score ledger.
func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// Add merges delta into the (quiz, user) row under a NOWAIT row lock.
// Returns ErrLedgerBusy when another writer holds the row.
func (l *PGLedger) Add(ctx context.Context, quizID, userID, delta int64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var points int64
	err = tx.QueryRow(ctx,
		`SELECT points FROM score_ledger WHERE quiz_id = $1 AND user_id = $2 FOR UPDATE NOWAIT`,
		quizID, userID,
	).Scan(&points)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Row may appear concurrently; the upsert resolves that race.
		_, err = tx.Exec(ctx,
			`INSERT INTO score_ledger (quiz_id, user_id, points) VALUES ($1, $2, $3)
			 ON CONFLICT (quiz_id, user_id) DO UPDATE SET points = score_ledger.points + EXCLUDED.points`,
			quizID, userID, delta)
		if err != nil {
			return fmt.Errorf("insert ledger row: %w", err)
		}
	case isLockNotAvailable(err):
		return ErrLedgerBusy
	case err != nil:
		return fmt.Errorf("lock ledger row: %w", err)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE score_ledger SET points = points + $3, updated_at = now() WHERE quiz_id = $1 AND user_id = $2`,
			quizID, userID, delta)
		if err != nil {
			return fmt.Errorf("update ledger row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Scores returns the cumulative per-user scores for a quiz.
func (l *PGLedger) Scores(ctx context.Context, quizID int64) (map[int64]int64, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT user_id, points FROM score_ledger WHERE quiz_id = $1`, quizID)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var userID, points int64
		if err := rows.Scan(&userID, &points); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out[userID] = points
	}
	return out, rows.Err()
}

// Reset wipes every ledger row for a quiz.
func (l *PGLedger) Reset(ctx context.Context, quizID int64) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM score_ledger WHERE quiz_id = $1`, quizID)
	if err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
