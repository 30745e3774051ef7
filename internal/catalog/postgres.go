package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on Postgres via pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore constructs a Postgres-backed catalog store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// GetByID fetches a quiz and its questions, or nil when absent.
func (s *PGStore) GetByID(ctx context.Context, id int64) (*Quiz, error) {
	quiz := &Quiz{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, title FROM quizzes WHERE id = $1 AND is_active`, id,
	).Scan(&quiz.ID, &quiz.ChatID, &quiz.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select quiz: %w", err)
	}

	if err := s.loadQuestions(ctx, quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// GetByTitle fetches the most recent quiz with the exact title, or nil.
func (s *PGStore) GetByTitle(ctx context.Context, title string) (*Quiz, error) {
	quiz := &Quiz{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, title FROM quizzes WHERE title = $1 AND is_active ORDER BY id DESC LIMIT 1`, title,
	).Scan(&quiz.ID, &quiz.ChatID, &quiz.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select quiz by title: %w", err)
	}

	if err := s.loadQuestions(ctx, quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// SearchTitle returns quizzes whose title contains the fragment,
// case-insensitively.
func (s *PGStore) SearchTitle(ctx context.Context, fragment string) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title FROM quizzes WHERE is_active AND title ILIKE '%' || $1 || '%' ORDER BY id`, fragment)
	if err != nil {
		return nil, fmt.Errorf("search quizzes: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Title); err != nil {
			return nil, fmt.Errorf("scan quiz summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Create persists a quiz and its questions in one transaction.
func (s *PGStore) Create(ctx context.Context, params CreateParams) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO quizzes (chat_id, title) VALUES ($1, $2) RETURNING id`,
		params.ChatID, params.Title,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quiz: %w", err)
	}

	for i, q := range params.Questions {
		_, err := tx.Exec(ctx,
			`INSERT INTO questions (quiz_id, position, text, options, correct_index) VALUES ($1, $2, $3, $4, $5)`,
			id, i, q.Text, q.Options, q.CorrectIndex)
		if err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *PGStore) loadQuestions(ctx context.Context, quiz *Quiz) error {
	rows, err := s.pool.Query(ctx,
		`SELECT text, options, correct_index FROM questions WHERE quiz_id = $1 ORDER BY position`, quiz.ID)
	if err != nil {
		return fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.Text, &q.Options, &q.CorrectIndex); err != nil {
			return fmt.Errorf("scan question: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return rows.Err()
}
