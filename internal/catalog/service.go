package catalog

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Structural limits for authored quizzes.
const (
	MaxTitleLen    = 255
	MaxQuestionLen = 300
	MaxOptionLen   = 100
	MinOptions     = 2
	MaxOptions     = 10
)

// Store abstracts the durable quiz catalog.
type Store interface {
	GetByID(ctx context.Context, id int64) (*Quiz, error)
	GetByTitle(ctx context.Context, title string) (*Quiz, error)
	SearchTitle(ctx context.Context, fragment string) ([]Summary, error)
	Create(ctx context.Context, params CreateParams) (int64, error)
}

// Service resolves quiz references and persists authored quizzes.
type Service struct {
	store  Store
	logger zerolog.Logger
}

// NewService constructs a catalog service.
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// Find resolves a quiz reference: a numeric id, an exact title, or a unique
// case-insensitive partial title. Multiple partial matches return
// *AmbiguousError listing the candidate titles.
func (s *Service) Find(ctx context.Context, ref string) (*Quiz, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		quiz, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup quiz %d: %w", id, err)
		}
		if quiz == nil {
			return nil, ErrNotFound
		}
		return quiz, nil
	}

	quiz, err := s.store.GetByTitle(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("lookup quiz by title: %w", err)
	}
	if quiz != nil {
		return quiz, nil
	}

	matches, err := s.store.SearchTitle(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("search quiz titles: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		quiz, err := s.store.GetByID(ctx, matches[0].ID)
		if err != nil {
			return nil, fmt.Errorf("lookup quiz %d: %w", matches[0].ID, err)
		}
		if quiz == nil {
			return nil, ErrNotFound
		}
		return quiz, nil
	default:
		titles := make([]string, len(matches))
		for i, m := range matches {
			titles[i] = m.Title
		}
		return nil, &AmbiguousError{Ref: ref, Candidates: titles}
	}
}

// Create validates and persists an authored quiz, returning its id.
func (s *Service) Create(ctx context.Context, params CreateParams) (int64, error) {
	if err := Validate(params.Title, params.Questions); err != nil {
		return 0, err
	}
	id, err := s.store.Create(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("create quiz: %w", err)
	}
	s.logger.Info().
		Int64("quiz_id", id).
		Int64("chat_id", params.ChatID).
		Int("questions", len(params.Questions)).
		Msg("quiz created")
	return id, nil
}

// Validate checks quiz structure against the authoring limits. A nil return
// means the quiz is safe to run.
func Validate(title string, questions []Question) error {
	if title == "" {
		return &ValidationError{Question: -1, Reason: "title is empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return &ValidationError{Question: -1, Reason: "title too long"}
	}
	if len(questions) == 0 {
		return &ValidationError{Question: -1, Reason: "no questions"}
	}
	for i, q := range questions {
		if q.Text == "" {
			return &ValidationError{Question: i, Reason: "text is empty"}
		}
		if utf8.RuneCountInString(q.Text) > MaxQuestionLen {
			return &ValidationError{Question: i, Reason: "text too long"}
		}
		if len(q.Options) < MinOptions || len(q.Options) > MaxOptions {
			return &ValidationError{Question: i, Reason: fmt.Sprintf("needs %d-%d options", MinOptions, MaxOptions)}
		}
		for _, opt := range q.Options {
			if opt == "" {
				return &ValidationError{Question: i, Reason: "empty option"}
			}
			if utf8.RuneCountInString(opt) > MaxOptionLen {
				return &ValidationError{Question: i, Reason: "option too long"}
			}
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return &ValidationError{Question: i, Reason: "correct index out of range"}
		}
	}
	return nil
}
