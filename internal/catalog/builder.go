package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Builder states for the quiz authoring flow.
const (
	StateAwaitingTitle    = "awaiting_title"
	StateAwaitingQuestion = "awaiting_question"
)

var (
	// ErrBuilderState indicates an input that is not valid for the
	// builder's current state.
	ErrBuilderState = errors.New("unexpected input for builder state")

	// ErrQuestionFormat indicates a question line that does not parse.
	ErrQuestionFormat = errors.New("question format: text|option|option[|...]|correct_index")
)

// Builder is the typed authoring state machine behind the quiz-creation
// conversation. The chat layer feeds it raw text; the builder owns parsing,
// per-step validation, and the final CreateParams.
type Builder struct {
	chatID    int64
	state     string
	title     string
	questions []Question
}

// NewBuilder starts a quiz draft for a chat, waiting for a title.
func NewBuilder(chatID int64) *Builder {
	return &Builder{chatID: chatID, state: StateAwaitingTitle}
}

// State returns the current builder state.
func (b *Builder) State() string { return b.state }

// QuestionCount returns how many questions the draft holds.
func (b *Builder) QuestionCount() int { return len(b.questions) }

// SetTitle records the quiz title and advances to question entry.
func (b *Builder) SetTitle(title string) error {
	if b.state != StateAwaitingTitle {
		return ErrBuilderState
	}
	title = strings.TrimSpace(title)
	if err := validateTitle(title); err != nil {
		return err
	}
	b.title = title
	b.state = StateAwaitingQuestion
	return nil
}

// AddQuestion parses a "text|option|option[|...]|correct_index" line and
// appends the question to the draft.
func (b *Builder) AddQuestion(line string) error {
	if b.state != StateAwaitingQuestion {
		return ErrBuilderState
	}
	parts := strings.Split(line, "|")
	if len(parts) < MinOptions+2 {
		return ErrQuestionFormat
	}

	text := strings.TrimSpace(parts[0])
	rawIdx := strings.TrimSpace(parts[len(parts)-1])
	correct, err := strconv.Atoi(rawIdx)
	if err != nil {
		return fmt.Errorf("%w: correct index %q is not a number", ErrQuestionFormat, rawIdx)
	}

	options := make([]string, 0, len(parts)-2)
	for _, opt := range parts[1 : len(parts)-1] {
		options = append(options, strings.TrimSpace(opt))
	}

	q := Question{Text: text, Options: options, CorrectIndex: correct}
	if err := Validate(b.title, []Question{q}); err != nil {
		return err
	}
	b.questions = append(b.questions, q)
	return nil
}

// Finish validates the whole draft and returns parameters for Create.
func (b *Builder) Finish() (CreateParams, error) {
	if b.state != StateAwaitingQuestion {
		return CreateParams{}, ErrBuilderState
	}
	if err := Validate(b.title, b.questions); err != nil {
		return CreateParams{}, err
	}
	return CreateParams{ChatID: b.chatID, Title: b.title, Questions: b.questions}, nil
}

// Cancel discards the draft.
func (b *Builder) Cancel() {
	b.title = ""
	b.questions = nil
	b.state = StateAwaitingTitle
}

func validateTitle(title string) error {
	if title == "" {
		return &ValidationError{Question: -1, Reason: "title is empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return &ValidationError{Question: -1, Reason: "title too long"}
	}
	return nil
}
