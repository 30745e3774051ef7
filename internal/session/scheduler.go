package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/catalog"
	"github.com/antonvlasov/quizbot/internal/gateway"
	"github.com/antonvlasov/quizbot/internal/metrics"
	"github.com/antonvlasov/quizbot/internal/score"
)

// Session lifecycle states.
const (
	StateQuestionOpen = "question_open"
	StateGrading      = "grading"
	StateCompleted    = "completed"
	StateStopped      = "stopped"
	StateFailed       = "failed"
)

// ErrConflict indicates the chat already has an active session.
var ErrConflict = errors.New("chat already has an active quiz session")

var errStopRequested = errors.New("stop requested")

// StopResult reports what StopSession did.
type StopResult string

const (
	StopResultStopped StopResult = "stopped"
	StopResultNothing StopResult = "nothing_to_stop"
)

// Resolver looks up quizzes by reference.
type Resolver interface {
	Find(ctx context.Context, ref string) (*catalog.Quiz, error)
}

// BoardReporter renders the final leaderboard text for a quiz.
type BoardReporter interface {
	Render(ctx context.Context, quizID int64, title string) (string, error)
}

// Session is one running quiz in one chat: current question index, state,
// and the stop channel its goroutine selects on.
type Session struct {
	ChatID int64
	Quiz   *catalog.Quiz

	mu       sync.Mutex
	state    string
	index    int
	expiry   time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns the current question index.
func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Expiry returns when the currently open question closes.
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) openQuestion(expiry time.Time) {
	s.mu.Lock()
	s.state = StateQuestionOpen
	s.expiry = expiry
	s.mu.Unlock()
}

// advance moves to the next question; false when the quiz is exhausted.
func (s *Session) advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index+1 >= len(s.Quiz.Questions) {
		return false
	}
	s.index++
	return true
}

func (s *Session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// SchedulerOptions tunes session timing and delivery retries.
type SchedulerOptions struct {
	OpenPeriod  time.Duration // answer window per question (default 30s)
	GraceWindow time.Duration // binding lifetime past the open period (default 5s)
	RetryBudget int           // transient delivery retries before failing (default 3)
	RetryBase   time.Duration // first backoff delay, doubled per retry (default 500ms)
}

// Scheduler drives quiz sessions: one goroutine per chat walks the quiz's
// questions, delivering each, waiting out the open period, and tearing the
// session down into exactly one terminal state.
type Scheduler struct {
	resolver Resolver
	gateway  gateway.Broadcaster
	bindings *BindingStore
	scores   *score.Store
	boards   BoardReporter
	logger   zerolog.Logger

	openPeriod  time.Duration
	grace       time.Duration
	retryBudget int
	retryBase   time.Duration

	mu     sync.Mutex
	active map[int64]*Session
	wg     sync.WaitGroup
}

// NewScheduler constructs a session scheduler. boards may be nil.
func NewScheduler(
	resolver Resolver,
	gw gateway.Broadcaster,
	bindings *BindingStore,
	scores *score.Store,
	boards BoardReporter,
	logger zerolog.Logger,
	opts SchedulerOptions,
) *Scheduler {
	if opts.OpenPeriod <= 0 {
		opts.OpenPeriod = 30 * time.Second
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 5 * time.Second
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	return &Scheduler{
		resolver:    resolver,
		gateway:     gw,
		bindings:    bindings,
		scores:      scores,
		boards:      boards,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		openPeriod:  opts.OpenPeriod,
		grace:       opts.GraceWindow,
		retryBudget: opts.RetryBudget,
		retryBase:   opts.RetryBase,
		active:      make(map[int64]*Session),
	}
}

// Start resolves quizRef and launches a session for the chat. Returns
// ErrConflict when the chat already runs one; resolution and validation
// failures (catalog.ErrNotFound, *catalog.AmbiguousError,
// *catalog.ValidationError) leave no state behind.
func (s *Scheduler) Start(ctx context.Context, chatID int64, quizRef string) error {
	// Reserve the chat slot before the catalog round trip so two
	// concurrent starts cannot both pass the conflict check.
	s.mu.Lock()
	if _, exists := s.active[chatID]; exists {
		s.mu.Unlock()
		return ErrConflict
	}
	placeholder := &Session{ChatID: chatID, state: StateQuestionOpen, stopCh: make(chan struct{})}
	s.active[chatID] = placeholder
	s.mu.Unlock()

	quiz, err := s.resolver.Find(ctx, quizRef)
	if err == nil {
		err = catalog.Validate(quiz.Title, quiz.Questions)
	}
	if err != nil {
		s.deregister(chatID)
		return err
	}

	placeholder.Quiz = quiz
	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()
	s.logger.Info().
		Int64("chat_id", chatID).
		Int64("quiz_id", quiz.ID).
		Int("questions", len(quiz.Questions)).
		Msg("session started")

	if err := s.gateway.SendNotice(ctx, chatID, fmt.Sprintf("Starting quiz: %s (%d questions)", quiz.Title, len(quiz.Questions))); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("start notice failed")
	}

	s.wg.Add(1)
	go s.run(placeholder)
	return nil
}

// Stop cancels the chat's session, if any. The pending question timer is
// cancelled before teardown, so a stopped session never re-delivers.
func (s *Scheduler) Stop(chatID int64) StopResult {
	s.mu.Lock()
	sess, ok := s.active[chatID]
	s.mu.Unlock()
	if !ok {
		return StopResultNothing
	}
	sess.requestStop()
	return StopResultStopped
}

// ActiveQuizID returns the quiz running in a chat, if any.
func (s *Scheduler) ActiveQuizID(chatID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[chatID]
	if !ok || sess.Quiz == nil {
		return 0, false
	}
	return sess.Quiz.ID, true
}

// Shutdown stops all sessions and waits for their teardown to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, sess := range s.active {
		sess.requestStop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(sess *Session) {
	defer s.wg.Done()
	ctx := context.Background()

	for {
		if sess.stopRequested() {
			s.finish(ctx, sess, StateStopped)
			return
		}

		question := sess.Quiz.Questions[sess.Index()]
		ref, err := s.deliver(ctx, sess, question)
		if errors.Is(err, errStopRequested) {
			s.finish(ctx, sess, StateStopped)
			return
		}
		if err != nil {
			s.logger.Error().Err(err).
				Int64("chat_id", sess.ChatID).
				Int("question", sess.Index()).
				Msg("delivery failed, aborting session")
			if nerr := s.gateway.SendNotice(ctx, sess.ChatID, "Quiz aborted: question could not be delivered."); nerr != nil {
				s.logger.Warn().Err(nerr).Int64("chat_id", sess.ChatID).Msg("abort notice failed")
			}
			s.finish(ctx, sess, StateFailed)
			return
		}

		binding := Binding{
			QuizID:        sess.Quiz.ID,
			ChatID:        sess.ChatID,
			QuestionIndex: sess.Index(),
			CorrectIndex:  question.CorrectIndex,
		}
		if err := s.bindings.Put(ctx, ref, binding); err != nil {
			// Answers for this question will be ignored, but the
			// session itself can keep going.
			s.logger.Error().Err(err).Str("ref", ref).Msg("binding store failed")
		}
		sess.openQuestion(time.Now().Add(s.openPeriod))

		timer := time.NewTimer(s.openPeriod)
		select {
		case <-sess.stopCh:
			timer.Stop()
			s.closeQuestion(ctx, sess, ref)
			s.finish(ctx, sess, StateStopped)
			return
		case <-timer.C:
		}

		sess.setState(StateGrading)
		s.closeQuestion(ctx, sess, ref)

		if sess.advance() {
			continue
		}

		if err := s.gateway.SendNotice(ctx, sess.ChatID, fmt.Sprintf("Quiz %q complete!", sess.Quiz.Title)); err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", sess.ChatID).Msg("completion notice failed")
		}
		s.finish(ctx, sess, StateCompleted)
		return
	}
}

// deliver broadcasts a question, retrying transient failures with doubling
// backoff up to the retry budget.
func (s *Scheduler) deliver(ctx context.Context, sess *Session, q catalog.Question) (string, error) {
	backoff := s.retryBase
	var lastErr error
	for attempt := 0; attempt <= s.retryBudget; attempt++ {
		if attempt > 0 {
			metrics.DeliveryRetries.Inc()
			s.logger.Warn().Err(lastErr).
				Int64("chat_id", sess.ChatID).
				Int("attempt", attempt).
				Msg("retrying question delivery")
			select {
			case <-sess.stopCh:
				return "", errStopRequested
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		ref, err := s.gateway.BroadcastQuestion(ctx, sess.ChatID, q, s.openPeriod)
		if err == nil {
			return ref, nil
		}
		if !gateway.IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("delivery retry budget exhausted: %w", lastErr)
}

func (s *Scheduler) closeQuestion(ctx context.Context, sess *Session, ref string) {
	if err := s.gateway.CloseBroadcast(ctx, sess.ChatID, ref); err != nil {
		s.logger.Warn().Err(err).Str("ref", ref).Msg("close broadcast failed")
	}
	if err := s.bindings.Delete(ctx, ref); err != nil {
		s.logger.Warn().Err(err).Str("ref", ref).Msg("binding delete failed")
	}
}

// finish moves the session into its terminal state and runs the shared
// teardown: reconcile scores, free the chat slot, report the final board.
func (s *Scheduler) finish(ctx context.Context, sess *Session, state string) {
	sess.setState(state)
	metrics.SessionsFinished.WithLabelValues(state).Inc()

	quiz := sess.Quiz
	if quiz != nil {
		merged, err := s.scores.Reconcile(ctx, quiz.ID)
		if err != nil {
			// Surfaced but not fatal to cleanup: the chat slot must
			// not stay marked active.
			s.logger.Error().Err(err).
				Int64("quiz_id", quiz.ID).
				Int("merged", merged).
				Msg("score reconciliation failed")
		}
	}

	s.deregister(sess.ChatID)
	metrics.ActiveSessions.Dec()

	if quiz != nil && s.boards != nil {
		text, err := s.boards.Render(ctx, quiz.ID, quiz.Title)
		if err != nil {
			s.logger.Warn().Err(err).Int64("quiz_id", quiz.ID).Msg("final leaderboard render failed")
		} else if err := s.gateway.SendNotice(ctx, sess.ChatID, text); err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", sess.ChatID).Msg("final leaderboard notice failed")
		}
	}

	s.logger.Info().
		Int64("chat_id", sess.ChatID).
		Str("state", state).
		Msg("session finished")
}

func (s *Scheduler) deregister(chatID int64) {
	s.mu.Lock()
	delete(s.active, chatID)
	s.mu.Unlock()
}
