package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonvlasov/quizbot/internal/catalog"
	"github.com/antonvlasov/quizbot/internal/gateway"
	"github.com/antonvlasov/quizbot/internal/score"
)

type fakeGateway struct {
	mu         sync.Mutex
	attempts   int
	transient  int  // fail this many broadcasts with a retryable error
	fatal      bool // every broadcast fails permanently
	broadcasts []string
	closed     []string
	notices    []string
}

func (g *fakeGateway) BroadcastQuestion(_ context.Context, _ int64, _ catalog.Question, _ time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.fatal {
		return "", errors.New("chat unreachable")
	}
	if g.transient > 0 {
		g.transient--
		return "", gateway.Transient(errors.New("throttled"))
	}
	ref := fmt.Sprintf("ref-%d", len(g.broadcasts))
	g.broadcasts = append(g.broadcasts, ref)
	return ref, nil
}

func (g *fakeGateway) CloseBroadcast(_ context.Context, _ int64, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, ref)
	return nil
}

func (g *fakeGateway) SendNotice(_ context.Context, _ int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notices = append(g.notices, text)
	return nil
}

func (g *fakeGateway) broadcastCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.broadcasts)
}

func (g *fakeGateway) closedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.closed)
}

func (g *fakeGateway) attemptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

func (g *fakeGateway) hasNotice(substr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

type stubResolver struct {
	quiz *catalog.Quiz
	err  error
}

func (r stubResolver) Find(context.Context, string) (*catalog.Quiz, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.quiz, nil
}

type stubBoards struct{}

func (stubBoards) Render(_ context.Context, _ int64, title string) (string, error) {
	return "standings for " + title, nil
}

type memLedger struct {
	mu   sync.Mutex
	rows map[[2]int64]int64
}

func newMemLedger() *memLedger { return &memLedger{rows: make(map[[2]int64]int64)} }

func (m *memLedger) Add(_ context.Context, quizID, userID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[2]int64{quizID, userID}] += delta
	return nil
}

func (m *memLedger) Scores(_ context.Context, quizID int64) (map[int64]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]int64)
	for k, v := range m.rows {
		if k[0] == quizID {
			out[k[1]] = v
		}
	}
	return out, nil
}

func (m *memLedger) Reset(_ context.Context, quizID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.rows {
		if k[0] == quizID {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *memLedger) points(quizID, userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[[2]int64{quizID, userID}]
}

type schedulerFixture struct {
	sched    *Scheduler
	ingester *Ingester
	gw       *fakeGateway
	ledger   *memLedger
	hot      *score.HotStore
}

func twoQuestionQuiz() *catalog.Quiz {
	return &catalog.Quiz{
		ID:    7,
		Title: "Capitals",
		Questions: []catalog.Question{
			{Text: "Capital of France?", Options: []string{"Berlin", "Paris"}, CorrectIndex: 1},
			{Text: "Capital of Japan?", Options: []string{"Tokyo", "Kyoto"}, CorrectIndex: 0},
		},
	}
}

func newSchedulerFixture(t *testing.T, resolver Resolver, gw *fakeGateway, opts SchedulerOptions) *schedulerFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bindings := NewBindingStore(client, opts.OpenPeriod+opts.GraceWindow, zerolog.Nop())
	hot := score.NewHotStore(client, time.Hour, zerolog.Nop())
	ledger := newMemLedger()
	scores := score.NewStore(hot, ledger, zerolog.Nop(), score.StoreOptions{RetryDelay: time.Millisecond})

	sched := NewScheduler(resolver, gw, bindings, scores, stubBoards{}, zerolog.Nop(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	return &schedulerFixture{
		sched:    sched,
		ingester: NewIngester(bindings, scores, nil, zerolog.Nop()),
		gw:       gw,
		ledger:   ledger,
		hot:      hot,
	}
}

func fastOpts() SchedulerOptions {
	return SchedulerOptions{
		OpenPeriod:  100 * time.Millisecond,
		GraceWindow: 50 * time.Millisecond,
		RetryBudget: 3,
		RetryBase:   time.Millisecond,
	}
}

func TestStartRejectsSecondSessionInChat(t *testing.T) {
	gw := &fakeGateway{}
	fix := newSchedulerFixture(t, stubResolver{quiz: twoQuestionQuiz()}, gw, SchedulerOptions{
		OpenPeriod:  time.Minute,
		GraceWindow: time.Second,
		RetryBudget: 1,
		RetryBase:   time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, fix.sched.Start(ctx, 100, "Capitals"))
	assert.ErrorIs(t, fix.sched.Start(ctx, 100, "Capitals"), ErrConflict)

	// A different chat is free to start its own session.
	assert.NoError(t, fix.sched.Start(ctx, 200, "Capitals"))
}

func TestStartFailureLeavesNoState(t *testing.T) {
	gw := &fakeGateway{}
	fix := newSchedulerFixture(t, stubResolver{err: catalog.ErrNotFound}, gw, fastOpts())
	ctx := context.Background()

	assert.ErrorIs(t, fix.sched.Start(ctx, 100, "missing"), catalog.ErrNotFound)

	_, active := fix.sched.ActiveQuizID(100)
	assert.False(t, active)

	// The failed start must not leave the chat slot reserved.
	assert.ErrorIs(t, fix.sched.Start(ctx, 100, "missing"), catalog.ErrNotFound)
}

func TestStopWithoutSession(t *testing.T) {
	gw := &fakeGateway{}
	fix := newSchedulerFixture(t, stubResolver{quiz: twoQuestionQuiz()}, gw, fastOpts())

	assert.Equal(t, StopResultNothing, fix.sched.Stop(100))
}

func TestSessionRunsToCompletion(t *testing.T) {
	gw := &fakeGateway{}
	fix := newSchedulerFixture(t, stubResolver{quiz: twoQuestionQuiz()}, gw, fastOpts())
	ctx := context.Background()

	require.NoError(t, fix.sched.Start(ctx, 100, "Capitals"))

	quizID, active := fix.sched.ActiveQuizID(100)
	require.True(t, active)
	assert.Equal(t, int64(7), quizID)

	// Question 0 open: user 1 answers correctly, user 2 does not.
	require.Eventually(t, func() bool { return gw.broadcastCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ResultScored, fix.ingester.Record(ctx, "ref-0", 1, 1))
	assert.Equal(t, ResultIgnored, fix.ingester.Record(ctx, "ref-0", 2, 0))

	// Question 1 open: the closed question no longer accepts answers,
	// even from users who never answered it.
	require.Eventually(t, func() bool { return gw.broadcastCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ResultIgnored, fix.ingester.Record(ctx, "ref-0", 3, 1))

	assert.Equal(t, ResultScored, fix.ingester.Record(ctx, "ref-1", 1, 0))
	assert.Equal(t, ResultIgnored, fix.ingester.Record(ctx, "ref-1", 1, 0))

	require.Eventually(t, func() bool {
		_, active := fix.sched.ActiveQuizID(100)
		return !active
	}, 2*time.Second, 5*time.Millisecond)

	// Exactly one broadcast and one close per question.
	assert.Equal(t, 2, gw.broadcastCount())
	assert.Equal(t, 2, gw.closedCount())
	assert.True(t, gw.hasNotice("complete"))
	assert.True(t, gw.hasNotice("standings for Capitals"))

	// Teardown reconciled the hot tier into the ledger.
	assert.Equal(t, int64(2), fix.ledger.points(7, 1))
	assert.Zero(t, fix.ledger.points(7, 2))
	assert.Zero(t, fix.ledger.points(7, 3))

	snap, err := fix.hot.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestStopCancelsPendingQuestion(t *testing.T) {
	gw := &fakeGateway{}
	opts := fastOpts()
	opts.OpenPeriod = time.Minute // would outlive the test if the timer fired
	fix := newSchedulerFixture(t, stubResolver{quiz: twoQuestionQuiz()}, gw, opts)
	ctx := context.Background()

	require.NoError(t, fix.sched.Start(ctx, 100, "Capitals"))
	require.Eventually(t, func() bool { return gw.broadcastCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, ResultScored, fix.ingester.Record(ctx, "ref-0", 1, 1))

	assert.Equal(t, StopResultStopped, fix.sched.Stop(100))
	require.Eventually(t, func() bool {
		_, active := fix.sched.ActiveQuizID(100)
		return !active
	}, 2*time.Second, 5*time.Millisecond)

	// No further questions after the stop, and points earned before it
	// survive into the ledger.
	assert.Equal(t, 1, gw.broadcastCount())
	assert.False(t, gw.hasNotice("complete"))
	assert.Equal(t, int64(1), fix.ledger.points(7, 1))
}

func TestDeliveryRetriesTransientFailures(t *testing.T) {
	gw := &fakeGateway{transient: 2}
	quiz := twoQuestionQuiz()
	quiz.Questions = quiz.Questions[:1]
	fix := newSchedulerFixture(t, stubResolver{quiz: quiz}, gw, fastOpts())

	require.NoError(t, fix.sched.Start(context.Background(), 100, "Capitals"))
	require.Eventually(t, func() bool {
		_, active := fix.sched.ActiveQuizID(100)
		return !active
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, gw.attemptCount())
	assert.Equal(t, 1, gw.broadcastCount())
	assert.True(t, gw.hasNotice("complete"))
}

func TestDeliveryFailureAbortsSession(t *testing.T) {
	gw := &fakeGateway{fatal: true}
	fix := newSchedulerFixture(t, stubResolver{quiz: twoQuestionQuiz()}, gw, fastOpts())

	require.NoError(t, fix.sched.Start(context.Background(), 100, "Capitals"))
	require.Eventually(t, func() bool {
		_, active := fix.sched.ActiveQuizID(100)
		return !active
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, gw.broadcastCount())
	assert.True(t, gw.hasNotice("aborted"))
	assert.False(t, gw.hasNotice("complete"))
}
