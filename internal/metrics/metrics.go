package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters mirror the bot's operational metrics: session lifecycle, answer
// ingestion, delivery health, and score-store behavior.
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizbot_sessions_started_total",
		Help: "Quiz sessions started.",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizbot_sessions_finished_total",
		Help: "Quiz sessions reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizbot_active_sessions",
		Help: "Currently running quiz sessions.",
	})

	AnswersScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizbot_answers_scored_total",
		Help: "First correct answers that earned a point.",
	})

	AnswersIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizbot_answers_ignored_total",
		Help: "Answer submissions discarded without scoring, by reason.",
	}, []string{"reason"})

	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizbot_delivery_retries_total",
		Help: "Question broadcast retries after transient gateway failures.",
	})

	ReconciledUsers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizbot_reconciled_users_total",
		Help: "Hot-tier score entries merged into the durable ledger.",
	})

	CacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizbot_cache_fallbacks_total",
		Help: "Score writes redirected to the durable tier because the hot tier was unavailable.",
	})
)
