package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"quizbot"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres    Postgres
	Redis       Redis
	Session     Session
	Leaderboard Leaderboard
	Admin       Admin
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Redis holds cache configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Session groups live-quiz runtime defaults.
type Session struct {
	OpenPeriod    time.Duration `env:"QUESTION_OPEN_SECONDS" envDefault:"30s"`
	GraceWindow   time.Duration `env:"ANSWER_GRACE_SECONDS" envDefault:"5s"`
	RetryBudget   int           `env:"DELIVERY_RETRY_BUDGET" envDefault:"3"`
	RetryBase     time.Duration `env:"DELIVERY_RETRY_BASE" envDefault:"500ms"`
	HotScoreTTL   time.Duration `env:"HOT_SCORE_TTL" envDefault:"24h"`
	LedgerRetries int           `env:"LEDGER_RETRY_ATTEMPTS" envDefault:"5"`
}

// Leaderboard governs ranking output and snapshot caching.
type Leaderboard struct {
	TopN          int           `env:"LEADERBOARD_TOP" envDefault:"10"`
	CacheTTL      time.Duration `env:"LEADERBOARD_CACHE_TTL" envDefault:"60s"`
	PubSubChannel string        `env:"LEADERBOARD_CHANNEL" envDefault:"quiz:lb:updates"`
}

// Admin holds the operator allowlist. Users outside the list may answer
// questions but cannot start, stop, or reset quizzes.
type Admin struct {
	IDs []int64 `env:"ADMIN_IDS" envSeparator:","`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
