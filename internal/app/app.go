package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/catalog"
	"github.com/antonvlasov/quizbot/internal/config"
	"github.com/antonvlasov/quizbot/internal/gateway"
	"github.com/antonvlasov/quizbot/internal/leaderboard"
	"github.com/antonvlasov/quizbot/internal/logging"
	"github.com/antonvlasov/quizbot/internal/score"
	"github.com/antonvlasov/quizbot/internal/server"
	"github.com/antonvlasov/quizbot/internal/session"
	"github.com/antonvlasov/quizbot/pkg/ws"
)

// Application aggregates shared infrastructure and the live quiz engine.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	catalog     *catalog.Service
	scores      *score.Store
	boards      *leaderboard.Service
	scheduler   *session.Scheduler
	ingester    *session.Ingester
	isAdmin     gateway.AdminPredicate
	broadcaster *leaderboard.Broadcaster

	bgCancels []context.CancelFunc
}

// New bootstraps config, logger, Postgres, Redis, the quiz engine, and the
// HTTP ops server. gw is the chat transport driving broadcasts; pass
// gateway.NewLogBroadcaster for a dry run.
func New(ctx context.Context, cfg *config.App, gw gateway.Broadcaster) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=10",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database, cfg.Postgres.SSLMode)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	catalogSvc := catalog.NewService(catalog.NewPGStore(pool), logger)

	hotStore := score.NewHotStore(redisClient, cfg.Session.HotScoreTTL, logger)
	ledger := score.NewPGLedger(pool)
	scores := score.NewStore(hotStore, ledger, logger, score.StoreOptions{
		LedgerRetries: cfg.Session.LedgerRetries,
	})

	boards := leaderboard.NewService(redisClient, catalogSvc, scores, logger, leaderboard.ServiceOptions{
		TopN:          cfg.Leaderboard.TopN,
		CacheTTL:      cfg.Leaderboard.CacheTTL,
		PubSubChannel: cfg.Leaderboard.PubSubChannel,
	})

	bindings := session.NewBindingStore(redisClient, cfg.Session.OpenPeriod+cfg.Session.GraceWindow, logger)
	scheduler := session.NewScheduler(catalogSvc, gw, bindings, scores, boards, logger, session.SchedulerOptions{
		OpenPeriod:  cfg.Session.OpenPeriod,
		GraceWindow: cfg.Session.GraceWindow,
		RetryBudget: cfg.Session.RetryBudget,
		RetryBase:   cfg.Session.RetryBase,
	})
	ingester := session.NewIngester(bindings, scores, boards, logger)

	hub := ws.NewHub(logger)
	broadcaster := leaderboard.NewBroadcaster(redisClient, boards, hub, cfg.Leaderboard.PubSubChannel, logger)

	apiServer := server.NewHTTPServer(cfg, logger, pool, redisClient, boards, hub)

	return &Application{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redis:       redisClient,
		http:        apiServer,
		catalog:     catalogSvc,
		scores:      scores,
		boards:      boards,
		scheduler:   scheduler,
		ingester:    ingester,
		isAdmin:     gateway.Allowlist(cfg.Admin.IDs),
		broadcaster: broadcaster,
		bgCancels:   make([]context.CancelFunc, 0, 1),
	}, nil
}

// Scheduler exposes the session engine to the embedding command layer.
func (a *Application) Scheduler() *session.Scheduler { return a.scheduler }

// Ingester exposes the answer path to the embedding command layer.
func (a *Application) Ingester() *session.Ingester { return a.ingester }

// Leaderboard exposes board reads and resets to the embedding command layer.
func (a *Application) Leaderboard() *leaderboard.Service { return a.boards }

// Catalog exposes quiz authoring and lookup to the embedding command layer.
func (a *Application) Catalog() *catalog.Service { return a.catalog }

// IsAdmin reports whether a user may run operator commands.
func (a *Application) IsAdmin(userID, chatID int64) bool { return a.isAdmin(userID, chatID) }

// Run starts the HTTP server and background workers, then waits for
// termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	// Stopping sessions runs their teardown, which reconciles hot
	// scores into the ledger before the stores close.
	if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("scheduler shutdown error")
	}

	for _, cancel := range a.bgCancels {
		cancel()
	}

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	if a.broadcaster != nil {
		bgCtx, cancel := context.WithCancel(ctx)
		a.bgCancels = append(a.bgCancels, cancel)
		go func() {
			if err := a.broadcaster.Run(bgCtx); err != nil && err != context.Canceled {
				a.logger.Warn().Err(err).Msg("leaderboard broadcaster stopped")
			}
		}()
	}
}
