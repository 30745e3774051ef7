package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/antonvlasov/quizbot/internal/catalog"
	"github.com/antonvlasov/quizbot/internal/config"
	"github.com/antonvlasov/quizbot/internal/leaderboard"
	httperrors "github.com/antonvlasov/quizbot/pkg/http/errors"
	"github.com/antonvlasov/quizbot/pkg/ws"
)

// WSUpgrader handles WebSocket upgrades for the spectator stream.
var WSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewHTTPServer wires the ops surface: health, metrics, leaderboard reads,
// and the spectator WebSocket stream.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, boards *leaderboard.Service, hub *ws.Hub) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pingDependencies(r.Context(), pool, redisClient); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			httperrors.RespondError(w, http.StatusServiceUnavailable, httperrors.ErrCodeServiceUnavailable, "dependency unavailable")
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/leaderboards/", handleGetLeaderboard(boards, logger))

	mux.HandleFunc("/ws/leaderboard", handleLeaderboardStream(hub, logger))

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func handleGetLeaderboard(boards *leaderboard.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httperrors.RespondError(w, http.StatusMethodNotAllowed, httperrors.ErrCodeInvalidRequest, "GET only")
			return
		}
		ref := strings.TrimPrefix(r.URL.Path, "/v1/leaderboards/")
		if ref == "" {
			httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "missing quiz reference")
			return
		}

		board, err := boards.Get(r.Context(), ref)
		if err != nil {
			var ambiguous *catalog.AmbiguousError
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "no quiz matches "+ref)
			case errors.As(err, &ambiguous):
				httperrors.RespondErrorWithDetails(w, http.StatusBadRequest, httperrors.ErrCodeAmbiguous, ambiguous.Error(), map[string]interface{}{
					"candidates": ambiguous.Candidates,
				})
			default:
				logger.Error().Err(err).Str("ref", ref).Msg("leaderboard fetch failed")
				httperrors.RespondInternalError(w, "leaderboard fetch failed")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, board, logger)
	}
}

func handleLeaderboardStream(hub *ws.Hub, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := WSUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("ws upgrade failed")
			return
		}
		id := hub.Register(conn)
		defer hub.Unregister(id)

		// Read loop: keeps the connection alive and detects closes;
		// inbound payloads are ignored.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func pingDependencies(ctx context.Context, pool *pgxpool.Pool, redisClient *redis.Client) error {
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}, logger zerolog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("response encode failed")
	}
}
