package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/server/handler"
	"github.com/goosemarket/marketd/internal/server/middleware"
	"github.com/goosemarket/marketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// ServiceKeyHash is the bcrypt hash the gateway's service key is
	// compared against. Empty disables service authentication.
	ServiceKeyHash string

	// AdminUserIDs are granted the admin flag regardless of their
	// account record.
	AdminUserIDs []string

	// RateLimit caps requests per client IP per minute. Zero disables
	// the middleware.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Prices      *handler.PriceHandler
	Trades      *handler.TradeHandler
	Positions   *handler.PositionHandler
	Leaderboard *handler.LeaderboardHandler
	Users       *handler.UserHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API for the prediction market engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered and the middleware
// chain (CORS, logging, service auth, identity, rate limit) applied.
func New(
	cfg Config,
	handlers Handlers,
	accounts middleware.AccountEnsurer,
	limiter domain.RateLimiter,
	wsHub *ws.Hub,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/price", handlers.Prices.GetPrice)
	mux.HandleFunc("GET /api/markets/{id}/estimate", handlers.Prices.Estimate)
	mux.HandleFunc("GET /api/tags", handlers.Markets.ListTags)
	mux.HandleFunc("GET /api/leaderboard", handlers.Leaderboard.GetLeaderboard)

	// Identity-bearing endpoints.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("PUT /api/markets/{id}", handlers.Markets.UpdateMarket)
	mux.HandleFunc("POST /api/markets/{id}/trades", handlers.Trades.ExecuteTrade)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/users/me", handlers.Users.Me)

	// Operator endpoints.
	mux.HandleFunc("GET /api/admin/markets/pending", handlers.Admin.ListPending)
	mux.HandleFunc("GET /api/admin/markets/unresolved", handlers.Admin.ListUnresolved)
	mux.HandleFunc("POST /api/admin/markets/{id}/approve", handlers.Admin.Approve)
	mux.HandleFunc("POST /api/admin/markets/{id}/reject", handlers.Admin.Reject)
	mux.HandleFunc("POST /api/admin/markets/{id}/close", handlers.Admin.ForceClose)
	mux.HandleFunc("POST /api/admin/markets/{id}/resolve", handlers.Admin.Resolve)
	mux.HandleFunc("GET /api/admin/markets/{id}/archive", handlers.Admin.GetArchive)
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.ResolveIdentity(accounts, cfg.AdminUserIDs, logger)(h)
	h = middleware.ServiceAuth(cfg.ServiceKeyHash)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
