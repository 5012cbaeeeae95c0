// Package app owns the application lifecycle: it wires the stores,
// caches, object storage, and notification channels, builds the service
// layer, and supervises the HTTP server, WebSocket hub, and close
// sweeper until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goosemarket/marketd/internal/config"
	"github.com/goosemarket/marketd/internal/server"
	"github.com/goosemarket/marketd/internal/server/handler"
	"github.com/goosemarket/marketd/internal/server/ws"
	"github.com/goosemarket/marketd/internal/service"
)

// App is the root application object. It owns the configuration,
// logger, and the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, builds the services and HTTP surface, and
// blocks until the context is cancelled or a supervised goroutine
// fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	logger := a.logger

	// --- Services ---
	accountSvc := service.NewAccountService(
		deps.Accounts, deps.Ranking, a.cfg.Market.StartingBalanceCents,
		logger.With(slog.String("component", "account_service")),
	)
	marketSvc := service.NewMarketService(
		deps.Markets, deps.Accounts, deps.RateLimiter, deps.MarketCache,
		deps.SignalBus, deps.Audit, deps.Notifier,
		service.MarketConfig{
			DefaultLiquidityB: a.cfg.Market.DefaultLiquidityB,
			CreatesPerDay:     a.cfg.Market.CreatesPerDay,
		},
		logger.With(slog.String("component", "market_service")),
	)
	tradeSvc := service.NewTradeService(
		deps.Ledger, deps.Ranking, deps.PriceCache, deps.MarketCache, deps.SignalBus, deps.Audit,
		logger.With(slog.String("component", "trade_service")),
	)
	priceSvc := service.NewPriceService(
		deps.Markets, deps.MarketCache,
		logger.With(slog.String("component", "price_service")),
	)
	positionSvc := service.NewPositionService(
		deps.Position, deps.Markets, deps.MarketCache,
		logger.With(slog.String("component", "position_service")),
	)
	leaderboardSvc := service.NewLeaderboardService(
		deps.Ranking, deps.Accounts,
		logger.With(slog.String("component", "leaderboard_service")),
	)

	var archiver service.SettlementArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	resolutionSvc := service.NewResolutionService(
		deps.Ledger, deps.Markets, deps.Accounts, deps.Trades, deps.Ranking,
		deps.MarketCache, deps.LockManager, deps.SignalBus, deps.Audit,
		deps.Notifier, archiver,
		logger.With(slog.String("component", "resolution_service")),
	)

	// The ranking index is volatile; resync it from the accounts table
	// before serving reads.
	if err := leaderboardSvc.RebuildFromAccounts(ctx); err != nil {
		return fmt.Errorf("app: rebuild ranking index: %w", err)
	}

	// --- HTTP surface ---
	handlerLogger := logger.With(slog.String("component", "handler"))
	var archiveReader handler.ArchiveReader
	if deps.ArchiveReader != nil {
		archiveReader = deps.ArchiveReader
	}
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, handlerLogger),
		Markets:     handler.NewMarketHandler(marketSvc, handlerLogger),
		Prices:      handler.NewPriceHandler(priceSvc, handlerLogger),
		Trades:      handler.NewTradeHandler(tradeSvc, handlerLogger),
		Positions:   handler.NewPositionHandler(positionSvc, handlerLogger),
		Leaderboard: handler.NewLeaderboardHandler(leaderboardSvc, handlerLogger),
		Users:       handler.NewUserHandler(accountSvc, handlerLogger),
		Admin:       handler.NewAdminHandler(marketSvc, resolutionSvc, deps.Audit, archiveReader, handlerLogger),
	}

	hub := ws.NewHub(deps.SignalBus, logger.With(slog.String("component", "ws")))

	srv := server.New(
		server.Config{
			Port:           a.cfg.Server.Port,
			CORSOrigins:    a.cfg.Server.CORSOrigins,
			ServiceKeyHash: a.cfg.Server.ServiceKeyHash,
			AdminUserIDs:   a.cfg.Server.AdminUserIDs,
			RateLimit:      a.cfg.Server.RateLimitPerMin,
		},
		handlers,
		accountSvc,
		deps.RateLimiter,
		hub,
		logger.With(slog.String("component", "server")),
	)

	// --- Supervision ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.runCloseSweeper(gctx, marketSvc)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// runCloseSweeper periodically persists Active -> Closed transitions
// for markets whose close time has passed. Trade and resolve paths do
// not depend on it; it keeps listings and stored status honest.
func (a *App) runCloseSweeper(ctx context.Context, markets *service.MarketService) error {
	interval := a.cfg.Market.SweepInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			closed, err := markets.CloseDueSweep(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "close sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if closed > 0 {
				a.logger.InfoContext(ctx, "close sweep",
					slog.Int("markets_closed", closed),
				)
			}
		}
	}
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
