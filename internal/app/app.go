package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"resona/internal/config"
	"resona/internal/costs"
	"resona/internal/db"
	httpserver "resona/internal/http"
	"resona/internal/http/handlers"
	"resona/internal/ledger"
	"resona/internal/metrics"
	"resona/internal/redisclient"
	"resona/internal/store/postgres"
	"resona/internal/webhook"
)

// App wires credits service dependencies.
type App struct {
	server *httpserver.Server
	db     *sql.DB
	cache  *redis.Client
	logger *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	// Redis is optional: the cost cache and webhook fast path degrade to
	// database reads without it.
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache, err = redisclient.New(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", zap.Error(err))
			cache = nil
		}
	}

	store, err := postgres.New(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	systemPackageID, err := cfg.SystemPackageID()
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	m := metrics.New()
	costResolver := costs.New(store, cache, cfg.CostCacheTTL(), logger)
	ledgerService := ledger.NewService(store, costResolver, systemPackageID, m, logger)
	eventAdapter := webhook.New(ledgerService, store, cache, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Credits:   handlers.NewCreditHandlers(ledgerService, logger),
		Consume:   handlers.NewConsumeHandlers(ledgerService, logger),
		Transfers: handlers.NewTransferHandlers(ledgerService, logger),
		History:   handlers.NewHistoryHandlers(ledgerService, logger),
		Webhook:   handlers.NewWebhookHandler(eventAdapter, logger),
		Health:    handlers.NewHealthHandler(),
		Metrics:   m.Handler(),
		JWTSecret: cfg.JWT.Secret,
	})
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server: server,
		db:     sqlDB,
		cache:  cache,
		logger: logger,
	}, nil
}

// Run starts the HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
