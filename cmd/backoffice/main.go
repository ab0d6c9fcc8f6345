package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store"
	"github.com/odyssey-erp/backoffice/jobs"
)

type auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	checks := map[string]app.HealthCheck{}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, running without cache", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}

	var (
		invRepo inventory.RepositoryPort
		salRepo sales.RepositoryPort
		expRepo expenses.RepositoryPort
		audit   auditor = shared.NewSlogAuditor(logger)
		idem    sales.IdempotencyPort
	)
	switch cfg.StoreDriver {
	case app.StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.PGMigrate {
			if err := store.Migrate(ctx, pool); err != nil {
				logger.Error("migrate postgres", slog.Any("error", err))
				os.Exit(1)
			}
		}
		pg := store.NewPostgres(pool)
		invRepo, salRepo, expRepo = pg.Inventory(), pg.Sales(), pg.Expenses()
		audit = shared.NewAuditLogger(pool)
		idem = shared.NewIdempotencyStore(pool)
		checks["postgres"] = pingPool(pool)
	default:
		mem := store.NewMemory()
		invRepo, salRepo, expRepo = mem.Inventory(), mem.Sales(), mem.Expenses()
		idem = shared.NewMemoryIdempotencyStore()
	}
	if redisClient != nil && cfg.StoreDriver != app.StorePostgres {
		idem = shared.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyRetention)
	}

	metrics := observability.NewMetrics()

	var estimates *inventory.Cache
	if redisClient != nil {
		estimates = inventory.NewCache(redisClient, cfg.EstimateCacheTTL)
	}
	inventoryService := inventory.NewService(invRepo, audit, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Cache:              estimates,
		Warnings:           metrics,
		Logger:             logger,
	}, estimates)
	expenseService := expenses.NewService(expRepo, audit, logger)
	salesService := sales.NewService(salRepo, expenseService, sales.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Idempotency:        idem,
		Audit:              audit,
		Listener:           estimates,
		Metrics:            metrics,
		Logger:             logger,
		ConflictRetries:    cfg.SaleConflictRetries,
	})

	var jobHandler *jobs.Handler
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, jobClient, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		SalesHandler:     sales.NewHandler(logger, salesService),
		ExpensesHandler:  expenses.NewHandler(logger, expenseService),
		JobHandler:       jobHandler,
		Metrics:          metrics,
		HealthChecks:     checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.Bool("allow_negative_stock", cfg.AllowNegativeStock),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func pingPool(pool *pgxpool.Pool) app.HealthCheck {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}
