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

	"github.com/meridian-mes/meridian-mes/internal/app"
	"github.com/meridian-mes/meridian-mes/internal/audit"
	audithttp "github.com/meridian-mes/meridian-mes/internal/audit/http"
	"github.com/meridian-mes/meridian-mes/internal/bom"
	"github.com/meridian-mes/meridian-mes/internal/masterdata"
	"github.com/meridian-mes/meridian-mes/internal/observability"
	"github.com/meridian-mes/meridian-mes/internal/platform/cache"
	"github.com/meridian-mes/meridian-mes/internal/platform/db"
	"github.com/meridian-mes/meridian-mes/jobs"
)

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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	productsRepo := masterdata.NewRepository(dbpool)
	productsService := masterdata.NewService(productsRepo)
	productsHandler := masterdata.NewHandler(logger, productsService)

	recalcClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := recalcClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	bomStore := bom.NewPGBOMStore(dbpool)
	itemStore := bom.NewPGItemStore(dbpool)
	historyStore := bom.NewPGHistoryStore(dbpool)

	cycleCache := bom.NewRedisCycleCache(redisClient, "bom:cycle:", cfg.BOMCycleCacheTTL)
	cycleChecker := bom.NewCycleChecker(bomStore, itemStore, cycleCache, logger)

	policy := bom.DefaultPolicy()
	policy.MaxCycleDepth = cfg.BOMCycleMaxDepth
	policy.UnforcedChangeLimit = cfg.BOMUnforcedChangeLimit
	policy.CriticalCostThreshold = cfg.BOMCriticalCostThreshold

	bomService := bom.NewService(
		bom.Stores{BOMs: bomStore, Items: itemStore, History: historyStore},
		bom.Collaborators{
			Products:  masterdata.NewBOMCatalog(productsService),
			Usage:     bom.NewPGUsageChecker(dbpool),
			Presenter: bom.NewLabelPresenter(),
			Recalc:    recalcClient,
		},
		cycleChecker,
		policy,
		logger,
	)
	bomHandler := bom.NewHandler(logger, bomService)

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audithttp.NewHandler(logger, auditService, audit.NewCSVExporter())

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BOMHandler:      bomHandler,
		ProductsHandler: productsHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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
