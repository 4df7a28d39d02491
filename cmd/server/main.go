package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	fulfillmentapp "github.com/thegunfirm/Mag-Lock-sub003/internal/application/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/cache"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/config"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/crm"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/logger"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/migration"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/scheduler"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/storage"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/telemetry"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/handler"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/middleware"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting fulfillment sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorURL,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.App.Name,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorURL,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.App.Name,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	syncMetrics, err := telemetry.NewSyncMetrics(mp.Meter("fulfillment.sync"))
	if err != nil {
		log.Fatal("Failed to register sync metrics", zap.Error(err))
	}

	// Database
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := prepareSchema(cfg, db, log); err != nil {
		log.Fatal("Failed to prepare schema", zap.Error(err))
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		DBSystem:   cfg.Database.Driver,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	// Group claims
	claims, err := cache.NewClaimStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore()
	if err != nil {
		log.Fatal("Failed to create claim store", zap.Error(err))
	}
	defer func() {
		_ = claims.Close()
	}()

	// CRM
	tokens, err := crm.NewOAuthTokenProvider(crm.TokenConfig{
		TokenURL:     cfg.CRM.TokenURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RefreshToken: cfg.CRM.RefreshToken,
		RefreshSlack: cfg.CRM.TokenRefreshSlack,
		Timeout:      cfg.CRM.Timeout,
	}, log.Named("crm.token"))
	if err != nil {
		log.Fatal("Invalid CRM token configuration", zap.Error(err))
	}
	crmClient, err := crm.NewHTTPClient(crm.ClientConfig{
		BaseURL:           cfg.CRM.BaseURL,
		Timeout:           cfg.CRM.Timeout,
		RequestsPerSecond: cfg.CRM.RequestsPerSecond,
		Burst:             cfg.CRM.Burst,
	}, tokens,
		crm.WithMetrics(syncMetrics),
		crm.WithClientLogger(log.Named("crm")),
	)
	if err != nil {
		log.Fatal("Invalid CRM configuration", zap.Error(err))
	}

	// Orchestrator
	opts := []fulfillmentapp.Option{
		fulfillmentapp.WithLogger(log.Named("sync")),
		fulfillmentapp.WithMetrics(syncMetrics),
	}
	if cfg.Archive.Enabled {
		archiver, err := storage.NewS3LedgerArchiver(ctx, &cfg.Archive, storage.WithLogger(log.Named("archive")))
		if err != nil {
			log.Fatal("Failed to create ledger archiver", zap.Error(err))
		}
		opts = append(opts, fulfillmentapp.WithArchiver(archiver))
	}

	orders := persistence.NewGormOrderRepository(db.DB)
	orchestrator := fulfillmentapp.NewOrchestrator(fulfillmentapp.Dependencies{
		Orders:  orders,
		Groups:  persistence.NewGormGroupRepository(db.DB),
		Deals:   persistence.NewGormDealRecordRepository(db.DB),
		Holds:   persistence.NewGormHoldRepository(db.DB),
		Dealers: persistence.NewGormDealerRegistry(db.DB),
		Ledger:  persistence.NewGormActivityLedger(db.DB),
		CRM:     crmClient,
		Claims:  claims,
		Evaluator: compliance.NewEvaluator(compliance.Rules{
			PerOrderLimit: cfg.Compliance.PerOrderRegulatedLimit,
			RollingLimit:  cfg.Compliance.RollingRegulatedLimit,
			RollingWindow: cfg.Compliance.RollingWindow,
		}),
	}, fulfillmentapp.Config{
		MaxConcurrentGroups: cfg.Sync.MaxConcurrentGroups,
		CallTimeout:         cfg.Sync.CallTimeout,
		ClaimTTL:            cfg.Sync.ClaimTTL,
		Retry: fulfillmentapp.RetryPolicy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseDelay:   cfg.Sync.BaseDelay,
			MaxDelay:    cfg.Sync.MaxDelay,
			Multiplier:  cfg.Sync.Multiplier,
			Jitter:      cfg.Sync.Jitter,
		},
	}, opts...)

	// Background sync
	var syncScheduler *scheduler.OrderSyncScheduler
	handlerOpts := []handler.FulfillmentHandlerOption{}
	if cfg.Sync.Enabled {
		schedCfg := scheduler.DefaultOrderSyncSchedulerConfig()
		schedCfg.Workers = cfg.Sync.Workers
		schedCfg.PollInterval = cfg.Sync.PollInterval
		schedCfg.BatchSize = cfg.Sync.BatchSize
		schedCfg.OrderTimeout = cfg.Sync.OrderTimeout
		if schedCfg.QueueSize < schedCfg.BatchSize {
			schedCfg.QueueSize = schedCfg.BatchSize * 2
		}
		syncScheduler, err = scheduler.NewOrderSyncScheduler(schedCfg, orders, orchestrator, log.Named("scheduler"))
		if err != nil {
			log.Fatal("Invalid scheduler configuration", zap.Error(err))
		}
		if err := syncScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		handlerOpts = append(handlerOpts, handler.WithOrderQueue(syncScheduler))
	} else {
		log.Warn("Background sync disabled; orders are processed only through POST /orders/:id/sync")
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	var metricsMW gin.HandlerFunc
	if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled {
		metricsMW, err = middleware.HTTPMetrics(mp.Meter("http.server"))
		if err != nil {
			log.Fatal("Failed to register HTTP metrics", zap.Error(err))
		}
	}
	engine := router.NewEngine(router.EngineConfig{
		Logger: log,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.App.Name,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Metrics:      metricsMW,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version).
		WithCheck("database", handler.PingerFunc(func(context.Context) error { return db.Ping() }))
	fulfillmentHandler := handler.NewFulfillmentHandler(orchestrator, handlerOpts...)

	router.NewRouter(engine).
		Register(systemHandler.Routes()).
		Register(fulfillmentHandler.Routes()).
		Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// in-flight passes stop at their next checkpoint; claims expire on their own
	if syncScheduler != nil {
		if err := syncScheduler.Stop(shutdownCtx); err != nil {
			log.Error("Scheduler did not stop cleanly", zap.Error(err))
		}
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Error("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// prepareSchema applies the embedded migrations on Postgres. SQLite databases
// are created from the gorm models.
func prepareSchema(cfg *config.Config, db *persistence.Database, log *zap.Logger) error {
	if cfg.Database.Driver == "sqlite" {
		return db.AutoMigrate()
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, log.Named("migrate"))
	if err != nil {
		return err
	}
	// closing the migrator would close the shared connection pool
	return m.Up()
}
