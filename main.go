// Package main provides the entry point of the WhatsApp automation dispatch service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/amirphl/leadflow/app/connection"
	"github.com/amirphl/leadflow/app/handlers"
	"github.com/amirphl/leadflow/app/middleware"
	"github.com/amirphl/leadflow/app/quota"
	"github.com/amirphl/leadflow/app/router"
	"github.com/amirphl/leadflow/app/scheduler"
	"github.com/amirphl/leadflow/app/services"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/amirphl/leadflow/config"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/repository"
	"github.com/amirphl/leadflow/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	logger    *zap.Logger
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerOptions{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAge,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logger.Info("starting leadflow dispatch service",
		zap.String("env", cfg.Deployment.Environment),
		zap.String("version", cfg.Deployment.Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during http shutdown", zap.Error(err))
	}

	// Stop background workers in reverse start order
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}
	cancel()

	logger.Info("server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// initializePublisher connects the dispatch event publisher, falling back to a no-op one
func initializePublisher(cfg config.EventsConfig, logger *zap.Logger) services.EventPublisher {
	if !cfg.Enabled {
		return services.NoopPublisher{}
	}
	pub, err := services.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		logger.Warn("amqp publisher unavailable, dispatch events disabled", zap.Error(err))
		return services.NoopPublisher{}
	}
	return pub
}

func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, logger *zap.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := models.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	// a typed nil *redis.Client must not leak into the UniversalClient interfaces below
	var cache redis.UniversalClient
	if rc != nil {
		cache = rc
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
	}

	clock := utils.SystemClock{}

	// Repositories
	columnRepo := repository.NewAutomationColumnRepository(db)
	positionRepo := repository.NewLeadPositionRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	templateRepo := repository.NewMessageTemplateRepository(db)
	settingsRepo := repository.NewAutomationSettingsRepository(db)
	ledgerRepo := repository.NewSentMessageRepository(db)

	// Settings and quota
	settingsFlow := businessflow.NewAutomationSettingsFlow(settingsRepo, cache, cfg.Cache.RedisPrefix, logger.Named("settings"))

	var tracker quota.Tracker = quota.NewLedgerTracker(ledgerRepo)
	if cache != nil && cfg.Cache.QuotaInRedis {
		tracker = quota.NewRedisTracker(cache, cfg.Cache.RedisPrefix, ledgerRepo, logger.Named("quota"))
	}

	// Connection state machine
	connManager := connection.NewManager(clock, logger.Named("connection"))
	if err := connManager.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init connection state: %w", err)
	}
	if _, err := connManager.Subscribe(scheduler.ObserveConnectionState); err != nil {
		return nil, fmt.Errorf("failed to subscribe connection metrics: %w", err)
	}
	stopFuncs = append(stopFuncs, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = connManager.Shutdown(shutdownCtx)
	})

	// WhatsApp transport
	var (
		session   businessflow.SessionTransport
		transport scheduler.Transport
	)
	if cfg.WhatsApp.Enabled {
		wa, err := services.NewWhatsAppTransport(ctx, cfg.WhatsApp.StoreDSN, connManager, logger.Named("whatsapp"))
		if err != nil {
			return nil, fmt.Errorf("failed to init whatsapp transport: %w", err)
		}
		session, transport = wa, wa
		stopFuncs = append(stopFuncs, func() { _ = wa.Close() })
	} else {
		logger.Warn("whatsapp transport disabled; dispatch will park due leads as disconnected")
	}

	publisher := initializePublisher(cfg.Events, logger.Named("events"))
	stopFuncs = append(stopFuncs, func() { _ = publisher.Close() })

	// Business flows
	columnFlow := businessflow.NewAutomationColumnFlow(columnRepo, positionRepo, leadRepo, templateRepo, settingsFlow, clock, db, logger.Named("columns"))
	retryFlow := businessflow.NewRetryFlow(positionRepo, columnRepo, clock, logger.Named("retry"))
	connectionFlow := businessflow.NewConnectionFlow(connManager, session, tracker, settingsFlow, clock, logger.Named("connection"))

	var runner businessflow.DispatchRunner
	if cfg.Scheduler.Enabled {
		if transport == nil {
			transport = disconnectedTransport{}
		}
		sender := scheduler.NewSendExecutor(transport, templateRepo, ledgerRepo, publisher, cfg.WhatsApp.SendTimeout, clock, logger.Named("sender"))
		dispatcher := scheduler.NewDispatchScheduler(
			columnRepo,
			positionRepo,
			leadRepo,
			settingsFlow,
			connManager,
			tracker,
			sender,
			clock,
			cfg.Scheduler.TickInterval,
			logger,
		)
		stopFuncs = append(stopFuncs, dispatcher.Start(ctx))
		runner = dispatcher

		housekeeping, err := scheduler.NewHousekeeping(scheduler.HousekeepingConfig{
			PruneSpec:       cfg.Scheduler.PruneSpec,
			CacheHealthSpec: fmt.Sprintf("@every %s", cfg.Cache.HealthCheckPeriod),
			Location:        utils.LoadLocationOrUTC(cfg.Scheduler.Timezone),
		}, ledgerRepo, cache, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule housekeeping: %w", err)
		}
		stopFuncs = append(stopFuncs, housekeeping.Start())
	}
	dispatchFlow := businessflow.NewDispatchFlow(runner, tracker, settingsFlow, clock, logger.Named("dispatch"))

	if session != nil {
		if err := connectionFlow.Connect(ctx); err != nil {
			// the state machine carries the failure; the operator reconnects from the API
			logger.Error("initial whatsapp connect failed", zap.Error(err))
		}
	}

	// HTTP layer
	tokenService, err := services.NewTokenService(cfg.Admin.TokenTTL, cfg.Admin.Issuer, cfg.Admin.Audience, cfg.Admin.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to init token service: %w", err)
	}
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	automationHandler := handlers.NewAutomationHandler(columnFlow, retryFlow)
	controlHandler := handlers.NewControlHandler(settingsFlow, connectionFlow, dispatchFlow)

	appRouter := router.NewFiberRouter(router.Options{
		AllowOrigins:   cfg.Server.AllowOrigins,
		RateLimit:      cfg.Server.RateLimit,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		RequestLogs:    cfg.Server.RequestLogs,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ServiceVersion: cfg.Deployment.Version,
	}, authMiddleware, automationHandler, controlHandler, logger)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		logger:    logger,
		stopFuncs: stopFuncs,
	}, nil
}

// disconnectedTransport backs the executor when WhatsApp is disabled. The scheduler never
// reaches it because the connection state stays idle.
type disconnectedTransport struct{}

func (disconnectedTransport) SendMessage(ctx context.Context, phone, body string) error {
	return fmt.Errorf("whatsapp transport disabled")
}
