// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/treeline-go/internal/application/container"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/coordination"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/presentation/http/server"
	"github.com/AtRiskMedia/treeline-go/pkg/config"
)

// Initialize performs the complete startup sequence
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("\033[32m" + `

  ▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄
   ██ ██▀▀ ██▀▀ ██▀▀ ██   ▄▄ ██▄ ██ ██▀▀
   ██ ██▀  ██▀  ██▀  ██   ██ ██ ▀██ ██▀
   ▀▀ ▀▀▀▀ ▀▀▀▀ ▀▀▀▀ ▀▀▀▀ ▀▀ ▀▀  ▀▀ ▀▀▀▀
` + "\033[97m" + `
  made by At Risk Media
` + "\033[0m")

	// Step 1: Channeled logging
	log.Println("Initializing...")
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Metrics registry
	metricsRegistry := metrics.New(nil)

	// Step 3: Database connection and schema
	logger.Startup().Info("Connecting to hierarchy store",
		"driver", config.DBDriver)
	db, err := database.NewConnectionWithLogger(config.DBDriver, config.DBDataSource, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to hierarchy store: %w", err)
	}
	if err := persistence.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to apply store schema: %w", err)
	}
	logger.Startup().Info("Hierarchy store ready")

	// Step 4: Cache tiers
	logger.Startup().Info("Initializing cache tiers",
		"l1Capacity", config.L1Capacity, "l2Path", config.L2Path, "l2InMemory", config.L2InMemory)
	localStore := stores.NewLocalStore(config.L1Capacity, metricsRegistry.CacheEviction)
	badgerStore, err := stores.NewBadgerStore(stores.BadgerConfig{
		Path:     config.L2Path,
		InMemory: config.L2InMemory,
	})
	if err != nil {
		return fmt.Errorf("failed to open shared cache: %w", err)
	}
	cacheManager := manager.NewManager(localStore, badgerStore, config.L2TTL, logger, metricsRegistry)

	// Step 5: Persistence services
	hierarchyStore := persistence.NewStore(db, logger)
	changeLog, err := persistence.NewChangeLog(ctx, db, logger, metricsRegistry)
	if err != nil {
		return fmt.Errorf("failed to initialize changelog: %w", err)
	}
	scheduleStore := persistence.NewScheduleStore(db)

	// Step 6: Refresh lock. Store-backed so multiple instances sharing
	// the database stay single-flight per view.
	refreshLock := coordination.NewStoreLock(db, config.LockTTL)

	// Step 7: Alert email (optional)
	var emailService email.Service
	if config.AlertEmailTo != "" {
		emailService, err = email.NewService(config.AlertEmailTo)
		if err != nil {
			logger.Startup().Warn("Alert email disabled", "error", err.Error())
			emailService = nil
		} else {
			logger.Startup().Info("Alert email enabled", "to", config.AlertEmailTo)
		}
	}

	// Step 8: Lock leak detector
	leakDetector := coordination.NewLeakDetector(refreshLock, persistence.RegisteredViews(),
		config.LockLeakThreshold, config.LeakSweepInterval, logger, metricsRegistry, emailService)

	// Step 9: Dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(container.Deps{
		DB:             db,
		CacheManager:   cacheManager,
		HierarchyStore: hierarchyStore,
		ChangeLog:      changeLog,
		ScheduleStore:  scheduleStore,
		RefreshLock:    refreshLock,
		LeakDetector:   leakDetector,
		EmailService:   emailService,
		Logger:         logger,
		Metrics:        metricsRegistry,
	})
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 10: Background workers
	logger.Startup().Info("Starting refresh scheduler...")
	if err := appContainer.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start refresh scheduler: %w", err)
	}
	go leakDetector.Start(ctx)

	// Step 11: HTTP server
	logger.Startup().Info("Starting HTTP server...")
	port := config.Port
	httpServer := server.New(port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"views", len(persistence.RegisteredViews()),
		"port", port)

	// Wait for shutdown signal
	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()

	// Stop accepting requests, then wind down background work.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	cancelBackgroundTasks()
	appContainer.Scheduler.Wait()
	logger.Shutdown().Info("Refresh scheduler stopped")

	if err := badgerStore.Close(); err != nil {
		logger.Shutdown().Error("Error closing shared cache", "error", err.Error())
	}
	if err := db.Close(); err != nil {
		logger.Shutdown().Error("Error closing hierarchy store", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return logger.Close()
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
