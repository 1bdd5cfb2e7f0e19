package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/robalyx/profilegov/internal/database"
	"github.com/robalyx/profilegov/internal/governor/queue"
	"github.com/robalyx/profilegov/internal/governor/resolver"
	"github.com/robalyx/profilegov/internal/governor/status"
	"github.com/robalyx/profilegov/internal/governor/store"
	"github.com/robalyx/profilegov/internal/governor/types"
	"github.com/robalyx/profilegov/internal/profile"
	"github.com/robalyx/profilegov/internal/redis"
	"github.com/robalyx/profilegov/internal/setup/config"
	"github.com/robalyx/profilegov/internal/setup/telemetry"
	"go.uber.org/zap"
)

// ErrPendingMigrations is returned when the snapshot table is not up to date.
var ErrPendingMigrations = errors.New("database migrations are pending")

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config      // Application configuration
	Logger       *zap.Logger         // Main application logger
	DBLogger     *zap.Logger         // Database-specific logger
	DB           database.Client     // Database connection pool, nil unless the postgres backend is used
	RedisManager *redis.Manager      // Redis connection manager
	Store        types.SnapshotStore // Snapshot store of the configured backend
	Queue        *queue.Queue        // Request queue pacing every profile-data call
	Resolver     *resolver.Resolver  // Cache freshness resolver
	Reporter     *status.Reporter    // Queue status reporter, nil unless enabled
	LogManager   *telemetry.Manager  // Log management system
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir string) (*App, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	return InitializeAppWithConfig(ctx, cfg, serviceType, logDir)
}

// InitializeAppWithConfig is InitializeApp with an already loaded configuration.
func InitializeAppWithConfig(
	ctx context.Context, cfg *config.Config, serviceType telemetry.ServiceType, logDir string,
) (*App, error) {
	// Logging system is initialized first to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Debug)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:     cfg,
		Logger:     logger,
		DBLogger:   dbLogger.Named("database"),
		LogManager: logManager,
	}

	// Redis manager connects lazily, so it costs nothing when unused
	app.RedisManager = redis.NewManager(&cfg.Redis, logger)

	if cfg.Cache.Backend == config.BackendPostgres {
		app.DB, err = checkMigrations(ctx, &cfg.PostgreSQL, app.DBLogger)
		if err != nil {
			app.Cleanup(ctx)
			return nil, err
		}
	}

	app.Store, err = store.New(cfg, store.Deps{RedisManager: app.RedisManager, DB: app.DB}, logger)
	if err != nil {
		app.Cleanup(ctx)
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	app.Queue = queue.New(QueueConfig(&cfg.Queue), logger)
	client := profile.NewClient(&cfg.ProfileService, &cfg.CircuitBreaker, logger)
	app.Resolver = resolver.New(app.Queue, client, app.Store, ResolverConfig(&cfg.Cache), logger)

	if cfg.Debug.ReportStatus {
		statusClient, err := app.RedisManager.GetClient(redis.DiagnosticsDBIndex)
		if err != nil {
			logger.Error("Failed to create status client, queue status will not be reported", zap.Error(err))
		} else {
			app.Reporter = status.NewReporter(
				statusClient, app.Queue, logManager.GetInstanceID(), serviceType.String(), logger,
			)
			app.Reporter.Start(ctx)
		}
	}

	logger.Info("Application initialized",
		zap.String("backend", cfg.Cache.Backend),
		zap.Bool("coalesce", cfg.Cache.Coalesce),
		zap.Int("maxPerWindow", cfg.Queue.MaxPerWindow),
		zap.Int("minIntervalMs", cfg.Queue.MinInterval))

	return app, nil
}

// QueueConfig converts the millisecond values of the config file.
func QueueConfig(cfg *config.Queue) queue.Config {
	return queue.Config{
		MaxPerWindow: cfg.MaxPerWindow,
		Window:       time.Duration(cfg.Window) * time.Millisecond,
		MinInterval:  time.Duration(cfg.MinInterval) * time.Millisecond,
		PollInterval: time.Duration(cfg.PollInterval) * time.Millisecond,
		RequestDelay: time.Duration(cfg.RequestDelay) * time.Millisecond,
		ItemTimeout:  time.Duration(cfg.ItemTimeout) * time.Millisecond,
	}
}

// ResolverConfig converts the cache section of the config file.
func ResolverConfig(cfg *config.Cache) resolver.Config {
	return resolver.Config{
		StalenessThreshold: cfg.StalenessThreshold(),
		Coalesce:           cfg.Coalesce,
		BatchConcurrency:   cfg.BatchConcurrency,
	}
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	if s.Reporter != nil {
		s.Reporter.Stop(ctx)
	}

	// Pending requests are failed, the in-flight one is awaited
	if s.Queue != nil {
		s.Queue.Close()
	}

	if closer, ok := s.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.Logger.Error("Failed to close snapshot store", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Printf("Failed to close database connection: %v", err)
		}
	}

	// Close Redis connections after everything that may still write to it
	if s.RedisManager != nil {
		s.RedisManager.Close()
	}

	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	if err := s.LogManager.Close(); err != nil {
		log.Printf("Failed to close log files: %v", err)
	}
}

// checkMigrations connects to the database and makes sure the schema is current.
// Pending migrations are applied when auto_migrate is set, otherwise startup fails.
func checkMigrations(ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger) (database.Client, error) {
	db, err := database.NewConnection(ctx, cfg, dbLogger, false)
	if err != nil {
		return nil, err
	}

	pending, err := database.PendingMigrations(ctx, db.DB())
	if err != nil {
		db.Close()
		return nil, err
	}

	if len(pending) == 0 {
		return db, nil
	}

	if !cfg.AutoMigrate {
		db.Close()
		return nil, fmt.Errorf("%w: %s (run `governor migrate` or set postgresql.auto_migrate)",
			ErrPendingMigrations, strings.Join(pending, ", "))
	}

	if err := database.Migrate(ctx, db.DB(), dbLogger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
