package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robalyx/profilegov/internal/database"
	"github.com/robalyx/profilegov/internal/database/migrations"
	"github.com/robalyx/profilegov/internal/governor/status"
	"github.com/robalyx/profilegov/internal/redis"
	"github.com/robalyx/profilegov/internal/setup/config"
	"github.com/robalyx/profilegov/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the PostgreSQL snapshot schema",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return withMigrator(ctx, func(migrator *migrate.Migrator, logger *zap.Logger) error {
				if err := migrator.Lock(ctx); err != nil {
					return err
				}
				defer migrator.Unlock(ctx) //nolint:errcheck

				group, err := migrator.Migrate(ctx)
				if err != nil {
					return err
				}

				if group.IsZero() {
					logger.Info("No new migrations to run (database is up to date)")
					return nil
				}

				logger.Info("Successfully migrated", zap.String("group", group.String()))

				return nil
			})
		},
		Commands: []*cli.Command{
			{
				Name:  "rollback",
				Usage: "Rollback the last migration group",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return withMigrator(ctx, func(migrator *migrate.Migrator, logger *zap.Logger) error {
						if err := migrator.Lock(ctx); err != nil {
							return err
						}
						defer migrator.Unlock(ctx) //nolint:errcheck

						group, err := migrator.Rollback(ctx)
						if err != nil {
							return err
						}

						if group.IsZero() {
							logger.Info("No groups to roll back")
							return nil
						}

						logger.Info("Successfully rolled back", zap.String("group", group.String()))

						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "Show migration status",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return withMigrator(ctx, func(migrator *migrate.Migrator, logger *zap.Logger) error {
						ms, err := migrator.MigrationsWithStatus(ctx)
						if err != nil {
							return err
						}

						logger.Info("Migration status",
							zap.String("migrations", ms.String()),
							zap.String("unapplied", ms.Unapplied().String()),
							zap.String("last_group", ms.LastGroup().String()))

						return nil
					})
				},
			},
		},
	}
}

// withMigrator connects to the configured database and runs fn with an initialized migrator.
func withMigrator(ctx context.Context, fn func(*migrate.Migrator, *zap.Logger) error) error {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logManager := telemetry.NewManager(telemetry.ServiceMigrate, GovernorLogDir, &cfg.Debug)
	defer logManager.Close()

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, &cfg.PostgreSQL, dbLogger.Named("database"), false)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	migrator := migrate.NewMigrator(db.DB(), migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	return fn(migrator, logger)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the queue state reported by running instances",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, _, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			return showStatus(ctx, cfg, GovernorLogDir, os.Stdout)
		},
	}
}

// showStatus prints one line per instance that reported its queue state.
func showStatus(ctx context.Context, cfg *config.Config, logDir string, w io.Writer) error {
	logManager := telemetry.NewManager(telemetry.ServiceStatus, logDir, &cfg.Debug)
	defer logManager.Close()

	logger, _, err := logManager.GetLoggers()
	if err != nil {
		return err
	}

	manager := redis.NewManager(&cfg.Redis, logger)
	defer manager.Close()

	client, err := manager.GetClient(redis.DiagnosticsDBIndex)
	if err != nil {
		return err
	}

	statuses, err := status.NewMonitor(client, logger).GetAllStatuses(ctx)
	if err != nil {
		return err
	}

	logger.Debug("Loaded instance statuses", zap.Int("count", len(statuses)))

	if len(statuses) == 0 {
		fmt.Fprintln(w, "No instance has reported its queue state")
		return nil
	}

	now := time.Now()
	for _, s := range statuses {
		state := "running"
		if s.IsStale(now) {
			state = "stale"
		}

		fmt.Fprintf(w, "%s %-8s %-7s pending=%d draining=%t window=%d resolved=%d failed=%d seen=%s ago\n",
			s.InstanceID, strings.ToUpper(s.Service), state,
			s.Pending, s.Draining, s.DispatchesInWindow, s.Resolved, s.Failed,
			now.Sub(s.LastSeen).Round(time.Second))
	}

	return nil
}
