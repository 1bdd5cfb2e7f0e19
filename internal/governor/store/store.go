package store

import (
	"errors"
	"fmt"

	"github.com/robalyx/profilegov/internal/database"
	"github.com/robalyx/profilegov/internal/governor/types"
	"github.com/robalyx/profilegov/internal/redis"
	"github.com/robalyx/profilegov/internal/setup/config"
	"go.uber.org/zap"
)

// ErrMissingDependency is returned when the configured backend has no connection to use.
var ErrMissingDependency = errors.New("snapshot store dependency not provided")

// Deps are the connections a backend may need. Only the one matching the backend is required.
type Deps struct {
	RedisManager *redis.Manager
	DB           database.Client
}

// New opens the snapshot store selected by cfg.Cache.Backend.
// Stores holding their own resources implement io.Closer.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (types.SnapshotStore, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory, "":
		return NewMemory(), nil

	case config.BackendRedis:
		if deps.RedisManager == nil {
			return nil, fmt.Errorf("%w: redis manager", ErrMissingDependency)
		}

		client, err := deps.RedisManager.GetClient(redis.SnapshotDBIndex)
		if err != nil {
			return nil, err
		}

		return NewRedis(client, cfg.Cache.KeyPrefix, logger), nil

	case config.BackendPostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: database client", ErrMissingDependency)
		}

		return NewPostgres(deps.DB.Model().Snapshot()), nil

	case config.BackendSQLite:
		sqliteStore, err := OpenSQLite(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}

		return sqliteStore, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Cache.Backend)
	}
}
