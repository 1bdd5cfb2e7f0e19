package setup_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/robalyx/profilegov/internal/governor/status"
	"github.com/robalyx/profilegov/internal/governor/store"
	"github.com/robalyx/profilegov/internal/redis"
	"github.com/robalyx/profilegov/internal/setup"
	"github.com/robalyx/profilegov/internal/setup/config"
	"github.com/robalyx/profilegov/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueConfig(t *testing.T) {
	t.Parallel()

	got := setup.QueueConfig(&config.Default().Queue)

	assert.Equal(t, 10, got.MaxPerWindow)
	assert.Equal(t, time.Minute, got.Window)
	assert.Equal(t, 3*time.Second, got.MinInterval)
	assert.Equal(t, 250*time.Millisecond, got.PollInterval)
	assert.Zero(t, got.RequestDelay)
	assert.Equal(t, 30*time.Second, got.ItemTimeout)
}

func TestResolverConfig(t *testing.T) {
	t.Parallel()

	cache := config.Default().Cache
	cache.Coalesce = true

	got := setup.ResolverConfig(&cache)
	assert.Equal(t, 7*24*time.Hour, got.StalenessThreshold)
	assert.True(t, got.Coalesce)
	assert.Equal(t, 4, got.BatchConcurrency)
}

func TestInitializeMemoryBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.ProfileService.BaseURL = "http://127.0.0.1:1"

	app, err := setup.InitializeAppWithConfig(t.Context(), cfg, telemetry.ServiceResolve, t.TempDir())
	require.NoError(t, err)

	assert.IsType(t, &store.Memory{}, app.Store)
	assert.Nil(t, app.DB)
	assert.Nil(t, app.Reporter)
	require.NotNil(t, app.Resolver)

	app.Cleanup(context.Background())

	// The queue is closed with the app
	_, err = app.Queue.Submit(t.Context(), "natgeo", "profile.full", func(context.Context) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestInitializeRedisBackendReportsStatus(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Cache.Backend = config.BackendRedis
	cfg.Debug.ReportStatus = true
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = portOf(t, mr)
	cfg.Redis.DisableCache = true

	app, err := setup.InitializeAppWithConfig(t.Context(), cfg, telemetry.ServiceWarm, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &store.Redis{}, app.Store)
	require.NotNil(t, app.Reporter)

	app.Cleanup(context.Background())

	// Cleanup writes a final status before closing Redis
	checker := redis.NewManager(&cfg.Redis, zap.NewNop())
	t.Cleanup(checker.Close)

	client, err := checker.GetClient(redis.DiagnosticsDBIndex)
	require.NoError(t, err)

	statuses, err := status.NewMonitor(client, zap.NewNop()).GetAllStatuses(t.Context())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, telemetry.ServiceWarm.String(), statuses[0].Service)
	assert.Equal(t, app.LogManager.GetInstanceID(), statuses[0].InstanceID)
}

func TestInitializeSQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Cache.Backend = config.BackendSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "snapshots.db")

	app, err := setup.InitializeAppWithConfig(t.Context(), cfg, telemetry.ServiceResolve, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &store.SQLite{}, app.Store)

	app.Cleanup(context.Background())
}

func portOf(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	return port
}
