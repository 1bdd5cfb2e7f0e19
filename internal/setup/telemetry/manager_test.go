package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/profilegov/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggersCreatesSession(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	lm := NewManager(ServiceResolve, logDir, &config.Debug{LogLevel: "debug", MaxLogsToKeep: 3, MaxLogLines: 100})
	t.Cleanup(func() { lm.Close() })

	mainLogger, dbLogger, err := lm.GetLoggers()
	require.NoError(t, err)

	mainLogger.Info("hello from main")
	dbLogger.Info("hello from database")

	data, err := os.ReadFile(filepath.Join(lm.GetCurrentSessionDir(), "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from main")
	assert.Contains(t, string(data), lm.GetInstanceID())

	data, err = os.ReadFile(filepath.Join(lm.GetCurrentSessionDir(), "database.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from database")
}

func TestGetLoggersInvalidLevel(t *testing.T) {
	t.Parallel()

	lm := NewManager(ServiceWarm, t.TempDir(), &config.Debug{LogLevel: "loud", MaxLogsToKeep: 3})
	t.Cleanup(func() { lm.Close() })

	_, _, err := lm.GetLoggers()
	require.Error(t, err)
}

func TestRotateLogSessions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	for i, name := range []string{"oldest", "older", "old", "recent"} {
		dir := filepath.Join(logDir, name)
		require.NoError(t, os.Mkdir(dir, os.ModePerm))

		modTime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, modTime, modTime))
	}

	lm := NewManager(ServiceResolve, logDir, &config.Debug{MaxLogsToKeep: 3})
	require.NoError(t, lm.rotateLogSessions())

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	// Room is left for the new session
	assert.ElementsMatch(t, []string{"old", "recent"}, names)
}

func TestComponent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application", component(""))
	assert.Equal(t, "queue", component("queue"))
	assert.Equal(t, "resolver", component("resolver.batch"))
}
