package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/profilegov/internal/governor/types"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS profile_snapshots (
		identity TEXT PRIMARY KEY,
		stable TEXT NOT NULL,
		last_full_sync_at INTEGER NOT NULL
	)
`

// SQLite stores snapshots in a local database file.
// Stable fields are kept as a JSON document, the sync time as unix nanoseconds.
type SQLite struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	logger *zap.Logger
}

// OpenSQLite opens or creates the database at path and ensures the schema exists.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate|sqlite.OpenReadWrite|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := sqlitex.Execute(conn, sqliteSchema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLite{
		conn:   conn,
		logger: logger.Named("sqlite_store"),
	}, nil
}

func (s *SQLite) GetSnapshot(ctx context.Context, identity string) (*types.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	var (
		found    bool
		stable   string
		syncedAt int64
	)

	err := sqlitex.Execute(s.conn,
		"SELECT stable, last_full_sync_at FROM profile_snapshots WHERE identity = ?",
		&sqlitex.ExecOptions{
			Args: []any{identity},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				stable = stmt.ColumnText(0)
				syncedAt = stmt.ColumnInt64(1)

				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot for %s: %w", identity, err)
	}

	if !found {
		return nil, false, nil
	}

	snapshot := &types.Snapshot{
		Identity:       identity,
		LastFullSyncAt: time.Unix(0, syncedAt).UTC(),
	}

	if err := sonic.UnmarshalString(stable, &snapshot.Stable); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot for %s: %w", identity, err)
	}

	return snapshot, true, nil
}

func (s *SQLite) PutSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	stable, err := sonic.MarshalString(snapshot.Stable)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", snapshot.Identity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	err = sqlitex.Execute(s.conn, `
		INSERT INTO profile_snapshots (identity, stable, last_full_sync_at) VALUES (?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			stable = excluded.stable,
			last_full_sync_at = excluded.last_full_sync_at
	`, &sqlitex.ExecOptions{
		Args: []any{snapshot.Identity, stable, snapshot.LastFullSyncAt.UnixNano()},
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", snapshot.Identity, err)
	}

	s.logger.Debug("Stored profile snapshot", zap.String("identity", snapshot.Identity))

	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.Close()
}
