package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/profilegov/internal/database/dbretry"
	"github.com/robalyx/profilegov/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SnapshotModel handles database operations for cached profile snapshots.
type SnapshotModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSnapshot creates a SnapshotModel.
func NewSnapshot(db *bun.DB, logger *zap.Logger) *SnapshotModel {
	return &SnapshotModel{
		db:     db,
		logger: logger.Named("db_snapshot"),
	}
}

// GetSnapshot retrieves the snapshot of a profile.
// Returns the row and true if found, or nil and false otherwise.
func (r *SnapshotModel) GetSnapshot(ctx context.Context, identity string) (*types.ProfileSnapshot, bool, error) {
	var row types.ProfileSnapshot

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		return r.db.NewSelect().
			Model(&row).
			Where("identity = ?", identity).
			Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to get snapshot for %s: %w", identity, err)
	}

	return &row, true, nil
}

// SaveSnapshot creates or overwrites the snapshot of a profile.
func (r *SnapshotModel) SaveSnapshot(ctx context.Context, row *types.ProfileSnapshot) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(row).
			On("CONFLICT (identity) DO UPDATE").
			Set("display_name = EXCLUDED.display_name").
			Set("biography = EXCLUDED.biography").
			Set("followers = EXCLUDED.followers").
			Set("following = EXCLUDED.following").
			Set("posts = EXCLUDED.posts").
			Set("avatar_url = EXCLUDED.avatar_url").
			Set("is_verified = EXCLUDED.is_verified").
			Set("is_private = EXCLUDED.is_private").
			Set("is_business = EXCLUDED.is_business").
			Set("last_full_sync_at = EXCLUDED.last_full_sync_at").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", row.Identity, err)
	}

	r.logger.Debug("Stored profile snapshot",
		zap.String("identity", row.Identity),
		zap.Time("lastFullSyncAt", row.LastFullSyncAt))

	return nil
}
