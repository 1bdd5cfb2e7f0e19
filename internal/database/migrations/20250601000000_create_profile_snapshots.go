package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/profilegov/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewCreateTable().
			Model((*types.ProfileSnapshot)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create profile_snapshots table: %w", err)
		}

		_, err = db.NewRaw(`
			CREATE INDEX IF NOT EXISTS idx_profile_snapshots_last_full_sync_at
			ON profile_snapshots (last_full_sync_at);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create profile_snapshots index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().
			Model((*types.ProfileSnapshot)(nil)).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop profile_snapshots table: %w", err)
		}

		return nil
	})
}
