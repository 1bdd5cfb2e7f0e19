package database

import (
	"github.com/robalyx/profilegov/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	snapshot *models.SnapshotModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		snapshot: models.NewSnapshot(db, logger),
	}
}

// Snapshot returns the profile snapshot model repository.
func (r *Repository) Snapshot() *models.SnapshotModel {
	return r.snapshot
}
