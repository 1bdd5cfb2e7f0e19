package store

import (
	"context"

	"github.com/robalyx/profilegov/internal/database/models"
	dbtypes "github.com/robalyx/profilegov/internal/database/types"
	"github.com/robalyx/profilegov/internal/governor/types"
)

// Postgres stores snapshots in the profile_snapshots table.
type Postgres struct {
	model *models.SnapshotModel
}

// NewPostgres creates a Postgres store on top of the snapshot model.
func NewPostgres(model *models.SnapshotModel) *Postgres {
	return &Postgres{model: model}
}

func (p *Postgres) GetSnapshot(ctx context.Context, identity string) (*types.Snapshot, bool, error) {
	row, ok, err := p.model.GetSnapshot(ctx, identity)
	if err != nil || !ok {
		return nil, false, err
	}

	return row.Snapshot(), true, nil
}

func (p *Postgres) PutSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	return p.model.SaveSnapshot(ctx, dbtypes.NewProfileSnapshot(snapshot))
}
