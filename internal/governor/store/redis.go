package store

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"github.com/robalyx/profilegov/internal/governor/types"
	"go.uber.org/zap"
)

// Redis stores snapshots as JSON strings under prefix+identity.
type Redis struct {
	client rueidis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis creates a Redis store.
func NewRedis(client rueidis.Client, prefix string, logger *zap.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger.Named("redis_store"),
	}
}

func (r *Redis) GetSnapshot(ctx context.Context, identity string) (*types.Snapshot, bool, error) {
	data, err := r.client.Do(ctx, r.client.B().Get().Key(r.key(identity)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to get snapshot for %s: %w", identity, err)
	}

	var snapshot types.Snapshot
	if err := sonic.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot for %s: %w", identity, err)
	}

	return &snapshot, true, nil
}

func (r *Redis) PutSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	data, err := sonic.MarshalString(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", snapshot.Identity, err)
	}

	err = r.client.Do(ctx, r.client.B().Set().Key(r.key(snapshot.Identity)).Value(data).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", snapshot.Identity, err)
	}

	r.logger.Debug("Stored profile snapshot", zap.String("identity", snapshot.Identity))

	return nil
}

func (r *Redis) key(identity string) string {
	return r.prefix + identity
}
