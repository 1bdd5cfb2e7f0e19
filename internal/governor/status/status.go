package status

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// HeartbeatInterval is how often a running instance reports its queue.
	HeartbeatInterval = 10 * time.Second

	// HeartbeatTTL is how long a reported status remains valid.
	HeartbeatTTL = 10 * time.Minute

	// StaleThreshold is how long before an instance is considered gone.
	StaleThreshold = time.Minute

	keyPrefix = "profilegov:queue:"
)

// Status is the reported state of one running instance.
type Status struct {
	InstanceID         string    `json:"instanceId"`
	Service            string    `json:"service"`
	LastSeen           time.Time `json:"lastSeen"`
	Pending            int       `json:"pending"`
	Draining           bool      `json:"draining"`
	LastDispatchAt     time.Time `json:"lastDispatchAt"`
	DispatchesInWindow int       `json:"dispatchesInWindow"`
	Resolved           int64     `json:"resolved"`
	Failed             int64     `json:"failed"`
}

// IsStale reports whether the instance stopped reporting.
func (s *Status) IsStale(now time.Time) bool {
	return now.Sub(s.LastSeen) > StaleThreshold
}

// Monitor writes and reads instance statuses in Redis.
type Monitor struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewMonitor creates a new status monitor.
func NewMonitor(client rueidis.Client, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		logger: logger,
	}
}

// ReportStatus stores an instance's status with a TTL.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	status.LastSeen = time.Now()

	data, err := sonic.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := fmt.Sprintf("%s%s:%s", keyPrefix, status.Service, status.InstanceID)
	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(string(data)).Ex(HeartbeatTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// GetAllStatuses retrieves every reported status, most recent first.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	keys, err := m.client.Do(ctx, m.client.B().Keys().Pattern(keyPrefix+"*").Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to get status keys: %w", err)
	}

	statuses := make([]Status, 0, len(keys))

	for _, key := range keys {
		data, err := m.client.Do(ctx, m.client.B().Get().Key(key).Build()).AsBytes()
		if err != nil {
			m.logger.Error("Failed to get instance status", zap.String("key", key), zap.Error(err))
			continue
		}

		var status Status
		if err := sonic.Unmarshal(data, &status); err != nil {
			m.logger.Error("Failed to unmarshal instance status", zap.String("key", key), zap.Error(err))
			continue
		}

		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].LastSeen.After(statuses[j].LastSeen)
	})

	return statuses, nil
}
