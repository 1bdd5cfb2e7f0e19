package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/rueidis"
	"github.com/robalyx/profilegov/internal/governor/queue"
	"go.uber.org/zap"
)

// StateSource is anything exposing a queue state.
type StateSource interface {
	State() queue.State
}

// Reporter periodically reports the state of a queue.
type Reporter struct {
	monitor    *Monitor
	source     StateSource
	instanceID string
	service    string
	interval   time.Duration
	resolved   atomic.Int64
	failed     atomic.Int64
	stopChan   chan struct{}
	done       chan struct{}
	started    bool
	stopped    bool
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewReporter creates a new status reporter for an instance.
func NewReporter(
	client rueidis.Client, source StateSource, instanceID, service string, logger *zap.Logger,
) *Reporter {
	logger = logger.Named("status_reporter")

	return &Reporter{
		monitor:    NewMonitor(client, logger),
		source:     source,
		instanceID: instanceID,
		service:    service,
		interval:   HeartbeatInterval,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start begins periodic status reporting.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.report(ctx)

		for {
			select {
			case <-ticker.C:
				r.report(ctx)
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop ends periodic reporting and writes a final status.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	close(r.stopChan)
	r.mu.Unlock()

	if started {
		<-r.done
	}

	r.report(ctx)
}

// RecordResult counts the outcome of one resolution.
func (r *Reporter) RecordResult(err error) {
	if err != nil {
		r.failed.Add(1)
		return
	}

	r.resolved.Add(1)
}

// Status returns the status that would be reported now.
func (r *Reporter) Status() Status {
	state := r.source.State()

	return Status{
		InstanceID:         r.instanceID,
		Service:            r.service,
		Pending:            state.Pending,
		Draining:           state.Draining,
		LastDispatchAt:     state.LastDispatchAt,
		DispatchesInWindow: state.DispatchesInWindow,
		Resolved:           r.resolved.Load(),
		Failed:             r.failed.Load(),
	}
}

func (r *Reporter) report(ctx context.Context) {
	if err := r.monitor.ReportStatus(ctx, r.Status()); err != nil {
		r.logger.Error("Failed to report status", zap.Error(err))
	}
}
