package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robalyx/profilegov/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultMaxPerWindow is the number of dispatches allowed per rolling window.
	DefaultMaxPerWindow = 10
	// DefaultWindow is the length of the rolling dispatch window.
	DefaultWindow = time.Minute
	// DefaultMinInterval is the minimum time between two dispatches.
	DefaultMinInterval = 3 * time.Second
	// DefaultPollInterval is how often the drain loop re-checks admission while blocked.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultItemTimeout bounds a single execute call.
	DefaultItemTimeout = 30 * time.Second
)

// Func is the deferred network call of a queued request.
type Func func(ctx context.Context) (any, error)

// Config holds the pacing policy of a Queue.
type Config struct {
	MaxPerWindow int           // Dispatch ceiling inside Window, 0 disables the ceiling
	Window       time.Duration // Length of the rolling window
	MinInterval  time.Duration // Minimum spacing between dispatch starts
	PollInterval time.Duration // Admission re-check interval while blocked
	RequestDelay time.Duration // Fixed pause after each completed request
	ItemTimeout  time.Duration // Per-request timeout, 0 disables it
}

// DefaultConfig returns the pacing policy of the profile-data service.
func DefaultConfig() Config {
	return Config{
		MaxPerWindow: DefaultMaxPerWindow,
		Window:       DefaultWindow,
		MinInterval:  DefaultMinInterval,
		PollInterval: DefaultPollInterval,
		ItemTimeout:  DefaultItemTimeout,
	}
}

// State is a point-in-time view of a queue for diagnostics.
type State struct {
	Pending            int
	Draining           bool
	LastDispatchAt     time.Time
	DispatchesInWindow int
}

// request is one pending unit of work.
type request struct {
	ctx     context.Context
	execute Func
	ticket  *Ticket
}

func (r *request) matches(subjectKey, actionKind string) bool {
	return r.ticket.SubjectKey == subjectKey && (actionKind == "" || r.ticket.ActionKind == actionKind)
}

// Queue serializes requests against a rate-limited service.
// Requests run one at a time in submission order, each admitted only when
// both the rolling window ceiling and the minimum spacing allow it.
type Queue struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu             sync.Mutex
	pending        []*request
	draining       bool
	closed         bool
	lastDispatchAt time.Time
	admission      *admission

	stopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Queue with the given pacing policy.
// Zero durations in config fall back to DefaultConfig where a zero value makes no sense.
func New(config Config, logger *zap.Logger) *Queue {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	stopCtx, stop := context.WithCancel(context.Background())

	return &Queue{
		config:    config,
		logger:    logger.Named("queue"),
		tracer:    otel.Tracer("github.com/robalyx/profilegov/internal/governor/queue"),
		now:       time.Now,
		admission: newAdmission(config.MaxPerWindow, config.Window, config.MinInterval),
		stopCtx:   stopCtx,
		stop:      stop,
	}
}

// Enqueue appends a request and returns its ticket without waiting for it.
// Values of ctx are visible to execute, its cancellation is not.
func (q *Queue) Enqueue(ctx context.Context, subjectKey, actionKind string, execute Func) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	submittedAt := q.now()
	id := fmt.Sprintf("%s:%s:%d", actionKind, subjectKey, submittedAt.UnixNano())
	ticket := newTicket(id, subjectKey, actionKind, submittedAt)

	q.pending = append(q.pending, &request{
		ctx:     context.WithoutCancel(ctx),
		execute: execute,
		ticket:  ticket,
	})

	q.logger.Debug("Request queued",
		zap.String("id", id),
		zap.String("subjectKey", subjectKey),
		zap.String("actionKind", actionKind),
		zap.Int("pending", len(q.pending)))

	// Start the drain loop if it is not already running
	if !q.draining {
		q.draining = true
		q.wg.Add(1)

		go q.drain()
	}

	return ticket, nil
}

// Submit queues a request and waits for its outcome.
// If ctx ends while the request is still pending, the request is removed and ctx.Err() returned.
// A request that already started keeps running, but Submit stops waiting for it.
func (q *Queue) Submit(ctx context.Context, subjectKey, actionKind string, execute Func) (any, error) {
	ticket, err := q.Enqueue(ctx, subjectKey, actionKind, execute)
	if err != nil {
		return nil, err
	}

	select {
	case <-ticket.Done():
		return ticket.Result()
	case <-ctx.Done():
		if q.removeTicket(ticket) {
			q.logger.Debug("Removed pending request after caller gave up",
				zap.String("id", ticket.ID),
				zap.Error(ctx.Err()))
		}

		return nil, ctx.Err()
	}
}

// Do is a typed wrapper around Submit.
func Do[T any](
	ctx context.Context, q *Queue, subjectKey, actionKind string, execute func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	result, err := q.Submit(ctx, subjectKey, actionKind, func(ctx context.Context) (any, error) {
		return execute(ctx)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedResult, result)
	}

	return typed, nil
}

// RemoveFromQueue removes pending requests for subjectKey and settles them with ErrCancelled.
// An empty actionKind matches every action. Requests that already started are not affected.
// Returns the number of removed requests.
func (q *Queue) RemoveFromQueue(subjectKey, actionKind string) int {
	removed := q.removeWhere(func(r *request) bool {
		return r.matches(subjectKey, actionKind)
	})

	for _, r := range removed {
		r.ticket.settle(nil, ErrCancelled)
	}

	if len(removed) > 0 {
		q.logger.Debug("Removed requests from queue",
			zap.String("subjectKey", subjectKey),
			zap.String("actionKind", actionKind),
			zap.Int("count", len(removed)))
	}

	return len(removed)
}

// IsInQueue reports whether a request for subjectKey is still pending.
// An empty actionKind matches every action.
func (q *Queue) IsInQueue(subjectKey, actionKind string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.pending {
		if r.matches(subjectKey, actionKind) {
			return true
		}
	}

	return false
}

// Clear settles every pending request with ErrCleared and empties the queue.
// Returns the number of cleared requests.
func (q *Queue) Clear() int {
	removed := q.removeWhere(func(*request) bool { return true })

	for _, r := range removed {
		r.ticket.settle(nil, ErrCleared)
	}

	if len(removed) > 0 {
		q.logger.Info("Cleared queue", zap.Int("count", len(removed)))
	}

	return len(removed)
}

// State returns a snapshot of the queue's diagnostics.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	return State{
		Pending:            len(q.pending),
		Draining:           q.draining,
		LastDispatchAt:     q.lastDispatchAt,
		DispatchesInWindow: q.admission.inWindow(q.now()),
	}
}

// Close clears pending requests, refuses new ones and waits for the in-flight request to finish.
// Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	q.mu.Unlock()

	if alreadyClosed {
		return
	}

	q.Clear()
	q.stop()
	q.wg.Wait()

	q.logger.Info("Queue closed")
}

// removeTicket removes the request of a single ticket if it is still pending.
func (q *Queue) removeTicket(ticket *Ticket) bool {
	removed := q.removeWhere(func(r *request) bool {
		return r.ticket == ticket
	})

	for _, r := range removed {
		r.ticket.settle(nil, ErrCancelled)
	}

	return len(removed) > 0
}

// removeWhere filters pending requests in place and returns the removed ones.
func (q *Queue) removeWhere(match func(*request) bool) []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*request

	kept := q.pending[:0]
	for _, r := range q.pending {
		if match(r) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}

	// Release references held by the tail of the backing array
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}

	q.pending = kept

	return removed
}

// drain dispatches pending requests one at a time until the queue is empty or closed.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		if q.stopIfIdle() {
			return
		}

		if !q.waitForAdmission() {
			q.finishDrain()
			return
		}

		req := q.next()
		if req == nil {
			continue
		}

		q.dispatch(req)

		if q.config.RequestDelay > 0 &&
			utils.ContextSleep(q.stopCtx, q.config.RequestDelay) == utils.SleepCancelled {
			q.finishDrain()
			return
		}
	}
}

// stopIfIdle marks the drain loop as stopped when nothing is pending.
// The check and the flag change share one lock so a concurrent Enqueue always sees a consistent state.
func (q *Queue) stopIfIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) > 0 {
		return false
	}

	q.draining = false

	return true
}

// finishDrain marks the drain loop as stopped after the queue was closed.
func (q *Queue) finishDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.draining = false
}

// waitForAdmission polls the admission rule until it allows a dispatch.
// Returns false if the queue was closed while waiting.
func (q *Queue) waitForAdmission() bool {
	for {
		q.mu.Lock()
		wait := q.admission.delay(q.now())
		q.mu.Unlock()

		if wait <= 0 {
			return true
		}

		q.logger.Debug("Waiting for dispatch admission", zap.Duration("wait", wait))

		if utils.ContextSleep(q.stopCtx, min(wait, q.config.PollInterval)) == utils.SleepCancelled {
			return false
		}
	}
}

// next pops the head request and records its dispatch.
// Returns nil if the queue emptied while waiting for admission.
func (q *Queue) next() *request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}

	req := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	now := q.now()
	q.admission.record(now)
	q.lastDispatchAt = now

	return req
}

// dispatch runs a single request and settles its ticket.
func (q *Queue) dispatch(req *request) {
	ticket := req.ticket

	ctx, span := q.tracer.Start(req.ctx, "queue.dispatch", trace.WithAttributes(
		attribute.String("queue.id", ticket.ID),
		attribute.String("queue.subject_key", ticket.SubjectKey),
		attribute.String("queue.action_kind", ticket.ActionKind),
	))
	defer span.End()

	if q.config.ItemTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, q.config.ItemTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := q.execute(ctx, req)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		q.logger.Warn("Queued request failed",
			zap.String("id", ticket.ID),
			zap.String("subjectKey", ticket.SubjectKey),
			zap.String("actionKind", ticket.ActionKind),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		q.logger.Debug("Queued request completed",
			zap.String("id", ticket.ID),
			zap.String("actionKind", ticket.ActionKind),
			zap.Duration("waited", start.Sub(ticket.SubmittedAt)),
			zap.Duration("duration", duration))
	}

	ticket.settle(result, err)
}

// execute calls the request's function, turning a panic into an error for that caller only.
func (q *Queue) execute(ctx context.Context, req *request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return req.execute(ctx)
}
