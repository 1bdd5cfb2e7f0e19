package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robalyx/profilegov/internal/governor/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFetch = errors.New("fetch failed")

// fastConfig keeps the production ratios (3s spacing, 10 per minute) at 1/100 scale.
func fastConfig() queue.Config {
	return queue.Config{
		MaxPerWindow: 10,
		Window:       600 * time.Millisecond,
		MinInterval:  30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		ItemTimeout:  time.Second,
	}
}

// unpacedConfig disables pacing so tests can focus on ordering and cancellation.
func unpacedConfig() queue.Config {
	return queue.Config{
		PollInterval: time.Millisecond,
		ItemTimeout:  time.Second,
	}
}

func setupQueue(t *testing.T, config queue.Config) *queue.Queue {
	t.Helper()

	q := queue.New(config, zap.NewNop())
	t.Cleanup(q.Close)

	return q
}

// blocker returns an execute function that holds the queue until release is closed.
func blocker(started chan<- struct{}, release <-chan struct{}) queue.Func {
	return func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestSubmitReturnsResult(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	result, err := q.Submit(t.Context(), "natgeo", "profile.full", func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestDoTyped(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	got, err := queue.Do(t.Context(), q, "natgeo", "profile.full", func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	_, err = queue.Do(t.Context(), q, "natgeo", "profile.full", func(context.Context) (string, error) {
		return "", errFetch
	})
	require.ErrorIs(t, err, errFetch)
}

func TestFIFOOrdering(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	var (
		mu    sync.Mutex
		order []int
	)

	tickets := make([]*queue.Ticket, 0, 8)
	for i := range 8 {
		// Earlier items run longer than later ones
		delay := time.Duration(8-i) * 2 * time.Millisecond

		ticket, err := q.Enqueue(t.Context(), fmt.Sprintf("user%d", i), "profile.full",
			func(context.Context) (any, error) {
				time.Sleep(delay)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	for i, ticket := range tickets {
		result, err := ticket.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, i, result)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestAtMostOneInFlight(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	var inFlight, peak atomic.Int32

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(t.Context(), fmt.Sprintf("user%d", i), "profile.full",
				func(context.Context) (any, error) {
					current := inFlight.Add(1)
					for {
						old := peak.Load()
						if current <= old || peak.CompareAndSwap(old, current) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					inFlight.Add(-1)
					return nil, nil
				})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestFailureIsolation(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	failing, err := q.Enqueue(t.Context(), "broken", "profile.full", func(context.Context) (any, error) {
		return nil, errFetch
	})
	require.NoError(t, err)

	panicking, err := q.Enqueue(t.Context(), "panics", "profile.full", func(context.Context) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	healthy, err := q.Enqueue(t.Context(), "healthy", "profile.full", func(context.Context) (any, error) {
		return "fine", nil
	})
	require.NoError(t, err)

	_, err = failing.Wait(t.Context())
	require.ErrorIs(t, err, errFetch)

	_, err = panicking.Wait(t.Context())
	require.ErrorIs(t, err, queue.ErrPanic)

	result, err := healthy.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "fine", result)
}

func TestItemTimeout(t *testing.T) {
	t.Parallel()

	config := unpacedConfig()
	config.ItemTimeout = 20 * time.Millisecond
	q := setupQueue(t, config)

	_, err := q.Submit(t.Context(), "slow", "profile.full", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The queue keeps working after a timed out item
	result, err := q.Submit(t.Context(), "fast", "profile.full", func(context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestRemoveFromQueue(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	started := make(chan struct{})
	release := make(chan struct{})

	head, err := q.Enqueue(t.Context(), "head", "profile.full", blocker(started, release))
	require.NoError(t, err)
	<-started

	var ranCancelled atomic.Bool
	cancelled := func(context.Context) (any, error) {
		ranCancelled.Store(true)
		return nil, nil
	}

	xFull, err := q.Enqueue(t.Context(), "x", "profile.full", cancelled)
	require.NoError(t, err)
	y, err := q.Enqueue(t.Context(), "y", "profile.full", func(context.Context) (any, error) {
		return "y", nil
	})
	require.NoError(t, err)
	xVolatile, err := q.Enqueue(t.Context(), "x", "profile.volatile", cancelled)
	require.NoError(t, err)

	assert.True(t, q.IsInQueue("x", ""))
	assert.True(t, q.IsInQueue("x", "profile.volatile"))
	assert.False(t, q.IsInQueue("head", ""), "started requests are no longer pending")

	assert.Equal(t, 2, q.RemoveFromQueue("x", ""))
	assert.False(t, q.IsInQueue("x", ""))
	assert.True(t, q.IsInQueue("y", ""))

	// Removed requests settle immediately with a cancellation
	_, err = xFull.Wait(t.Context())
	require.ErrorIs(t, err, queue.ErrCancelled)
	_, err = xVolatile.Wait(t.Context())
	require.ErrorIs(t, err, queue.ErrCancelled)

	close(release)

	result, err := head.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "released", result)

	result, err = y.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "y", result)

	assert.False(t, ranCancelled.Load(), "cancelled requests must never dispatch")
}

func TestRemoveFromQueueByAction(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	_, err := q.Enqueue(t.Context(), "head", "profile.full", blocker(started, release))
	require.NoError(t, err)
	<-started

	noop := func(context.Context) (any, error) { return nil, nil }

	_, err = q.Enqueue(t.Context(), "x", "profile.full", noop)
	require.NoError(t, err)
	_, err = q.Enqueue(t.Context(), "x", "profile.volatile", noop)
	require.NoError(t, err)

	assert.Equal(t, 1, q.RemoveFromQueue("x", "profile.volatile"))
	assert.True(t, q.IsInQueue("x", "profile.full"))
	assert.False(t, q.IsInQueue("x", "profile.volatile"))
	assert.Zero(t, q.RemoveFromQueue("missing", ""))
}

func TestClear(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	started := make(chan struct{})
	release := make(chan struct{})

	head, err := q.Enqueue(t.Context(), "head", "profile.full", blocker(started, release))
	require.NoError(t, err)
	<-started

	tickets := make([]*queue.Ticket, 0, 3)
	for i := range 3 {
		ticket, err := q.Enqueue(t.Context(), fmt.Sprintf("user%d", i), "profile.full",
			func(context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	assert.Equal(t, 3, q.Clear())
	assert.Zero(t, q.State().Pending)

	for _, ticket := range tickets {
		_, err := ticket.Wait(t.Context())
		require.ErrorIs(t, err, queue.ErrCleared)
	}

	// The in-flight request is not affected
	close(release)
	_, err = head.Wait(t.Context())
	require.NoError(t, err)
}

func TestSubmitContextCancelledWhilePending(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	_, err := q.Enqueue(t.Context(), "head", "profile.full", blocker(started, release))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	_, err = q.Submit(ctx, "waiting", "profile.full", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, q.IsInQueue("waiting", ""))
	assert.False(t, ran.Load())
}

func TestCloseRejectsNewSubmissions(t *testing.T) {
	t.Parallel()
	q := queue.New(unpacedConfig(), zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})

	head, err := q.Enqueue(t.Context(), "head", "profile.full", blocker(started, release))
	require.NoError(t, err)
	<-started

	pending, err := q.Enqueue(t.Context(), "pending", "profile.full",
		func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	_, err = pending.Wait(t.Context())
	require.ErrorIs(t, err, queue.ErrCleared)

	// Close waits for the in-flight request
	select {
	case <-closed:
		t.Fatal("Close returned before the in-flight request finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed

	result, err := head.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "released", result)

	_, err = q.Submit(t.Context(), "late", "profile.full", func(context.Context) (any, error) { return nil, nil })
	require.ErrorIs(t, err, queue.ErrClosed)

	q.Close()
}

func TestTicketIDs(t *testing.T) {
	t.Parallel()
	q := setupQueue(t, unpacedConfig())

	ticket, err := q.Enqueue(t.Context(), "natgeo", "profile.full",
		func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	assert.Contains(t, ticket.ID, "profile.full:natgeo:")
	assert.Equal(t, "natgeo", ticket.SubjectKey)
	assert.Equal(t, "profile.full", ticket.ActionKind)
	assert.False(t, ticket.SubmittedAt.IsZero())

	_, err = ticket.Wait(t.Context())
	require.NoError(t, err)
}

func TestMinIntervalSpacing(t *testing.T) {
	t.Parallel()

	config := fastConfig()
	config.MaxPerWindow = 0
	q := setupQueue(t, config)

	var (
		mu    sync.Mutex
		times []time.Time
	)

	tickets := make([]*queue.Ticket, 0, 4)
	for i := range 4 {
		ticket, err := q.Enqueue(t.Context(), fmt.Sprintf("user%d", i), "profile.full",
			func(context.Context) (any, error) {
				mu.Lock()
				times = append(times, time.Now())
				mu.Unlock()
				return nil, nil
			})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	for _, ticket := range tickets {
		_, err := ticket.Wait(t.Context())
		require.NoError(t, err)
	}

	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), config.MinInterval-10*time.Millisecond)
	}
}

func TestRequestDelay(t *testing.T) {
	t.Parallel()

	config := unpacedConfig()
	config.RequestDelay = 25 * time.Millisecond
	q := setupQueue(t, config)

	start := time.Now()
	for i := range 3 {
		_, err := q.Submit(t.Context(), fmt.Sprintf("user%d", i), "profile.full",
			func(context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
	}

	// The delay follows each completed request, so the third starts after two delays
	assert.GreaterOrEqual(t, time.Since(start), 2*config.RequestDelay)
}

func TestEndToEndPacing(t *testing.T) {
	t.Parallel()

	config := fastConfig()
	q := setupQueue(t, config)

	const submissions = 12

	var (
		mu    sync.Mutex
		times []time.Time
		order []int
	)

	start := time.Now()
	tickets := make([]*queue.Ticket, 0, submissions)

	for i := range submissions {
		ticket, err := q.Enqueue(t.Context(), fmt.Sprintf("user%d", i), "profile.full",
			func(context.Context) (any, error) {
				mu.Lock()
				times = append(times, time.Now())
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	for _, ticket := range tickets {
		_, err := ticket.Wait(t.Context())
		require.NoError(t, err)
	}

	elapsed := time.Since(start)
	const slack = 10 * time.Millisecond

	require.Len(t, times, submissions)

	// Total time covers at least eleven intervals
	assert.GreaterOrEqual(t, elapsed, 11*config.MinInterval)

	// The eleventh dispatch waits until the first leaves the window
	assert.GreaterOrEqual(t, times[10].Sub(times[0]), config.Window-slack)

	// The window cap is never exceeded
	for i := range times {
		inWindow := 0
		for j := range times[:i+1] {
			if times[i].Sub(times[j]) < config.Window-slack {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, config.MaxPerWindow)
	}

	expected := make([]int, submissions)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)

	state := q.State()
	assert.Zero(t, state.Pending)
	assert.False(t, state.LastDispatchAt.IsZero())
}
