package queue

import (
	"context"
	"sync"
	"time"
)

// Ticket is the caller-facing handle of one queued request.
// It settles exactly once with the request's result, its failure or a cancellation error.
type Ticket struct {
	ID          string
	SubjectKey  string
	ActionKind  string
	SubmittedAt time.Time

	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newTicket(id, subjectKey, actionKind string, submittedAt time.Time) *Ticket {
	return &Ticket{
		ID:          id,
		SubjectKey:  subjectKey,
		ActionKind:  actionKind,
		SubmittedAt: submittedAt,
		done:        make(chan struct{}),
	}
}

// Done is closed once the ticket has settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result returns the settled outcome. Only meaningful after Done is closed.
func (t *Ticket) Result() (any, error) {
	return t.result, t.err
}

// Wait blocks until the ticket settles or ctx is done.
// A ctx error does not cancel the request itself.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle records the outcome. Later calls are ignored.
func (t *Ticket) settle(result any, err error) bool {
	settled := false

	t.once.Do(func() {
		t.result = result
		t.err = err
		settled = true
		close(t.done)
	})

	return settled
}
