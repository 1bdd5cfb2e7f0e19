package queue

import "errors"

var (
	// ErrCancelled settles items removed with RemoveFromQueue before they started.
	ErrCancelled = errors.New("queued request cancelled")
	// ErrCleared settles items dropped by Clear.
	ErrCleared = errors.New("queue cleared")
	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("queue closed")
	// ErrPanic wraps a panic recovered from a request's execute function.
	ErrPanic = errors.New("queued request panicked")
	// ErrUnexpectedResult is returned by Do when the result has a different type.
	ErrUnexpectedResult = errors.New("unexpected queued result type")
)
