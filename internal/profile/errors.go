package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrRateLimited      = errors.New("profile service rate limit reached")
	ErrUnexpectedStatus = errors.New("unexpected profile service status")
	ErrInvalidResponse  = errors.New("invalid profile service response")
)

// APIError is a non-success answer of the profile-data service.
// Its message is the one sent by the service.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // One of the sentinel errors above
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newAPIError(statusCode int, message string) *APIError {
	if message == "" {
		message = fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode))
	}

	var err error

	switch {
	case statusCode == http.StatusNotFound:
		err = ErrProfileNotFound
	case statusCode == http.StatusTooManyRequests:
		err = ErrRateLimited
	default:
		err = ErrUnexpectedStatus
	}

	return &APIError{StatusCode: statusCode, Message: message, Err: err}
}

// IsRetryable reports whether a failed fetch may succeed when tried again later.
// Missing profiles, malformed answers and cancelled calls are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}

	// Transport failures
	return true
}
