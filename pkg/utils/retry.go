package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions contains configuration for retry behavior.
type RetryOptions struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// GetFetchRetryOptions returns retry options for caller-side profile fetch retries.
// Intervals are long because every attempt goes through the paced request queue again.
func GetFetchRetryOptions(maxRetries uint64) RetryOptions {
	return RetryOptions{
		MaxElapsedTime:  2 * time.Minute,
		InitialInterval: 5 * time.Second,
		MaxInterval:     20 * time.Second,
		MaxRetries:      maxRetries,
	}
}

// WithRetry executes the given operation with exponential backoff using provided options.
func WithRetry[T any](ctx context.Context, operation func() (T, error), opts RetryOptions) (T, error) {
	return WithRetryIf(ctx, operation, opts, nil)
}

// WithRetryIf is WithRetry with a filter deciding which errors are worth another attempt.
// A nil filter retries every error. Non-retryable errors are returned unwrapped.
func WithRetryIf[T any](
	ctx context.Context, operation func() (T, error), opts RetryOptions, retryable func(error) bool,
) (T, error) {
	var result T

	// Configure exponential backoff
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(opts.MaxElapsedTime),
		backoff.WithInitialInterval(opts.InitialInterval),
		backoff.WithMaxInterval(opts.MaxInterval),
	), opts.MaxRetries)

	// Create backoff operation with context
	backoffOperation := func() error {
		var err error

		result, err = operation()
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	err := backoff.Retry(backoffOperation, backoff.WithContext(b, ctx))

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return result, permanent.Err
	}

	return result, err
}
