package dbretry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests in this package share the backoff settings and do not run in parallel.
func useFastBackoff(t *testing.T) {
	t.Helper()

	prevInitial, prevMax := initialInterval, maxInterval
	initialInterval, maxInterval = time.Millisecond, 5*time.Millisecond

	t.Cleanup(func() {
		initialInterval, maxInterval = prevInitial, prevMax
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "no rows", err: sql.ErrNoRows, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "wrapped reset", err: fmt.Errorf("query: %w", errors.New("read: connection reset by peer")), want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: false},
		{name: "syntax", err: errors.New("syntax error at or near SELECT"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestNoResultRetriesTransientErrors(t *testing.T) {
	useFastBackoff(t)

	attempts := 0
	err := NoResult(t.Context(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("broken pipe")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestNoResultStopsOnPermanentErrors(t *testing.T) {
	useFastBackoff(t)

	attempts := 0
	err := NoResult(t.Context(), func(context.Context) error {
		attempts++
		return sql.ErrNoRows
	})

	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 1, attempts)
}
