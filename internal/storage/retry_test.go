package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/repomigrate/internal/errors"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), true},
		{"timeout", os.ErrDeadlineExceeded, true},
		{"ftp data connection", fmt.Errorf("425 Can't open data connection"), true},
		{"blob not found", ErrBlobNotFound, false},
		{"wrapped not found", fmt.Errorf("open: %w", ErrBlobNotFound), false},
		{"context canceled", context.Canceled, false},
		{"permission denied", os.ErrPermission, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := RetryConfig{
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		OnRetry:    func(attempt int, _ error) { retried = append(retried, attempt) },
	}

	err := WithRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestWithRetry_GivesUp(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{MaxRetries: 2, Backoff: time.Millisecond}, func() error {
		attempts++
		return fmt.Errorf("broken pipe")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "first attempt plus two retries")
	assert.True(t, errors.IsCategory(err, errors.CategoryRetry))
}

func TestWithRetry_NonTransientReturnsImmediately(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{MaxRetries: 5, Backoff: time.Millisecond}, func() error {
		attempts++
		return ErrBlobNotFound
	})
	require.ErrorIs(t, err, ErrBlobNotFound)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, RetryConfig{MaxRetries: 5, Backoff: time.Hour}, func() error {
		attempts++
		cancel()
		return fmt.Errorf("timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
