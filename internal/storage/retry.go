package storage

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/tphakala/repomigrate/internal/errors"
)

// Retry defaults
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// transientErrorPatterns contains substrings that indicate a retriable error
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
	"421", // FTP service not available
	"425", // FTP can't open data connection
	"426", // FTP connection closed; transfer aborted
}

// IsTransientError determines if an error is likely transient and can be
// retried. Missing blobs and invalid digests are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBlobNotFound) || errors.Is(err, ErrInvalidDigest) || errors.Is(err, ErrUnknownStorageKey) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if os.IsTimeout(err) {
		return true
	}

	errStr := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	Backoff    time.Duration
	// OnRetry is called before each retry
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns a RetryConfig with the package defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultRetryBackoff,
	}
}

// WithRetry runs op and retries it on transient errors up to MaxRetries
// times with linear backoff (1x, 2x, 3x ...). Non-transient errors are
// returned immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}

			timer := time.NewTimer(cfg.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(ctx.Err()).
					Component("storage").
					Category(errors.CategoryCancellation).
					Context("attempt", attempt).
					Build()
			case <-timer.C:
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err
	}

	return errors.New(lastErr).
		Component("storage").
		Category(errors.CategoryRetry).
		Context("retries", cfg.MaxRetries).
		Build()
}
