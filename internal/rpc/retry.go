package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
)

const (
	errorTypeRetryable = "retryable"
	errorTypePermanent = "permanent"
)

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	// Network errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Connection errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Rate limiting
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors
	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	return false
}

// newBackOff builds the exponential schedule for cfg. Attempts are bounded by MaxAttempts,
// not by elapsed time.
func newBackOff(cfg *config.RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff.Duration
	b.MaxInterval = cfg.MaxBackoff.Duration
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// WithRetry executes fn, retrying retryable failures with exponential backoff.
// A nil cfg means a single attempt. Context cancellation stops the retries.
func WithRetry(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	maxRetries := uint64(0)
	if cfg.MaxAttempts > 1 {
		maxRetries = uint64(cfg.MaxAttempts - 1)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(cfg), maxRetries), ctx)

	var (
		attempts  int
		permanent bool
	)
	startTime := time.Now()

	err := backoff.RetryNotify(func() error {
		attempts++

		err := fn()
		if err == nil {
			return nil
		}
		if !retryableError(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(error, time.Duration) {
		RetryInc(operation)
	})

	switch {
	case err == nil:
		return nil
	case permanent:
		return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempts, cfg.MaxAttempts, err)
	case ctx.Err() != nil:
		return fmt.Errorf("context cancelled after %d attempts: %w", attempts, err)
	default:
		return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
			attempts, time.Since(startTime), err)
	}
}

// errorType classifies err for metrics.
func errorType(err error) string {
	if retryableError(err) {
		return errorTypeRetryable
	}
	return errorTypePermanent
}
