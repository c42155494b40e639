package provider

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for provider calls. Provider calls
// are the only suspension points that cross a process boundary, so every
// one of them runs through Retry with a bounded per-attempt timeout.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	AttemptTimeout  time.Duration    // 0 disables the per-attempt timeout
	RetryableErrors func(error) bool // Determines if an error should trigger retry
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 30 * time.Second,
		RetryableErrors: func(_ error) bool {
			// By default, retry all errors
			return true
		},
	}
}

// Retry runs fn with bounded attempts and exponential backoff. The name
// identifies the provider in error messages. The last error is returned
// once attempts are exhausted; callers wrap it into a DependencyError or
// degrade to a fallback, depending on the path.
func Retry(ctx context.Context, config *RetryConfig, name string, fn func(context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s call cancelled: %w", name, ctx.Err())
		default:
		}

		err := runAttempt(ctx, config.AttemptTimeout, fn)
		if err == nil {
			return nil
		}

		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return fmt.Errorf("non-retryable error from %s: %w", name, err)
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxAttempts {
			select {
			case <-time.After(delay):
				delay = min(time.Duration(float64(delay)*config.BackoffFactor), config.MaxDelay)
			case <-ctx.Done():
				return fmt.Errorf("%s call cancelled during backoff: %w", name, ctx.Err())
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded for %s: %w", config.MaxAttempts, name, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return fmt.Errorf("attempt timed out after %v: %w", timeout, attemptCtx.Err())
	}
}
