package tutor

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryingInvoker wraps a call that produces structured output from raw model
// text. Only schema-validation failures (errors wrapping ErrMalformedOutput)
// are retried; transport failures and every other error surface immediately.
type RetryingInvoker struct {
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewRetryingInvoker creates an invoker with the given attempt bound.
// backoff is slept between parse retries; zero disables it.
func NewRetryingInvoker(maxAttempts int, backoff time.Duration, logger *slog.Logger) *RetryingInvoker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingInvoker{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}
}

// MaxAttempts returns the configured attempt bound.
func (r *RetryingInvoker) MaxAttempts() int {
	return r.maxAttempts
}

// Invoke runs call up to the invoker's attempt bound. call is expected to
// query the model and parse the result; it should wrap parse/validation
// failures with ErrMalformedOutput so they are recognized as retryable.
func Invoke[T any](ctx context.Context, r *RetryingInvoker, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		value, err := call(ctx)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrMalformedOutput) {
			return zero, err
		}

		lastErr = err
		r.logger.Warn("model output failed validation",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"error", err,
		)

		if attempt < r.maxAttempts && r.backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(r.backoff):
			}
		}
	}

	return zero, lastErr
}
