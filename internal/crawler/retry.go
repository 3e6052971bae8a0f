package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Operation is one bounded browser operation.
type Operation func(ctx context.Context) error

// RetryOptions controls RunWithRetry behavior. Backoff grows linearly
// (base * attempt number); jitter, when wanted, is the caller's job one
// level up.
type RetryOptions struct {
	Name       string
	MaxRetries int
	Timeout    time.Duration
	Backoff    time.Duration
	// Cleanup runs between attempts. Failures inside it are logged,
	// never propagated.
	Cleanup func(ctx context.Context) error
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Name == "" {
		o.Name = "browser_operation"
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	return o
}

// PageProbe reports whether the underlying page handle is already gone.
type PageProbe interface {
	Closed() bool
}

// RunWithRetry executes op with a per-attempt timeout, retrying
// session-closed and timeout failures with linear backoff. Anything
// else propagates immediately. After MaxRetries+1 attempts the last
// error is returned.
func RunWithRetry(
	ctx context.Context,
	logger *zap.Logger,
	classifier *Classifier,
	op Operation,
	opts RetryOptions,
) error {
	return runWithRetry(ctx, logger, classifier, nil, op, opts)
}

// RunWithRetryPage is RunWithRetry for page-scoped operations: when the
// probe reports the page closed, the attempt short-circuits to the
// retryable path without invoking op.
func RunWithRetryPage(
	ctx context.Context,
	logger *zap.Logger,
	classifier *Classifier,
	probe PageProbe,
	op Operation,
	opts RetryOptions,
) error {
	return runWithRetry(ctx, logger, classifier, probe, op, opts)
}

func runWithRetry(
	ctx context.Context,
	logger *zap.Logger,
	classifier *Classifier,
	probe PageProbe,
	op Operation,
	opts RetryOptions,
) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		lastErr = runAttempt(ctx, probe, op, opts.Timeout)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Parent canceled; retrying would only spin.
			return lastErr
		}

		cls := classifier.Classify(lastErr)
		if !cls.Retryable() {
			return lastErr
		}
		if attempt == opts.MaxRetries {
			break
		}

		logger.Warn("operation failed, retrying",
			zap.String("operation", opts.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", opts.MaxRetries+1),
			zap.String("category", cls.Category.String()),
			zap.Error(lastErr),
		)

		if opts.Cleanup != nil {
			if cleanupErr := opts.Cleanup(ctx); cleanupErr != nil {
				logger.Warn("retry cleanup failed",
					zap.String("operation", opts.Name),
					zap.Error(cleanupErr),
				)
			}
		}

		if err := sleepCtx(ctx, opts.Backoff*time.Duration(attempt+1)); err != nil {
			return lastErr
		}
	}

	logger.Error("operation failed after all attempts",
		zap.String("operation", opts.Name),
		zap.Int("attempts", opts.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

func runAttempt(ctx context.Context, probe PageProbe, op Operation, timeout time.Duration) error {
	if probe != nil && probe.Closed() {
		return NewOpError(CategoryBrowserClosed, errPageClosed)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
