package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// Backoff returns the wait before retry number attempt (0-based): base
// doubled per attempt, capped at max when max > 0. A non-positive base
// means no wait.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * (1 << uint(attempt))
	if max > 0 && d > max {
		return max
	}
	return d
}

// WithTimeout applies a per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, req)
		}
	}
}

// WithRetry retries Retryable failures with exponential backoff. It
// respects context cancellation between attempts.
//
//   - maxRetries: retry attempts after the first call (0 = no retry)
//   - baseBackoff: initial wait, doubled each attempt
//   - logger: logs each retry (nil for silent retries)
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil || !Retryable(err) || attempt == maxRetries {
					return nil, lastErr
				}

				wait := Backoff(baseBackoff, 0, attempt)
				if logger != nil {
					logger.WarnContext(ctx, "retrying upstream call",
						"path", req.Path,
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}
