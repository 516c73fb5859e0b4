// Package retry wraps transient collaborator calls with bounded linear
// backoff. The venue's REST endpoints shed load in bursts; a few spaced
// attempts ride out most of them.
package retry

import (
	"context"
	"fmt"
	"time"

	"harvester/logger"
)

// Do runs fn up to attempts times, sleeping base×n between tries
// (n = 1, 2, ...). It returns the first success or the last error.
// Context cancellation aborts the wait and surfaces ctx.Err().
func Do[T any](ctx context.Context, label string, attempts int, base time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for n := 1; n <= attempts; n++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if n == attempts {
			break
		}

		wait := time.Duration(n) * base
		logger.Warnf("  ⚠️ %s 失败 (第%d/%d次): %v，%v后重试", label, n, attempts, err, wait)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, fmt.Errorf("%s: %d次尝试均失败: %w", label, attempts, lastErr)
}
