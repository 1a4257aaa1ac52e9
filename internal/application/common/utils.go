package common

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const Version = "0.3.0"

// PgInterval renders a duration as a Postgres interval literal (second precision).
func PgInterval(d time.Duration) string {
	sec := int64(d / time.Second)
	return fmt.Sprintf("%d seconds", sec)
}

// BackoffExponential is the dispatcher backoff: base * 2^attempts, capped.
// No jitter here: nextRetryAt must grow strictly with the attempt number.
func BackoffExponential(base time.Duration, attempts int, limit time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Second
	}

	// shift saturates long before overflow becomes a concern
	if attempts > 30 {
		attempts = 30
	}
	d := base << attempts
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

// NextBackoffWithJitter is used for in-call producer retries where
// thundering-herd avoidance matters more than monotonicity.
func NextBackoffWithJitter(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	base := time.Second << attempts

	limit := 30 * time.Minute
	if base > limit {
		base = limit
	}

	jitter := time.Duration(rand.Int63n(int64(base / 2)))

	return base/2 + jitter
}

func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Truncate bounds free-form failure reasons before they are persisted.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
