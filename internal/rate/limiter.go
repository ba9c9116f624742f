package rate

import (
	"context"
	"time"
)

// Limiter is a fixed-window counter keyed by caller identity (client IP).
// Allow reports whether the call may proceed and, when limited, how long
// until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
