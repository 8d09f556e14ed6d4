// Package ratelimit paces requests to the target site. Local limiters pace
// one process; the Redis limiter shares one budget between every process
// pointed at the same key.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/carwatch/internal/metrics"
)

// ErrRateLimitTimeout is returned when the context ends while waiting.
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// Limiter blocks until the caller may issue its next request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Local enforces a minimum interval between request starts in-process.
type Local struct {
	limiter *rate.Limiter
}

// NewLocal returns a limiter allowing one request per minDelay. A zero
// delay never blocks.
func NewLocal(minDelay time.Duration) *Local {
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	return &Local{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next slot.
func (l *Local) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ErrRateLimitTimeout
		}
		return err
	}
	return nil
}
