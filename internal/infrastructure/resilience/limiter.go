package resilience

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per operation name.
type Limiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter returns nil when rps is not positive; a nil Limiter never blocks.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{rps: rps, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until the operation may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, operation string) error {
	if l == nil {
		return nil
	}
	if err := l.limiter(operation).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", operation, err)
	}
	return nil
}

func (l *Limiter) limiter(operation string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[operation]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[operation] = lim
	return lim
}
