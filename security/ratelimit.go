package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// DefaultRegistrationBurst is the burst used when a non-positive burst is configured
const DefaultRegistrationBurst = 1

// RegistrationLimiter throttles outgoing client registrations so that a burst of
// joining peers does not flood the identity provider. It is a single token bucket
// shared by all callers.
type RegistrationLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger

	totalAllowed atomic.Int64
	totalWaited  atomic.Int64
	totalDenied  atomic.Int64
}

// RegistrationLimiterStats holds counters for monitoring
type RegistrationLimiterStats struct {
	Allowed int64
	Waited  int64
	Denied  int64
}

// NewRegistrationLimiter creates a limiter allowing perSecond registrations with the given burst.
// A non-positive perSecond disables limiting.
func NewRegistrationLimiter(perSecond float64, burst int, logger *slog.Logger) *RegistrationLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if burst <= 0 {
		burst = DefaultRegistrationBurst
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RegistrationLimiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Wait blocks until a registration may proceed or ctx is done.
func (l *RegistrationLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.limiter.Allow() {
		l.totalAllowed.Add(1)
		return nil
	}

	l.logger.Debug("Client registration throttled, waiting for limiter")
	if err := l.limiter.Wait(ctx); err != nil {
		l.totalDenied.Add(1)
		return fmt.Errorf("registration rate limit: %w", err)
	}
	l.totalWaited.Add(1)
	l.totalAllowed.Add(1)
	return nil
}

// Stats returns a snapshot of the limiter counters
func (l *RegistrationLimiter) Stats() RegistrationLimiterStats {
	return RegistrationLimiterStats{
		Allowed: l.totalAllowed.Load(),
		Waited:  l.totalWaited.Load(),
		Denied:  l.totalDenied.Load(),
	}
}
