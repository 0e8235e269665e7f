// Package ratelimit provides per-client admission control: each client holds
// a per-minute and a per-hour token bucket, and a request is admitted only
// when both grant a token in one atomic check.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"metricgate/internal/domain"
)

// Config holds the request allowances per client.
type Config struct {
	PerMinute int
	PerHour   int
}

// clientBuckets pairs the two token buckets for one client.
type clientBuckets struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks token buckets per client ID. Check-and-decrement runs under
// one lock so concurrent requests from the same client cannot both observe
// an available token and both proceed past the limit.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string]*clientBuckets
	now     func() time.Time
}

// New creates a Limiter with the given allowances. Non-positive allowances
// fall back to 60/minute and 1000/hour.
func New(cfg Config) *Limiter {
	if cfg.PerMinute < 1 {
		cfg.PerMinute = 60
	}
	if cfg.PerHour < 1 {
		cfg.PerHour = 1000
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientBuckets),
		now:     time.Now,
	}
}

// Allow admits or rejects one request from clientID. On rejection it returns
// a RateLimitError carrying the time at which a token becomes available.
func (l *Limiter) Allow(clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[clientID]
	if !ok {
		c = &clientBuckets{
			minute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.cfg.PerMinute)), l.cfg.PerMinute),
			hour:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(l.cfg.PerHour)), l.cfg.PerHour),
		}
		l.clients[clientID] = c
	}
	c.lastSeen = now

	// Reserve from both buckets; if either cannot grant a token now, cancel
	// everything so the rejected request consumes nothing.
	minuteRes := c.minute.ReserveN(now, 1)
	if delay := minuteRes.DelayFrom(now); delay > 0 {
		minuteRes.CancelAt(now)
		return &domain.RateLimitError{
			Message: fmt.Sprintf("rate limit exceeded: %d requests per minute", l.cfg.PerMinute),
			ResetAt: now.Add(delay),
		}
	}

	hourRes := c.hour.ReserveN(now, 1)
	if delay := hourRes.DelayFrom(now); delay > 0 {
		hourRes.CancelAt(now)
		minuteRes.CancelAt(now)
		return &domain.RateLimitError{
			Message: fmt.Sprintf("rate limit exceeded: %d requests per hour", l.cfg.PerHour),
			ResetAt: now.Add(delay),
		}
	}

	return nil
}

// Cleanup removes clients idle longer than maxIdle and returns how many were
// dropped. Called periodically by the maintenance scheduler.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > maxIdle {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}
