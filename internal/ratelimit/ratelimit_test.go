package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricgate/internal/domain"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg)
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_MinuteBudget(t *testing.T) {
	l, _ := newTestLimiter(Config{PerMinute: 3, PerHour: 100})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("client-a"), "request %d", i)
	}

	err := l.Allow("client-a")
	require.Error(t, err)

	var rlErr *domain.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Contains(t, rlErr.Message, "3 requests per minute")
	assert.False(t, rlErr.ResetAt.IsZero())
}

func TestLimiter_HourBudget(t *testing.T) {
	l, _ := newTestLimiter(Config{PerMinute: 100, PerHour: 2})

	require.NoError(t, l.Allow("client-a"))
	require.NoError(t, l.Allow("client-a"))

	err := l.Allow("client-a")
	var rlErr *domain.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Contains(t, rlErr.Message, "2 requests per hour")
}

func TestLimiter_ClientsIsolated(t *testing.T) {
	l, _ := newTestLimiter(Config{PerMinute: 1, PerHour: 100})

	require.NoError(t, l.Allow("client-a"))
	require.Error(t, l.Allow("client-a"))

	// A different client has its own buckets.
	require.NoError(t, l.Allow("client-b"))
}

func TestLimiter_RefillAfterWait(t *testing.T) {
	l, now := newTestLimiter(Config{PerMinute: 2, PerHour: 100})

	require.NoError(t, l.Allow("client-a"))
	require.NoError(t, l.Allow("client-a"))
	require.Error(t, l.Allow("client-a"))

	// One token refills every 30s at 2/minute.
	*now = now.Add(31 * time.Second)
	assert.NoError(t, l.Allow("client-a"))
}

func TestLimiter_RejectionConsumesNothing(t *testing.T) {
	l, now := newTestLimiter(Config{PerMinute: 2, PerHour: 100})

	require.NoError(t, l.Allow("client-a"))
	require.NoError(t, l.Allow("client-a"))

	// Repeated rejections must not push the reset time further out.
	for i := 0; i < 5; i++ {
		require.Error(t, l.Allow("client-a"))
	}
	*now = now.Add(31 * time.Second)
	assert.NoError(t, l.Allow("client-a"))
}

func TestLimiter_Cleanup(t *testing.T) {
	l, now := newTestLimiter(Config{PerMinute: 10, PerHour: 100})

	require.NoError(t, l.Allow("old-client"))
	*now = now.Add(3 * time.Hour)
	require.NoError(t, l.Allow("fresh-client"))

	removed := l.Cleanup(2 * time.Hour)
	assert.Equal(t, 1, removed)

	l.mu.Lock()
	_, oldGone := l.clients["old-client"]
	_, freshKept := l.clients["fresh-client"]
	l.mu.Unlock()
	assert.False(t, oldGone)
	assert.True(t, freshKept)
}

func TestLimiter_DefaultsApplied(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, 60, l.cfg.PerMinute)
	assert.Equal(t, 1000, l.cfg.PerHour)
}
