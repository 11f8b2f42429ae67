package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameSite(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.acmetools.co.uk"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://acmetools.co.uk/contact"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond,
		"www and bare host should share a bucket")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.othersite.com"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestLimiterUnlimitedAndEviction(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxHosts: 2})
	ctx := context.Background()
	clock := time.Unix(0, 0)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for _, u := range []string{"https://a.com", "https://b.com", "https://a.com", "https://c.com"} {
		require.NoError(t, l.Wait(ctx, u))
	}
	assert.Equal(t, 2, l.Len())
	_, hasB := l.buckets["b.com"]
	assert.False(t, hasB, "least recently used site should be evicted")

	assert.Equal(t, "unknown", siteKey("::bad"))
}
