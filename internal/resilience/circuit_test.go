package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	breaker := NewBreaker(BreakerConfig{MinRequests: 2, FailureRatio: 0.5, OpenFor: 50 * time.Millisecond})
	breaker.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, Open, breaker.State())

	now = now.Add(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "breaker should move to half-open after cool off")
	require.Equal(t, HalfOpen, breaker.State())
	breaker.Report(ctx, true)
	require.Equal(t, Closed, breaker.State())
}

func TestBreakerMetricsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewBreakerMetrics("toko", reg)
	now := time.Unix(1_700_000_000, 0)
	breaker := NewBreaker(BreakerConfig{Target: "taxjar", MinRequests: 1, OpenFor: 20 * time.Millisecond, Metrics: metrics})
	breaker.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.State.WithLabelValues("taxjar")))

	now = now.Add(25 * time.Millisecond)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.State.WithLabelValues("taxjar")))

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.State.WithLabelValues("taxjar")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Opened.WithLabelValues("taxjar")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("taxjar", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("taxjar", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("taxjar", "half_open", "closed")))

	again := NewBreakerMetrics("toko", reg)
	require.Same(t, metrics.State, again.State)
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, Backoff(base, 1, 0))
	require.Equal(t, base*4, Backoff(base, 3, 0))

	d := Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}
