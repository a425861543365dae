package taxjar

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-tax/internal/ratelimit"
	"github.com/noah-isme/toko-tax/internal/resilience"
)

// HTTPOptions tunes the outbound client.
type HTTPOptions struct {
	Timeout             time.Duration
	MaxAttempts         int
	RetryBase           time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	BreakerMetrics      *resilience.BreakerMetrics
	Logger              zerolog.Logger
}

// NewHTTPClient builds the instrumented, retrying client used for remote
// calls.
func NewHTTPClient(opts HTTPOptions) resilience.HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "taxjar",
			MinRequests:  opts.BreakerMinRequests,
			FailureRatio: opts.BreakerFailureRatio,
			OpenFor:      opts.BreakerOpenFor,
			Metrics:      opts.BreakerMetrics,
			Logger:       opts.Logger,
		}),
		BaseBackoff: opts.RetryBase,
		MaxAttempts: opts.MaxAttempts,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}

// NewQuota builds an outbound quota from a formatted rate such as "300-M".
// With a nil Redis client the counter lives in process memory.
func NewQuota(formatted string, rdb *redis.Client) (*limiter.Limiter, error) {
	return ratelimit.New(formatted, rdb, "taxjar_quota")
}
