package tax

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-tax/internal/cache"
	"github.com/noah-isme/toko-tax/internal/obs"
	"github.com/noah-isme/toko-tax/internal/taxjar"
)

// CacheKeyPrefix prefixes every calculation cache key.
const CacheKeyPrefix = "tj_tax_"

// DefaultCacheTTL applies when CalculationCache.TTL is unset.
const DefaultCacheTTL = time.Hour

// Deduplicator collapses concurrent calls sharing a key.
// *singleflight.Group satisfies it.
type Deduplicator interface {
	Do(key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool)
}

type passThrough struct{}

func (passThrough) Do(_ string, fn func() (interface{}, error)) (interface{}, error, bool) {
	v, err := fn()
	return v, err, false
}

// CalculationCache answers requests from the transient store and calls the
// remote service on a miss. Only 200 answers are stored.
type CalculationCache struct {
	Store  cache.Store
	Client taxjar.Sender
	TTL    time.Duration
	Dedup  Deduplicator
	Logger zerolog.Logger
}

// CacheKey returns the store key for req.
func CacheKey(req CalculationRequest) (string, error) {
	payload, err := req.Canonical()
	if err != nil {
		return "", err
	}
	return cache.Key(CacheKeyPrefix, payload), nil
}

// GetOrCompute returns the remote answer for req and whether it came from
// the store. Store failures degrade to a miss. Transport failures are
// returned as errors and nothing is stored.
func (c *CalculationCache) GetOrCompute(ctx context.Context, req CalculationRequest) (taxjar.Response, bool, error) {
	if c.Client == nil {
		return taxjar.Response{}, false, fmt.Errorf("%w: no remote client configured", taxjar.ErrTransport)
	}
	payload, err := req.Canonical()
	if err != nil {
		return taxjar.Response{}, false, fmt.Errorf("%w: encode: %v", ErrInvalidRequest, err)
	}
	key := cache.Key(CacheKeyPrefix, payload)

	if c.Store != nil {
		var cached taxjar.Response
		ok, err := cache.GetJSON(ctx, c.Store, key, &cached)
		switch {
		case err != nil:
			c.Logger.Warn().Err(err).Str("key", key).Msg("tax_cache_read_failed")
		case ok:
			obs.ObserveCacheLookup("hit")
			c.Logger.Debug().Str("key", key).Msg("tax_cache_hit")
			return cached, true, nil
		}
	}
	obs.ObserveCacheLookup("miss")

	dedup := c.Dedup
	if dedup == nil {
		dedup = passThrough{}
	}
	// The call may be shared by waiters on the same key, so one caller's
	// cancellation must not fail the others. The transport timeout still
	// bounds it.
	callCtx := ctx
	if c.Dedup != nil {
		callCtx = context.WithoutCancel(ctx)
	}
	v, err, shared := dedup.Do(key, func() (interface{}, error) {
		resp, err := c.Client.Send(callCtx, payload)
		if err != nil {
			return taxjar.Response{}, err
		}
		if resp.OK() && c.Store != nil {
			if err := cache.SetJSON(callCtx, c.Store, key, resp, c.ttl()); err != nil {
				c.Logger.Warn().Err(err).Str("key", key).Msg("tax_cache_write_failed")
			}
		}
		return resp, nil
	})
	if err != nil {
		return taxjar.Response{}, false, err
	}
	if shared {
		c.Logger.Debug().Str("key", key).Msg("tax_remote_shared")
	}
	resp, _ := v.(taxjar.Response)
	return resp, false, nil
}

func (c *CalculationCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultCacheTTL
}
