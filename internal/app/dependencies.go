// Package app assembles the tax engine from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/toko-tax/internal/cache"
	"github.com/noah-isme/toko-tax/internal/config"
	"github.com/noah-isme/toko-tax/internal/health"
	"github.com/noah-isme/toko-tax/internal/lock"
	"github.com/noah-isme/toko-tax/internal/obs"
	"github.com/noah-isme/toko-tax/internal/rates"
	"github.com/noah-isme/toko-tax/internal/resilience"
	"github.com/noah-isme/toko-tax/internal/tax"
	"github.com/noah-isme/toko-tax/internal/taxjar"
)

// Dependencies holds the constructed engine and its collaborators.
type Dependencies struct {
	Service   *tax.Service
	Handler   *tax.Handler
	Rates     rates.Store
	Cache     cache.Store
	Remote    taxjar.Sender
	Validator *validator.Validate
	Health    health.Handler
}

// Options are the live connections the engine may use. Nil fields select
// the in-process fallbacks.
type Options struct {
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Registry prometheus.Registerer
	Logger   zerolog.Logger
	// Remote replaces the configured remote client, mainly for tests.
	Remote taxjar.Sender
}

// Build wires the calculation service from cfg.
func Build(cfg *config.Config, opts Options) (*Dependencies, error) {
	logger := opts.Logger
	taxLog := obs.Component(logger, "tax", cfg.Tax.Debug)

	var rateStore rates.Store = rates.NewMemoryStore()
	if opts.DB != nil {
		rateStore = rates.NewPGStore(opts.DB)
	}

	var kv cache.Store = cache.NewMemoryStore()
	var locker tax.KeyLocker = &lock.KeyedMutex{}
	if opts.Redis != nil {
		kv = cache.NewRedisStore(opts.Redis)
		locker = lock.Locker{R: opts.Redis, Prefix: "lock:", RetryBackoff: cfg.Lock.Retry}
	}

	remote := opts.Remote
	if remote == nil {
		var err error
		remote, err = newRemote(cfg, opts, obs.Component(logger, "taxjar", cfg.Tax.Debug))
		if err != nil {
			return nil, err
		}
	}

	calcCache := &tax.CalculationCache{
		Store:  kv,
		Client: remote,
		TTL:    cfg.Tax.CacheTTL,
		Logger: taxLog,
	}
	if cfg.Tax.DedupRemote {
		calcCache.Dedup = &singleflight.Group{}
	}

	svc := &tax.Service{
		Resolver: tax.AddressResolver{
			Basis:              tax.Basis(cfg.Tax.BasedOn),
			Store:              storeAddress(cfg.Store),
			LocalPickupMethods: cfg.Tax.LocalPickupMethods,
			BaseForLocalPickup: cfg.Tax.BaseForLocalPickup,
		},
		Cache: calcCache,
		Reconciler: &tax.Reconciler{
			Store:   rateStore,
			Locker:  locker,
			LockTTL: cfg.Lock.TTL,
			Logger:  obs.Component(logger, "rates", cfg.Tax.Debug),
		},
		Nexus:             tax.NewNexusRegions(cfg.Tax.NexusRegions),
		ForwardExemptions: cfg.Tax.ExemptionHandling == config.ExemptionForward,
		Plugin:            cfg.TaxJar.Plugin,
		Logger:            taxLog,
	}

	v := tax.NewValidator()
	return &Dependencies{
		Service:   svc,
		Handler:   &tax.Handler{Svc: svc, Rates: rateStore, Validator: v},
		Rates:     rateStore,
		Cache:     kv,
		Remote:    remote,
		Validator: v,
		Health:    newHealth(opts),
	}, nil
}

func newRemote(cfg *config.Config, opts Options, logger zerolog.Logger) (taxjar.Sender, error) {
	if cfg.TaxJar.Stub {
		logger.Warn().Msg("taxjar_stub_enabled")
		return taxjar.NewStubClient(""), nil
	}
	quota, err := taxjar.NewQuota(cfg.TaxJar.Quota, opts.Redis)
	if err != nil {
		return nil, fmt.Errorf("taxjar quota: %w", err)
	}
	var breakerMetrics *resilience.BreakerMetrics
	if cfg.Obs.EnablePrometheus {
		breakerMetrics = resilience.NewBreakerMetrics(cfg.Obs.MetricsNamespace, opts.Registry)
	}
	httpClient := taxjar.NewHTTPClient(taxjar.HTTPOptions{
		Timeout:             cfg.TaxJar.Timeout,
		MaxAttempts:         cfg.TaxJar.RetryMaxAttempts,
		RetryBase:           cfg.TaxJar.RetryBase,
		BreakerMinRequests:  cfg.TaxJar.BreakerMinRequests,
		BreakerFailureRatio: cfg.TaxJar.BreakerFailureRatio,
		BreakerOpenFor:      cfg.TaxJar.BreakerOpenFor,
		BreakerMetrics:      breakerMetrics,
		Logger:              logger,
	})
	return &taxjar.Client{
		BaseURL: cfg.TaxJar.BaseURL,
		Token:   cfg.TaxJar.APIToken,
		Plugin:  cfg.TaxJar.Plugin,
		HTTP:    httpClient,
		Quota:   quota,
		Logger:  logger,
	}, nil
}

func newHealth(opts Options) health.Handler {
	h := health.Handler{Timeout: 500 * time.Millisecond}
	if opts.DB != nil {
		h.DB = opts.DB.Ping
	}
	if opts.Redis != nil {
		rdb := opts.Redis
		h.Redis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return h
}

func storeAddress(s config.StoreAddress) tax.Address {
	return tax.Address{Country: s.Country, State: s.State, Postcode: s.Postcode, City: s.City, Street: s.Street}
}
