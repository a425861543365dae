package app_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tax/internal/app"
	"github.com/noah-isme/toko-tax/internal/cache"
	"github.com/noah-isme/toko-tax/internal/config"
	"github.com/noah-isme/toko-tax/internal/rates"
	"github.com/noah-isme/toko-tax/internal/tax"
	"github.com/noah-isme/toko-tax/internal/taxjar"
)

const nexusBody = `{"tax":{"rate":0.08875,"has_nexus":true,"freight_taxable":false,"breakdown":{"line_items":[{"id":"42-a","combined_tax_rate":0.08875,"tax_collectable":8.88,"line_total":100}]}}}`

func testConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	env := map[string]string{
		"TAXJAR_STUB":    "true",
		"STORE_COUNTRY":  "US:CA",
		"STORE_POSTCODE": "94107",
		"STORE_CITY":     "San Francisco",
		"DATABASE_URL":   "",
		"REDIS_URL":      "",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	return cfg
}

func cart() tax.CartContext {
	return tax.CartContext{
		Customer: &tax.Customer{Shipping: tax.Address{Country: "US", State: "NY", Postcode: "10001", City: "New York"}},
		Items: []tax.CartItem{{
			ProductID: 42, Key: "a", Quantity: 1,
			Price: decimal.NewFromInt(100), LineSubtotal: decimal.NewFromInt(100), LineTotal: decimal.NewFromInt(100),
			Taxable: true,
		}},
		ShippingTotal: decimal.NewFromInt(10),
		Total:         decimal.NewFromInt(110),
	}
}

func TestBuildInProcessDefaults(t *testing.T) {
	deps, err := app.Build(testConfig(t, nil), app.Options{Logger: zerolog.Nop(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.IsType(t, &rates.MemoryStore{}, deps.Rates)
	require.IsType(t, &cache.MemoryStore{}, deps.Cache)
	require.IsType(t, &taxjar.StubClient{}, deps.Remote)
	require.Equal(t, "toko", deps.Service.Plugin)
	require.Equal(t, "94107", deps.Service.Resolver.Store.Postcode)
	require.Nil(t, deps.Service.Cache.Dedup)
	require.True(t, deps.Service.ForwardExemptions)

	out, err := deps.Service.CalculateForCart(context.Background(), cart())
	require.NoError(t, err)
	require.Equal(t, tax.StateApplied, out.State)
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	stub := taxjar.NewStubClient(nexusBody)
	cfg := testConfig(t, map[string]string{"TAX_DEDUP_REMOTE": "true", "TAX_EXEMPTION_HANDLING": "ignore"})
	deps, err := app.Build(cfg, app.Options{Redis: rdb, Logger: zerolog.Nop(), Remote: stub})
	require.NoError(t, err)
	require.IsType(t, &cache.RedisStore{}, deps.Cache)
	require.NotNil(t, deps.Service.Cache.Dedup)
	require.False(t, deps.Service.ForwardExemptions)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		out, err := deps.Service.CalculateForCart(ctx, cart())
		require.NoError(t, err)
		require.Len(t, out.Assignment.LineRates, 1)
	}
	require.Len(t, stub.Calls(), 1)

	var cached int
	for _, key := range mr.Keys() {
		require.NotContains(t, key, "lock:")
		if len(key) > len(tax.CacheKeyPrefix) && key[:len(tax.CacheKeyPrefix)] == tax.CacheKeyPrefix {
			cached++
		}
	}
	require.Equal(t, 1, cached)
}

func TestBuildRemoteClient(t *testing.T) {
	cfg := testConfig(t, map[string]string{"TAXJAR_STUB": "false", "TAXJAR_API_TOKEN": "secret", "TAXJAR_QUOTA": "10-S"})
	deps, err := app.Build(cfg, app.Options{Logger: zerolog.Nop(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	client, ok := deps.Remote.(*taxjar.Client)
	require.True(t, ok)
	require.Equal(t, "secret", client.Token)
	require.NotNil(t, client.Quota)

	cfg = testConfig(t, map[string]string{"TAXJAR_STUB": "false", "TAXJAR_API_TOKEN": "secret", "TAXJAR_QUOTA": "lots"})
	_, err = app.Build(cfg, app.Options{Logger: zerolog.Nop(), Registry: prometheus.NewRegistry()})
	require.Error(t, err)
}
