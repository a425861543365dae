package cache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tax/internal/cache"
)

func TestRedisStoreRoundTripAndExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewRedisStore(client)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "tj_tax_a", []byte(`{"x":1}`), time.Minute))
	data, ok, err := store.Get(ctx, "tj_tax_a")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"x":1}`, string(data))

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "tj_tax_a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreSurfacesBackendErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, _, err = cache.NewRedisStore(client).Get(context.Background(), "k")
	require.Error(t, err)
}

func TestMemoryStoreCooperativeExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Hour))
	data, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(data))

	now = now.Add(time.Hour)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	type payload struct {
		Rate string `json:"rate"`
	}
	require.NoError(t, cache.SetJSON(ctx, store, "p", payload{Rate: "0.08"}, 0))
	var got payload
	ok, err := cache.GetJSON(ctx, store, "p", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0.08", got.Rate)
}

func TestKeyIsContentAddressed(t *testing.T) {
	a := cache.Key("tj_tax_", []byte(`{"a":1}`))
	b := cache.Key("tj_tax_", []byte(`{"a":1}`))
	c := cache.Key("tj_tax_", []byte(`{"a":2}`))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, len("tj_tax_")+64)
}
