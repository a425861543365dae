//go:build integration

package rates_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/toko-tax/internal/rates"
)

func newPGStore(t *testing.T) *rates.PGStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tax_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, rates.Migrate(dsn))
	require.NoError(t, rates.Migrate(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return rates.NewPGStore(pool)
}

func TestPGStoreAgainstPostgres(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	generic, err := store.InsertRate(ctx, rates.Record{Country: "US", Rate: decimal.NewFromInt(5), Priority: 1})
	require.NoError(t, err)
	specific, err := store.InsertRate(ctx, rates.Record{
		Country: "US", State: "NY", Name: "NY Tax", Priority: 1,
		Rate: decimal.RequireFromString("8.875"), Postcodes: []string{"100*"}, Cities: []string{"new york"},
	})
	require.NoError(t, err)
	_, err = store.InsertRate(ctx, rates.Record{Country: "US", State: "NY", Rate: decimal.NewFromInt(4), Postcodes: []string{"112*"}})
	require.NoError(t, err)

	found, err := store.FindRates(ctx, rates.Lookup{Country: "us", State: "ny", Postcode: "10001", City: "New York"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, specific, found[0].ID)
	require.Equal(t, []string{"100*"}, found[0].Postcodes)
	require.Equal(t, []string{"NEW YORK"}, found[0].Cities)
	require.Equal(t, generic, found[1].ID)

	reduced, err := store.FindRates(ctx, rates.Lookup{Country: "US", State: "NY", Postcode: "10001", City: "New York", TaxClass: "reduced-rate"})
	require.NoError(t, err)
	require.Empty(t, reduced)

	require.NoError(t, store.UpdateRate(ctx, specific, rates.Record{Country: "US", State: "NY", Name: "NY Tax", Priority: 1, Shipping: true, Rate: decimal.RequireFromString("887.5")}))
	rec, err := store.GetRate(ctx, specific)
	require.NoError(t, err)
	require.True(t, rec.Rate.Equal(decimal.RequireFromString("887.5")))
	require.True(t, rec.Shipping)

	require.ErrorIs(t, store.UpdateRate(ctx, 999999, rates.Record{}), rates.ErrNotFound)
	_, err = store.GetRate(ctx, 999999)
	require.ErrorIs(t, err, rates.ErrNotFound)
}

func TestPGStoreConcurrentInsertsConverge(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	key := rates.Lookup{Country: "US", State: "CA", Postcode: "94107", City: "San Francisco"}.Digest()

	const writers = 8
	ids := make([]int64, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = store.InsertRate(ctx, rates.Record{
				Country: "US", State: "CA", Name: "CA Tax", Priority: 1,
				Rate: decimal.RequireFromString("862.5"), LookupKey: key,
				Postcodes: []string{"94107"}, Cities: []string{"San Francisco"},
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
	found, err := store.FindRates(ctx, rates.Lookup{Country: "US", State: "CA", Postcode: "94107", City: "San Francisco"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, key, found[0].LookupKey)
}
