package rates

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnavailable indicates the rate store dependency is not configured.
	ErrStoreUnavailable = errors.New("rates: store unavailable")
	// ErrNotFound is returned when a rate id does not exist.
	ErrNotFound = errors.New("rates: rate not found")
)

// Store persists local tax rate records.
type Store interface {
	// FindRates returns the records matching the lookup, most specific first.
	FindRates(ctx context.Context, l Lookup) ([]Record, error)
	// InsertRate creates a record and returns its id. A record carrying a
	// LookupKey that already exists is updated in place instead and the
	// existing id returned.
	InsertRate(ctx context.Context, rec Record) (int64, error)
	UpdateRate(ctx context.Context, id int64, rec Record) error
	SetRatePostcodes(ctx context.Context, id int64, postcodes []string) error
	SetRateCities(ctx context.Context, id int64, cities []string) error
	GetRate(ctx context.Context, id int64) (Record, error)
}
