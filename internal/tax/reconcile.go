package tax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-tax/internal/obs"
	"github.com/noah-isme/toko-tax/internal/rates"
)

// KeyLocker serialises work per key. lock.Locker and lock.KeyedMutex
// satisfy it.
type KeyLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Location is the destination rates are reconciled for.
type Location struct {
	Country  string
	State    string
	Postcode string
	City     string
}

// LineRate is the remote rate quoted for one line.
type LineRate struct {
	ID       string
	TaxClass string
	// Rate is a fraction, 0.08875 for 8.875%.
	Rate decimal.Decimal
}

// ShippingRate is the remote rate quoted for shipping.
type ShippingRate struct {
	Rate           decimal.Decimal
	FreightTaxable bool
}

// Assignment maps line ids to local rate ids.
type Assignment struct {
	LineRates map[string]int64
	// Shipping is the rate id applied to shipping, 0 when none.
	Shipping int64
	// Partial is set when some writes failed.
	Partial bool
}

// Reconciler keeps local rate records in line with remote answers.
type Reconciler struct {
	Store   rates.Store
	Locker  KeyLocker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

var hundred = decimal.NewFromInt(100)

// Reconcile finds or creates a local record for every positive line rate
// and for shipping when freight is taxable. Failures do not stop the pass;
// they are joined into an error wrapping ErrRateStore and the assignment is
// marked Partial.
func (r *Reconciler) Reconcile(ctx context.Context, loc Location, lines []LineRate, shipping ShippingRate) (Assignment, error) {
	out := Assignment{LineRates: make(map[string]int64, len(lines))}
	if r == nil || r.Store == nil {
		return out, fmt.Errorf("%w: %v", ErrRateStore, rates.ErrStoreUnavailable)
	}
	memo := make(map[string]int64)
	var errs []error

	for _, line := range lines {
		if !line.Rate.IsPositive() {
			continue
		}
		id, err := r.ensure(ctx, memo, loc, line.TaxClass, line.Rate, shipping.FreightTaxable)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", line.ID, err))
			continue
		}
		out.LineRates[line.ID] = id
	}
	if shipping.FreightTaxable {
		id, err := r.ensure(ctx, memo, loc, "", shipping.Rate, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("shipping: %w", err))
		} else {
			out.Shipping = id
		}
	}
	if len(errs) > 0 {
		out.Partial = true
		return out, fmt.Errorf("%w: %w", ErrRateStore, errors.Join(errs...))
	}
	return out, nil
}

func (r *Reconciler) ensure(ctx context.Context, memo map[string]int64, loc Location, class string, rate decimal.Decimal, freightTaxable bool) (int64, error) {
	lookup := rates.Lookup{Country: loc.Country, State: loc.State, Postcode: loc.Postcode, City: loc.City, TaxClass: class}
	digest := lookup.Digest()
	var id int64
	work := func(ctx context.Context) error {
		var err error
		id, err = r.findOrCreate(ctx, memo, digest, lookup, rate, freightTaxable)
		return err
	}
	var err error
	if r.Locker != nil {
		err = r.Locker.WithLock(ctx, "rate:"+digest, r.LockTTL, work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		obs.ObserveReconciliation("error")
		r.Logger.Warn().Err(err).Str("lookup", lookup.Key()).Msg("tax_rate_reconcile_failed")
		return 0, err
	}
	return id, nil
}

func (r *Reconciler) findOrCreate(ctx context.Context, memo map[string]int64, digest string, lookup rates.Lookup, rate decimal.Decimal, freightTaxable bool) (int64, error) {
	n := lookup.Normalize()
	rec := rates.Record{
		Country:  n.Country,
		State:    n.State,
		Name:     strings.TrimSpace(n.State + " Tax"),
		Priority: 1,
		Compound: false,
		Shipping: freightTaxable,
		Rate:     rate.Mul(hundred),
		TaxClass: n.TaxClass,
	}

	id, ok := memo[digest]
	if !ok {
		found, err := r.Store.FindRates(ctx, lookup)
		if err != nil {
			return 0, fmt.Errorf("find rates: %w", err)
		}
		if len(found) > 0 {
			id = found[0].ID
			obs.ObserveReconciliation("found")
		} else {
			create := rec
			create.LookupKey = digest
			create.Postcodes = []string{n.Postcode}
			create.Cities = []string{n.City}
			id, err = r.Store.InsertRate(ctx, create)
			if err != nil {
				return 0, fmt.Errorf("insert rate: %w", err)
			}
			obs.ObserveReconciliation("created")
			r.Logger.Debug().Int64("rate_id", id).Str("lookup", lookup.Key()).Msg("tax_rate_created")
		}
		memo[digest] = id
	}

	if err := r.Store.UpdateRate(ctx, id, rec); err != nil {
		return 0, fmt.Errorf("update rate %d: %w", id, err)
	}
	obs.ObserveReconciliation("updated")
	return id, nil
}
