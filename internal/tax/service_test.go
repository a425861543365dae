package tax_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tax/internal/cache"
	"github.com/noah-isme/toko-tax/internal/lock"
	"github.com/noah-isme/toko-tax/internal/rates"
	"github.com/noah-isme/toko-tax/internal/tax"
	"github.com/noah-isme/toko-tax/internal/taxjar"
)

const nexusBody = `{"tax":{"rate":0.08875,"has_nexus":true,"freight_taxable":false,"breakdown":{"shipping":{"combined_tax_rate":0},"line_items":[{"id":"42-a","combined_tax_rate":0.08875,"tax_collectable":8.88,"line_total":100}]}}}`

type fixture struct {
	svc   *tax.Service
	stub  *taxjar.StubClient
	rates *rates.MemoryStore
}

func newFixture(t *testing.T, body string) fixture {
	t.Helper()
	stub := taxjar.NewStubClient(body)
	store := rates.NewMemoryStore()
	svc := &tax.Service{
		Resolver: tax.AddressResolver{Basis: tax.BasisShipping, Store: storeAddress},
		Cache: &tax.CalculationCache{
			Store:  cache.NewMemoryStore(),
			Client: stub,
			TTL:    time.Hour,
			Logger: zerolog.Nop(),
		},
		Reconciler:        &tax.Reconciler{Store: store, Locker: &lock.KeyedMutex{}, Logger: zerolog.Nop()},
		ForwardExemptions: true,
		Plugin:            "toko",
		Logger:            zerolog.Nop(),
	}
	return fixture{svc: svc, stub: stub, rates: store}
}

func nyCart() tax.CartContext {
	return tax.CartContext{
		Customer: &tax.Customer{ID: 5, Shipping: nyAddress},
		Items: []tax.CartItem{{
			ProductID: 42, Key: "a", Quantity: 1,
			Price: dec("100"), LineSubtotal: dec("100"), LineTotal: dec("100"),
			Taxable: true,
		}},
		ShippingTotal: dec("10"),
		Total:         dec("110"),
	}
}

func TestCartEndToEnd(t *testing.T) {
	f := newFixture(t, nexusBody)
	ctx := context.Background()

	out, err := f.svc.CalculateForCart(ctx, nyCart())
	require.NoError(t, err)
	require.Equal(t, tax.StateApplied, out.State)
	require.Equal(t, []tax.State{
		tax.StateIdle, tax.StateAddressResolved, tax.StateValidated, tax.StateCacheLookup,
		tax.StateRemoteCall, tax.StateResponseMapped, tax.StateReconciled, tax.StateApplied,
	}, out.Path)
	require.Len(t, out.Assignment.LineRates, 1)
	require.Zero(t, out.Assignment.Shipping)
	require.True(t, out.ClearShippingTaxes)

	rec, err := f.rates.GetRate(ctx, out.Assignment.LineRates["42-a"])
	require.NoError(t, err)
	require.True(t, rec.Rate.Equal(dec("8.875")))
	require.Equal(t, "NY", rec.State)
	require.Equal(t, 1, f.rates.Len())

	calls := f.stub.Calls()
	require.Len(t, calls, 1)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(calls[0], &wire))
	require.Equal(t, "94107", wire["from_zip"])
	require.Equal(t, "10001", wire["to_zip"])
	require.Equal(t, "toko", wire["plugin"])
	require.EqualValues(t, 5, wire["customer_id"])
}

func TestCartIsIdempotentWithinTTL(t *testing.T) {
	f := newFixture(t, nexusBody)
	ctx := context.Background()

	first, err := f.svc.CalculateForCart(ctx, nyCart())
	require.NoError(t, err)
	second, err := f.svc.CalculateForCart(ctx, nyCart())
	require.NoError(t, err)

	require.False(t, first.FromCache)
	require.True(t, second.FromCache)
	require.NotContains(t, second.Path, tax.StateRemoteCall)
	require.Len(t, f.stub.Calls(), 1)
	require.Equal(t, first.Assignment.LineRates, second.Assignment.LineRates)
}

func TestCartSkipConditions(t *testing.T) {
	cases := map[tax.SkipReason]func(c *tax.CartContext){
		tax.SkipZeroTotal: func(c *tax.CartContext) { c.Total = decimal.Zero },
		tax.SkipVATExempt: func(c *tax.CartContext) { c.Customer.VATExempt = true },
		tax.SkipMissingDestination: func(c *tax.CartContext) {
			c.Customer.Shipping.Country = ""
		},
		tax.SkipInvalidPostalCode: func(c *tax.CartContext) { c.Customer.Shipping.Postcode = "1234" },
		tax.SkipNothingToTax: func(c *tax.CartContext) {
			c.Items = nil
			c.ShippingTotal = decimal.Zero
		},
	}
	for reason, mutate := range cases {
		f := newFixture(t, nexusBody)
		cart := nyCart()
		mutate(&cart)
		out, err := f.svc.CalculateForCart(context.Background(), cart)
		require.NoError(t, err, reason)
		require.True(t, out.Skipped(), reason)
		require.Equal(t, reason, out.SkipReason)
		require.Empty(t, f.stub.Calls(), reason)
	}
}

func TestVATExemptWinsOverEverything(t *testing.T) {
	f := newFixture(t, nexusBody)
	out, err := f.svc.CalculateForCart(context.Background(), tax.CartContext{
		Customer: &tax.Customer{VATExempt: true},
		Total:    dec("50"),
	})
	require.NoError(t, err)
	require.Equal(t, tax.SkipVATExempt, out.SkipReason)
}

func TestCartMissingCustomerSkips(t *testing.T) {
	f := newFixture(t, nexusBody)
	cart := nyCart()
	cart.Customer = nil
	out, err := f.svc.CalculateForCart(context.Background(), cart)
	require.NoError(t, err)
	require.Equal(t, tax.SkipMissingDestination, out.SkipReason)
}

func TestLocalNexusFilter(t *testing.T) {
	f := newFixture(t, nexusBody)
	f.svc.Nexus = tax.NewNexusRegions([]string{"US-CA"})
	out, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.NoError(t, err)
	require.Equal(t, tax.SkipNoNexus, out.SkipReason)
	require.Empty(t, f.stub.Calls())
}

func TestRemoteWithoutNexusSkipsWithResult(t *testing.T) {
	f := newFixture(t, `{"tax":{"rate":0,"has_nexus":false,"freight_taxable":false}}`)
	out, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.NoError(t, err)
	require.Equal(t, tax.SkipNoNexus, out.SkipReason)
	require.NotNil(t, out.Result)
	require.Zero(t, f.rates.Len())
}

func TestRemoteFailuresAreSkips(t *testing.T) {
	f := newFixture(t, nexusBody)
	f.stub.Fail(errors.Join(taxjar.ErrTransport, context.DeadlineExceeded))
	out, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.NoError(t, err)
	require.Equal(t, tax.SkipRemoteUnavailable, out.SkipReason)

	f = newFixture(t, nexusBody)
	f.stub.Respond(taxjar.Response{StatusCode: http.StatusBadRequest, Body: []byte(`{"error":"to_zip invalid"}`)})
	out, err = f.svc.CalculateForCart(context.Background(), nyCart())
	require.NoError(t, err)
	require.Equal(t, tax.SkipRemoteNoAnswer, out.SkipReason)
}

func TestMalformedResponseAborts(t *testing.T) {
	f := newFixture(t, `{"unexpected":true}`)
	out, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.ErrorIs(t, err, tax.ErrMalformedResponse)
	require.Equal(t, tax.StateFailed, out.State)
	require.Nil(t, out.Result)
	require.Zero(t, f.rates.Len())
}

func TestPreRequestHookRevalidates(t *testing.T) {
	f := newFixture(t, nexusBody)
	f.svc.Hooks.PreRequest = func(_ context.Context, req *tax.CalculationRequest) error {
		req.To.Postcode = ""
		return nil
	}
	_, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.ErrorIs(t, err, tax.ErrInvalidRequest)
	require.Empty(t, f.stub.Calls())
}

func TestHooksAdjustRequestAndResult(t *testing.T) {
	f := newFixture(t, nexusBody)
	f.svc.Hooks.Exemption = func(_ context.Context, site tax.Site, _ tax.ExemptionType) tax.ExemptionType {
		require.Equal(t, tax.SiteCart, site)
		return tax.ExemptionWholesale
	}
	f.svc.Hooks.CustomerID = func(context.Context, tax.Site, int64) int64 { return 77 }
	f.svc.Hooks.PostResponse = func(_ context.Context, res *tax.Result) error {
		res.FreightTaxable = true
		return nil
	}
	out, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.NoError(t, err)
	require.NotZero(t, out.Assignment.Shipping)
	require.False(t, out.ClearShippingTaxes)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(f.stub.Calls()[0], &wire))
	require.Equal(t, "wholesale", wire["exemption_type"])
	require.EqualValues(t, 77, wire["customer_id"])
}

func TestIgnoredExemptionsAreNotForwarded(t *testing.T) {
	f := newFixture(t, nexusBody)
	f.svc.ForwardExemptions = false
	cart := nyCart()
	cart.ExemptionType = tax.ExemptionGovernment
	_, err := f.svc.CalculateForCart(context.Background(), cart)
	require.NoError(t, err)
	require.NotContains(t, string(f.stub.Calls()[0]), "exemption_type")
}

func TestRateStoreFailureReturnsPartialAssignment(t *testing.T) {
	f := newFixture(t, nexusBody)
	f.svc.Reconciler.Store = failingStore{MemoryStore: f.rates, failClass: ""}
	out, err := f.svc.CalculateForCart(context.Background(), nyCart())
	require.ErrorIs(t, err, tax.ErrRateStore)
	require.True(t, out.Partial)
	require.Equal(t, tax.StateReconciled, out.State)
	require.NotNil(t, out.Result)
}

const orderBody = `{"tax":{"rate":0.0725,"has_nexus":true,"freight_taxable":true,"breakdown":{"shipping":{"combined_tax_rate":0.0725},"line_items":[
	{"id":"7-101","combined_tax_rate":0.0725,"tax_collectable":1.45,"line_total":20},
	{"id":"7-102","combined_tax_rate":0.0725,"tax_collectable":0,"line_total":15},
	{"id":"8-103","combined_tax_rate":0,"tax_collectable":0,"line_total":5}
]}}}`

func newOrder() tax.OrderContext {
	return tax.OrderContext{
		ID:         9,
		CustomerID: 3,
		Shipping:   tax.Address{Country: "US", State: "CA", Postcode: "94107", City: "SF"},
		Items: []tax.OrderItem{
			{ProductID: 7, ItemID: 101, Quantity: 1, Subtotal: dec("20"), Total: dec("20"), TaxClass: "standard", TaxStatus: "taxable"},
			{ProductID: 7, ItemID: 102, Quantity: 1, Subtotal: dec("15"), Total: dec("15"), TaxClass: "standard", TaxStatus: "taxable"},
			{ProductID: 8, ItemID: 103, Quantity: 1, Subtotal: dec("5"), Total: dec("5"), TaxClass: "reduced-rate", TaxStatus: "taxable"},
		},
		ShippingTotal: dec("8"),
	}
}

func TestOrderCalculation(t *testing.T) {
	f := newFixture(t, orderBody)
	out, err := f.svc.CalculateForOrder(context.Background(), newOrder())
	require.NoError(t, err)
	require.Equal(t, tax.StateApplied, out.State)
	require.Equal(t, out.Assignment.LineRates["7-101"], out.Assignment.LineRates["7-102"])
	require.NotContains(t, out.Assignment.LineRates, "8-103")
	require.Equal(t, []string{"8-103"}, out.UntaxedLineItems)
	require.NotZero(t, out.Assignment.Shipping)
	require.False(t, out.ClearShippingTaxes)

	rateID := out.Assignment.LineRates["7-101"]
	amount, ok := out.TaxForRate(rateID, dec("20.001"))
	require.True(t, ok)
	require.True(t, amount.Equal(dec("1.45")))
	amount, ok = out.TaxForRate(rateID, dec("15"))
	require.True(t, ok)
	require.True(t, amount.IsZero())
	_, ok = out.TaxForRate(rateID, dec("99"))
	require.False(t, ok)
}

func TestOrderOverrideAddressAndZeroTotal(t *testing.T) {
	f := newFixture(t, orderBody)
	order := newOrder()
	order.Override = &tax.Address{Country: "us", State: "ny", Postcode: "10001"}
	_, err := f.svc.CalculateForOrder(context.Background(), order)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(f.stub.Calls()[0], &wire))
	require.Equal(t, "NY", wire["to_state"])

	order = newOrder()
	order.Fees = []decimal.Decimal{dec("-48")}
	out, err := f.svc.CalculateForOrder(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, tax.SkipZeroTotal, out.SkipReason)

	order = newOrder()
	order.VATExempt = true
	out, err = f.svc.CalculateForOrder(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, tax.SkipVATExempt, out.SkipReason)
}
