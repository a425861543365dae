package tax_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tax/internal/tax"
)

var storeAddress = tax.Address{Country: "US", State: "CA", Postcode: "94107", City: "San Francisco", Street: "1 Market St"}

func TestAddressResolverBasis(t *testing.T) {
	customer := &tax.Customer{
		Billing:  tax.Address{Country: "US", State: "WA", Postcode: "98101"},
		Shipping: tax.Address{Country: "US", State: "NY", Postcode: "10001"},
	}
	src := tax.AddressSource{Customer: customer}

	require.Equal(t, "NY", tax.AddressResolver{Basis: tax.BasisShipping, Store: storeAddress}.Resolve(src).State)
	require.Equal(t, "WA", tax.AddressResolver{Basis: tax.BasisBilling, Store: storeAddress}.Resolve(src).State)
	require.Equal(t, storeAddress, tax.AddressResolver{Basis: tax.BasisBase, Store: storeAddress}.Resolve(src))
	require.True(t, tax.AddressResolver{Basis: tax.BasisShipping}.Resolve(tax.AddressSource{}).Empty())
}

func TestAddressResolverLocalPickup(t *testing.T) {
	r := tax.AddressResolver{
		Basis:              tax.BasisShipping,
		Store:              storeAddress,
		LocalPickupMethods: []string{"legacy_local_pickup", "local_pickup"},
		BaseForLocalPickup: true,
	}
	src := tax.AddressSource{
		Customer:        &tax.Customer{Shipping: tax.Address{Country: "US", State: "NY", Postcode: "10001"}},
		ShippingMethods: []string{"local_pickup:3"},
	}
	require.Equal(t, storeAddress, r.Resolve(src))

	r.BaseForLocalPickup = false
	require.Equal(t, "NY", r.Resolve(src).State)

	r.BaseForLocalPickup = true
	src.ShippingMethods = []string{"flat_rate:1"}
	require.Equal(t, "NY", r.Resolve(src).State)
}

func TestAddressFromOrder(t *testing.T) {
	shipping := tax.Address{Country: "US", State: "NY", Postcode: "10001"}
	require.Equal(t, shipping, tax.AddressFromOrder(shipping, nil))
	require.Equal(t, shipping, tax.AddressFromOrder(shipping, &tax.Address{State: "ca"}))

	got := tax.AddressFromOrder(shipping, &tax.Address{Country: "us", State: "ca", Postcode: "94107", City: "oakland"})
	require.Equal(t, tax.Address{Country: "US", State: "CA", Postcode: "94107", City: "OAKLAND"}, got)
}

func TestNexusRegions(t *testing.T) {
	require.True(t, tax.NewNexusRegions(nil).Covers("US", "NY"))

	n := tax.NewNexusRegions([]string{"us-ny", "CA", " "})
	require.False(t, n.Empty())
	require.True(t, n.Covers("US", "NY"))
	require.True(t, n.Covers("ca", "ON"))
	require.False(t, n.Covers("US", "CA"))
}
