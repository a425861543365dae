package tax

import "strings"

// Address is a postal location. Only Country is mandatory for a calculation
// to be attempted.
type Address struct {
	Country  string `json:"country"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
	City     string `json:"city"`
	Street   string `json:"street"`
}

// Empty reports whether no country is known.
func (a Address) Empty() bool { return strings.TrimSpace(a.Country) == "" }

// Basis selects which address is taxed.
type Basis string

const (
	BasisShipping Basis = "shipping"
	BasisBilling  Basis = "billing"
	BasisBase     Basis = "base"
)

// Customer is the shopper a cart belongs to.
type Customer struct {
	ID        int64
	Billing   Address
	Shipping  Address
	VATExempt bool
}

// AddressSource is what the resolver reads from a cart session.
type AddressSource struct {
	// Customer is nil when the session has no customer object.
	Customer        *Customer
	ShippingMethods []string
}

// AddressResolver derives the taxable destination of a cart.
type AddressResolver struct {
	Basis              Basis
	Store              Address
	LocalPickupMethods []string
	BaseForLocalPickup bool
}

// Resolve returns the destination for src. Local pickup forces the store
// address when BaseForLocalPickup is set. A missing customer yields an empty
// Address, which callers must treat as "cannot calculate".
func (r AddressResolver) Resolve(src AddressSource) Address {
	basis := r.Basis
	if r.BaseForLocalPickup && r.isLocalPickup(src.ShippingMethods) {
		basis = BasisBase
	}
	if basis == BasisBase {
		return r.Store
	}
	if src.Customer == nil {
		return Address{}
	}
	if basis == BasisBilling {
		return src.Customer.Billing
	}
	return src.Customer.Shipping
}

func (r AddressResolver) isLocalPickup(methods []string) bool {
	for _, m := range methods {
		base, _, _ := strings.Cut(strings.TrimSpace(m), ":")
		for _, pickup := range r.LocalPickupMethods {
			if base == pickup {
				return true
			}
		}
	}
	return false
}

// AddressFromOrder returns the destination of an order: its shipping
// address, unless an override entered on the order form carries a country.
// Override fields are upper-cased as the order form stores them.
func AddressFromOrder(shipping Address, override *Address) Address {
	if override != nil && !override.Empty() {
		return Address{
			Country:  strings.ToUpper(strings.TrimSpace(override.Country)),
			State:    strings.ToUpper(strings.TrimSpace(override.State)),
			Postcode: strings.ToUpper(strings.TrimSpace(override.Postcode)),
			City:     strings.ToUpper(strings.TrimSpace(override.City)),
			Street:   strings.ToUpper(strings.TrimSpace(override.Street)),
		}
	}
	return shipping
}

// firstPostcode keeps the first entry of a comma separated postcode list.
func firstPostcode(postcode string) string {
	first, _, _ := strings.Cut(postcode, ",")
	return strings.TrimSpace(first)
}
