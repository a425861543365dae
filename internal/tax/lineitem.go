package tax

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NonTaxableCode is the product tax code sent for items that must not be taxed.
const NonTaxableCode = "99999"

// moneyPlaces bounds the precision of projected amounts.
const moneyPlaces = 4

// LineItemID identifies a line within one cart or order.
type LineItemID struct {
	ProductID int64
	// Slot is the cart item key or order item id.
	Slot string
}

// String returns the wire form "<product>-<slot>".
func (id LineItemID) String() string {
	return strconv.FormatInt(id.ProductID, 10) + "-" + id.Slot
}

// LineItem is one taxable entry of a calculation request.
type LineItem struct {
	ID        LineItemID
	Quantity  int
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	TaxCode   string
	// TaxClass is the platform class of the item. It keys local rate records
	// and is not sent to the remote service.
	TaxClass string
}

// LineTotal returns unit_price × quantity − discount.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))).Sub(li.Discount)
}

// CartItem is a cart entry as the platform exposes it.
type CartItem struct {
	ProductID    int64
	Key          string
	Quantity     int
	Price        decimal.Decimal
	LineSubtotal decimal.Decimal
	LineTotal    decimal.Decimal
	TaxClass     string
	Taxable      bool
}

// OrderItem is a stored order line.
type OrderItem struct {
	ProductID int64
	ItemID    int64
	Quantity  int
	Subtotal  decimal.Decimal
	Total     decimal.Decimal
	TaxClass  string
	TaxStatus string
}

// LineItemsHook may rewrite the projected line items of a calculation.
type LineItemsHook func(ctx context.Context, site Site, items []LineItem) []LineItem

// ProjectCart converts cart entries into line items. Entries without a
// positive quantity, catalog price and line subtotal are dropped.
func ProjectCart(items []CartItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		unit := it.Price.Round(moneyPlaces)
		subtotal := it.LineSubtotal.Round(moneyPlaces)
		if !unit.IsPositive() || !subtotal.IsPositive() {
			continue
		}
		code := TaxCodeFromClass(it.TaxClass)
		if !it.Taxable || sanitizeTitle(it.TaxClass) == "zero-rate" {
			code = NonTaxableCode
		}
		out = append(out, LineItem{
			ID:        LineItemID{ProductID: it.ProductID, Slot: it.Key},
			Quantity:  it.Quantity,
			UnitPrice: unit,
			Discount:  it.LineSubtotal.Sub(it.LineTotal).Round(moneyPlaces),
			TaxCode:   code,
			TaxClass:  it.TaxClass,
		})
	}
	return out
}

// ProjectOrder converts order lines into line items. The unit price is
// derived from the stored subtotal so later catalog price edits do not leak
// into historical orders. Lines without a positive quantity and unit price
// are dropped.
func ProjectOrder(items []OrderItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		unit := it.Subtotal.Div(decimal.NewFromInt(int64(it.Quantity))).Round(moneyPlaces)
		if !unit.IsPositive() {
			continue
		}
		code := TaxCodeFromClass(it.TaxClass)
		if it.TaxStatus != "taxable" {
			code = NonTaxableCode
		}
		out = append(out, LineItem{
			ID:        LineItemID{ProductID: it.ProductID, Slot: strconv.FormatInt(it.ItemID, 10)},
			Quantity:  it.Quantity,
			UnitPrice: unit,
			Discount:  it.Subtotal.Sub(it.Total).Round(moneyPlaces),
			TaxCode:   code,
			TaxClass:  it.TaxClass,
		})
	}
	return out
}

// TaxCodeFromClass returns the last hyphen delimited token of class,
// upper-cased. "clothing-20010" yields "20010".
func TaxCodeFromClass(class string) string {
	parts := strings.Split(class, "-")
	return strings.ToUpper(parts[len(parts)-1])
}

var titleUnsafe = regexp.MustCompile(`[^a-z0-9_\-]`)

// sanitizeTitle approximates the platform slug of a tax class name.
func sanitizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), "-")
	return titleUnsafe.ReplaceAllString(s, "")
}
