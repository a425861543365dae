package tax

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ExemptionType classifies a customer exemption. The zero value means none.
type ExemptionType string

const (
	ExemptionNone       ExemptionType = ""
	ExemptionWholesale  ExemptionType = "wholesale"
	ExemptionGovernment ExemptionType = "government"
	ExemptionOther      ExemptionType = "other"
	ExemptionNonExempt  ExemptionType = "non_exempt"
)

// Valid reports whether e is one of the types the remote service accepts.
func (e ExemptionType) Valid() bool {
	switch e {
	case ExemptionWholesale, ExemptionGovernment, ExemptionOther, ExemptionNonExempt:
		return true
	default:
		return false
	}
}

// CalculationRequest is the normalised input of one remote calculation.
type CalculationRequest struct {
	From          Address
	To            Address
	Shipping      decimal.Decimal
	Plugin        string
	CustomerID    int64
	ExemptionType ExemptionType
	LineItems     []LineItem
}

// BuildRequest assembles a request. Invalid exemption types are dropped
// rather than reported. Only the first entry of a comma separated
// destination postcode is kept.
func BuildRequest(from, to Address, shipping decimal.Decimal, items []LineItem, customerID int64, exemption ExemptionType) (CalculationRequest, error) {
	to.Postcode = firstPostcode(to.Postcode)
	req := CalculationRequest{
		From:       from,
		To:         to,
		Shipping:   shipping,
		CustomerID: customerID,
		LineItems:  append([]LineItem(nil), items...),
	}
	if exemption.Valid() {
		req.ExemptionType = exemption
	}
	if err := req.Validate(); err != nil {
		return CalculationRequest{}, err
	}
	return req, nil
}

// Validate checks the conditions under which a request may reach the
// remote service.
func (r CalculationRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.To.Country) == "":
		return fmt.Errorf("%w: destination country is empty", ErrInvalidRequest)
	case strings.TrimSpace(r.To.Postcode) == "":
		return fmt.Errorf("%w: destination postcode is empty", ErrInvalidRequest)
	case len(r.LineItems) == 0 && r.Shipping.IsZero():
		return fmt.Errorf("%w: no line items and no shipping", ErrInvalidRequest)
	}
	return nil
}

type wireLineItem struct {
	ID             string      `json:"id"`
	Quantity       int         `json:"quantity"`
	ProductTaxCode string      `json:"product_tax_code"`
	UnitPrice      json.Number `json:"unit_price"`
	Discount       json.Number `json:"discount"`
}

// wireRequest fixes the field order of the serialised request.
type wireRequest struct {
	FromCountry   string         `json:"from_country"`
	FromState     string         `json:"from_state"`
	FromZip       string         `json:"from_zip"`
	FromCity      string         `json:"from_city"`
	FromStreet    string         `json:"from_street"`
	ToCountry     string         `json:"to_country"`
	ToState       string         `json:"to_state"`
	ToZip         string         `json:"to_zip"`
	ToCity        string         `json:"to_city"`
	ToStreet      string         `json:"to_street"`
	Shipping      json.Number    `json:"shipping"`
	Plugin        string         `json:"plugin"`
	CustomerID    int64          `json:"customer_id,omitempty"`
	ExemptionType ExemptionType  `json:"exemption_type,omitempty"`
	Amount        *json.Number   `json:"amount,omitempty"`
	LineItems     []wireLineItem `json:"line_items,omitempty"`
}

// Canonical returns the deterministic wire encoding of the request. Line
// items are ordered by id and decimals use their shortest form, so requests
// with equal content encode to equal bytes.
func (r CalculationRequest) Canonical() ([]byte, error) {
	w := wireRequest{
		FromCountry:   r.From.Country,
		FromState:     r.From.State,
		FromZip:       r.From.Postcode,
		FromCity:      r.From.City,
		FromStreet:    r.From.Street,
		ToCountry:     r.To.Country,
		ToState:       r.To.State,
		ToZip:         r.To.Postcode,
		ToCity:        r.To.City,
		ToStreet:      r.To.Street,
		Shipping:      number(r.Shipping),
		Plugin:        r.Plugin,
		CustomerID:    r.CustomerID,
		ExemptionType: r.ExemptionType,
	}
	if !r.ExemptionType.Valid() {
		w.ExemptionType = ExemptionNone
	}
	if len(r.LineItems) == 0 {
		zero := json.Number("0")
		w.Amount = &zero
	} else {
		w.LineItems = make([]wireLineItem, 0, len(r.LineItems))
		for _, li := range r.LineItems {
			w.LineItems = append(w.LineItems, wireLineItem{
				ID:             li.ID.String(),
				Quantity:       li.Quantity,
				ProductTaxCode: li.TaxCode,
				UnitPrice:      number(li.UnitPrice),
				Discount:       number(li.Discount),
			})
		}
		sort.SliceStable(w.LineItems, func(i, j int) bool { return w.LineItems[i].ID < w.LineItems[j].ID })
	}
	return json.Marshal(w)
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
