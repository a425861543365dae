package tax

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// LineResult is the remote answer for one line item.
type LineResult struct {
	ID              string          `json:"id"`
	CombinedTaxRate decimal.Decimal `json:"combinedTaxRate"`
	TaxCollectable  decimal.Decimal `json:"taxCollectable"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
	// Item is the line item that was sent under ID.
	Item LineItem `json:"-"`
}

// Result is the decoded remote calculation.
type Result struct {
	FreightTaxable bool
	HasNexus       bool
	// Rate is the envelope level rate.
	Rate         decimal.Decimal
	ShippingRate decimal.Decimal
	// LineItems holds per-line detail in the order the remote returned it.
	// It is empty when the answer carried no line level breakdown.
	LineItems []LineResult
	// UnknownIDs lists remote line ids that match no sent item.
	UnknownIDs []string
}

type wireResponse struct {
	Tax json.RawMessage `json:"tax"`
}

type wireTax struct {
	FreightTaxable bool            `json:"freight_taxable"`
	HasNexus       bool            `json:"has_nexus"`
	Rate           decimal.Decimal `json:"rate"`
	Breakdown      json.RawMessage `json:"breakdown"`
}

type wireBreakdown struct {
	Shipping *struct {
		CombinedTaxRate *decimal.Decimal `json:"combined_tax_rate"`
	} `json:"shipping"`
	LineItems []struct {
		ID              json.RawMessage `json:"id"`
		CombinedTaxRate decimal.Decimal `json:"combined_tax_rate"`
		TaxCollectable  decimal.Decimal `json:"tax_collectable"`
		LineTotal       decimal.Decimal `json:"line_total"`
	} `json:"line_items"`
}

// MapResponse decodes a remote answer. sent are the line items of the
// request, used to correlate remote ids and to recompute line totals.
func MapResponse(body []byte, sent []LineItem) (Result, error) {
	var envelope wireResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if isNull(envelope.Tax) {
		return Result{}, fmt.Errorf("%w: missing tax envelope", ErrMalformedResponse)
	}
	var tx wireTax
	if err := json.Unmarshal(envelope.Tax, &tx); err != nil {
		return Result{}, fmt.Errorf("%w: tax envelope: %v", ErrMalformedResponse, err)
	}
	res := Result{
		FreightTaxable: tx.FreightTaxable,
		HasNexus:       tx.HasNexus,
		Rate:           tx.Rate,
		ShippingRate:   tx.Rate,
	}
	if isNull(tx.Breakdown) {
		return res, nil
	}
	var bd wireBreakdown
	if err := json.Unmarshal(tx.Breakdown, &bd); err != nil {
		return Result{}, fmt.Errorf("%w: breakdown: %v", ErrMalformedResponse, err)
	}
	if bd.Shipping != nil && bd.Shipping.CombinedTaxRate != nil {
		res.ShippingRate = *bd.Shipping.CombinedTaxRate
	}

	byID := make(map[string]LineItem, len(sent))
	for _, li := range sent {
		byID[li.ID.String()] = li
	}
	for _, line := range bd.LineItems {
		id, err := rawID(line.ID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: line item id: %v", ErrMalformedResponse, err)
		}
		item, ok := byID[id]
		if !ok {
			res.UnknownIDs = append(res.UnknownIDs, id)
			continue
		}
		total := line.LineTotal
		if item.Quantity > 0 {
			total = item.LineTotal()
		}
		res.LineItems = append(res.LineItems, LineResult{
			ID:              id,
			CombinedTaxRate: line.CombinedTaxRate,
			TaxCollectable:  line.TaxCollectable,
			LineTotal:       total,
			Item:            item,
		})
	}
	return res, nil
}

// Line returns the result for the wire id.
func (r Result) Line(id string) (LineResult, bool) {
	for _, l := range r.LineItems {
		if l.ID == id {
			return l, true
		}
	}
	return LineResult{}, false
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// rawID accepts ids encoded as strings or bare numbers.
func rawID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
