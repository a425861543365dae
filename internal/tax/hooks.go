package tax

import "context"

// Site names where a calculation was triggered.
type Site string

const (
	SiteCart  Site = "cart"
	SiteOrder Site = "order"
)

// Hooks are optional extension points of a calculation. Nil fields are
// skipped.
type Hooks struct {
	// PreRequest may edit the request before it is keyed and sent. The
	// request is validated again afterwards.
	PreRequest func(ctx context.Context, req *CalculationRequest) error
	// PostResponse may edit the mapped result before reconciliation.
	PostResponse func(ctx context.Context, res *Result) error
	LineItems    LineItemsHook
	Exemption    func(ctx context.Context, site Site, current ExemptionType) ExemptionType
	CustomerID   func(ctx context.Context, site Site, current int64) int64
}

func (h Hooks) lineItems(ctx context.Context, site Site, items []LineItem) []LineItem {
	if h.LineItems == nil {
		return items
	}
	return h.LineItems(ctx, site, items)
}

func (h Hooks) exemption(ctx context.Context, site Site, current ExemptionType) ExemptionType {
	if h.Exemption == nil {
		return current
	}
	return h.Exemption(ctx, site, current)
}

func (h Hooks) customerID(ctx context.Context, site Site, current int64) int64 {
	if h.CustomerID == nil {
		return current
	}
	return h.CustomerID(ctx, site, current)
}
