package tax

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-tax/internal/obs"
)

// State is a step of one calculation.
type State int

const (
	StateIdle State = iota
	StateAddressResolved
	StateValidated
	StateCacheLookup
	StateRemoteCall
	StateResponseMapped
	StateReconciled
	StateApplied
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAddressResolved:
		return "address_resolved"
	case StateValidated:
		return "validated"
	case StateCacheLookup:
		return "cache_lookup"
	case StateRemoteCall:
		return "remote_call"
	case StateResponseMapped:
		return "response_mapped"
	case StateReconciled:
		return "reconciled"
	case StateApplied:
		return "applied"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SkipReason explains a Skipped outcome.
type SkipReason string

const (
	SkipZeroTotal          SkipReason = "zero_total"
	SkipMissingDestination SkipReason = "missing_destination"
	SkipNothingToTax       SkipReason = "nothing_to_tax"
	SkipVATExempt          SkipReason = "vat_exempt"
	SkipInvalidPostalCode  SkipReason = "invalid_postal_code"
	SkipNoNexus            SkipReason = "no_nexus"
	SkipRemoteUnavailable  SkipReason = "remote_unavailable"
	SkipRemoteNoAnswer     SkipReason = "remote_no_answer"
)

// CartContext is the cart state a calculation reads.
type CartContext struct {
	Customer        *Customer
	ShippingMethods []string
	Items           []CartItem
	ShippingTotal   decimal.Decimal
	Total           decimal.Decimal
	ExemptionType   ExemptionType
}

// OrderContext is the order state a calculation reads.
type OrderContext struct {
	ID         int64
	CustomerID int64
	Shipping   Address
	// Override is the address entered on the order edit form, if any.
	Override      *Address
	Items         []OrderItem
	Fees          []decimal.Decimal
	ShippingTotal decimal.Decimal
	ExemptionType ExemptionType
	VATExempt     bool
}

// Outcome is what a calculation produced. Host code applies it to the cart
// or order.
type Outcome struct {
	State      State
	Path       []State
	SkipReason SkipReason
	Request    *CalculationRequest
	Result     *Result
	Assignment Assignment
	FromCache  bool
	Partial    bool
	// UntaxedLineItems lists line ids the remote quoted at a zero rate.
	UntaxedLineItems []string
	// ClearShippingTaxes is set when shipping is not taxable at the
	// destination.
	ClearShippingTaxes bool
}

// Skipped reports whether the calculation ended without tax.
func (o Outcome) Skipped() bool { return o.State == StateSkipped }

// TaxForRate returns the remote tax amount of the line assigned rateID whose
// line total equals price at two decimals. Lines sharing one rate record may
// have been quoted different amounts.
func (o Outcome) TaxForRate(rateID int64, price decimal.Decimal) (decimal.Decimal, bool) {
	if o.Result == nil {
		return decimal.Zero, false
	}
	want := price.Round(2)
	for _, line := range o.Result.LineItems {
		id, ok := o.Assignment.LineRates[line.ID]
		if !ok || id != rateID {
			continue
		}
		if line.LineTotal.Round(2).Equal(want) {
			return line.TaxCollectable, true
		}
	}
	return decimal.Zero, false
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Path = append(o.Path, s)
}

// Service orchestrates calculations for carts and orders.
type Service struct {
	Resolver   AddressResolver
	Cache      *CalculationCache
	Reconciler *Reconciler
	Nexus      NexusRegions
	// ForwardExemptions controls whether exemption types reach the remote
	// service.
	ForwardExemptions bool
	Plugin            string
	Hooks             Hooks
	Logger            zerolog.Logger
}

type calculation struct {
	site       Site
	to         Address
	shipping   decimal.Decimal
	items      []LineItem
	customerID int64
	exemption  ExemptionType
}

// CalculateForCart calculates tax for a cart. Skips are returned as an
// Outcome with a nil error.
func (s *Service) CalculateForCart(ctx context.Context, cart CartContext) (Outcome, error) {
	out := Outcome{}
	out.enter(StateIdle)
	if cart.Total.IsZero() {
		return s.skip(ctx, SiteCart, out, SkipZeroTotal), nil
	}
	if cart.Customer != nil && cart.Customer.VATExempt {
		return s.skip(ctx, SiteCart, out, SkipVATExempt), nil
	}
	to := s.Resolver.Resolve(AddressSource{Customer: cart.Customer, ShippingMethods: cart.ShippingMethods})
	var customerID int64
	if cart.Customer != nil {
		customerID = cart.Customer.ID
	}
	return s.calculate(ctx, out, calculation{
		site:       SiteCart,
		to:         to,
		shipping:   cart.ShippingTotal,
		items:      ProjectCart(cart.Items),
		customerID: customerID,
		exemption:  cart.ExemptionType,
	})
}

// CalculateForOrder calculates tax for a stored order.
func (s *Service) CalculateForOrder(ctx context.Context, order OrderContext) (Outcome, error) {
	out := Outcome{}
	out.enter(StateIdle)
	total := order.ShippingTotal
	for _, it := range order.Items {
		total = total.Add(it.Total)
	}
	for _, fee := range order.Fees {
		total = total.Add(fee)
	}
	if !total.IsPositive() {
		return s.skip(ctx, SiteOrder, out, SkipZeroTotal), nil
	}
	if order.VATExempt {
		return s.skip(ctx, SiteOrder, out, SkipVATExempt), nil
	}
	return s.calculate(ctx, out, calculation{
		site:       SiteOrder,
		to:         AddressFromOrder(order.Shipping, order.Override),
		shipping:   order.ShippingTotal,
		items:      ProjectOrder(order.Items),
		customerID: order.CustomerID,
		exemption:  order.ExemptionType,
	})
}

func (s *Service) calculate(ctx context.Context, out Outcome, c calculation) (Outcome, error) {
	ctx, span := obs.Tracer("tax").Start(ctx, "tax.calculate")
	defer span.End()
	span.SetAttributes(attribute.String("tax.site", string(c.site)))
	log := s.Logger.With().Str("site", string(c.site)).Logger()

	c.to.Postcode = firstPostcode(c.to.Postcode)
	if c.to.Empty() || c.to.Postcode == "" {
		return s.skip(ctx, c.site, out, SkipMissingDestination), nil
	}
	out.enter(StateAddressResolved)

	c.items = s.Hooks.lineItems(ctx, c.site, c.items)
	if len(c.items) == 0 && c.shipping.IsZero() {
		return s.skip(ctx, c.site, out, SkipNothingToTax), nil
	}
	if !ValidPostalCode(c.to.Country, c.to.State, c.to.Postcode) {
		log.Debug().Str("country", c.to.Country).Str("postcode", c.to.Postcode).Msg("tax_postcode_rejected")
		return s.skip(ctx, c.site, out, SkipInvalidPostalCode), nil
	}
	if !s.Nexus.Covers(c.to.Country, c.to.State) {
		return s.skip(ctx, c.site, out, SkipNoNexus), nil
	}

	exemption := s.Hooks.exemption(ctx, c.site, c.exemption)
	if !s.ForwardExemptions {
		exemption = ExemptionNone
	}
	req, err := BuildRequest(s.Resolver.Store, c.to, c.shipping, c.items, s.Hooks.customerID(ctx, c.site, c.customerID), exemption)
	if err != nil {
		return s.fail(ctx, c.site, span, out, err)
	}
	req.Plugin = s.Plugin
	if s.Hooks.PreRequest != nil {
		if err := s.Hooks.PreRequest(ctx, &req); err != nil {
			return s.fail(ctx, c.site, span, out, err)
		}
		if err := req.Validate(); err != nil {
			return s.fail(ctx, c.site, span, out, err)
		}
	}
	out.Request = &req
	out.enter(StateValidated)

	out.enter(StateCacheLookup)
	if s.Cache == nil {
		return s.fail(ctx, c.site, span, out, errors.New("tax: calculation cache not configured"))
	}
	resp, hit, err := s.Cache.GetOrCompute(ctx, req)
	out.FromCache = hit
	if !hit {
		out.enter(StateRemoteCall)
	}
	if err != nil {
		log.Warn().Err(err).Msg("tax_remote_failed")
		span.RecordError(err)
		return s.skip(ctx, c.site, out, SkipRemoteUnavailable), nil
	}
	if !resp.OK() {
		log.Warn().Int("status", resp.StatusCode).Msg("tax_remote_no_answer")
		return s.skip(ctx, c.site, out, SkipRemoteNoAnswer), nil
	}

	res, err := MapResponse(resp.Body, req.LineItems)
	if err != nil {
		log.Error().Err(err).Msg("tax_response_malformed")
		return s.fail(ctx, c.site, span, out, err)
	}
	if len(res.UnknownIDs) > 0 {
		log.Debug().Strs("ids", res.UnknownIDs).Msg("tax_unknown_line_ids")
	}
	if s.Hooks.PostResponse != nil {
		if err := s.Hooks.PostResponse(ctx, &res); err != nil {
			return s.fail(ctx, c.site, span, out, err)
		}
	}
	out.Result = &res
	out.enter(StateResponseMapped)
	if !res.HasNexus {
		return s.skip(ctx, c.site, out, SkipNoNexus), nil
	}

	lines := make([]LineRate, 0, len(res.LineItems))
	for _, l := range res.LineItems {
		lines = append(lines, LineRate{ID: l.ID, TaxClass: l.Item.TaxClass, Rate: l.CombinedTaxRate})
		if l.CombinedTaxRate.IsZero() {
			out.UntaxedLineItems = append(out.UntaxedLineItems, l.ID)
		}
	}
	out.ClearShippingTaxes = !res.FreightTaxable

	loc := Location{Country: req.To.Country, State: req.To.State, Postcode: req.To.Postcode, City: req.To.City}
	assignment, err := s.Reconciler.Reconcile(ctx, loc, lines, ShippingRate{Rate: res.ShippingRate, FreightTaxable: res.FreightTaxable})
	out.Assignment = assignment
	out.enter(StateReconciled)
	if err != nil {
		out.Partial = true
		log.Error().Err(err).Int("assigned", len(assignment.LineRates)).Msg("tax_reconcile_partial")
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate store")
		obs.ObserveCalculation(string(c.site), "partial")
		return out, err
	}

	out.enter(StateApplied)
	obs.ObserveCalculation(string(c.site), "applied")
	log.Debug().Bool("from_cache", hit).Int("lines", len(assignment.LineRates)).Int64("shipping_rate_id", assignment.Shipping).Msg("tax_applied")
	return out, nil
}

func (s *Service) skip(ctx context.Context, site Site, out Outcome, reason SkipReason) Outcome {
	out.enter(StateSkipped)
	out.SkipReason = reason
	obs.ObserveCalculation(string(site), "skipped")
	s.Logger.Debug().Ctx(ctx).Str("site", string(site)).Str("reason", string(reason)).Msg("tax_skipped")
	return out
}

func (s *Service) fail(_ context.Context, site Site, span trace.Span, out Outcome, err error) (Outcome, error) {
	out.enter(StateFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	obs.ObserveCalculation(string(site), "failed")
	s.Logger.Error().Err(err).Str("site", string(site)).Msg("tax_calculation_failed")
	return Outcome{State: StateFailed, Path: out.Path}, err
}
