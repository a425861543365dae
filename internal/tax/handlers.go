package tax

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-tax/internal/common"
	"github.com/noah-isme/toko-tax/internal/rates"
	"github.com/noah-isme/toko-tax/internal/security"
)

// Handler exposes calculations over HTTP.
type Handler struct {
	Svc       *Service
	Rates     rates.Store
	Validator *validator.Validate
}

// Routes mounts the tax endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/cart", h.Cart)
	r.Post("/order", h.Order)
	r.Get("/rates/{id}", h.Rate)
}

// NewValidator returns a validator that compares decimal amounts by value,
// so numeric tags such as gte=0 apply to money fields.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

type addressDTO struct {
	Country  string `json:"country" validate:"omitempty,len=2"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
	City     string `json:"city"`
	Street   string `json:"street"`
}

func (a addressDTO) address() Address {
	return Address{Country: a.Country, State: a.State, Postcode: a.Postcode, City: a.City, Street: a.Street}
}

type customerDTO struct {
	ID        int64      `json:"id" validate:"gte=0"`
	Billing   addressDTO `json:"billing"`
	Shipping  addressDTO `json:"shipping"`
	VATExempt bool       `json:"vatExempt"`
}

type cartItemDTO struct {
	ProductID    int64           `json:"productId" validate:"required,gt=0"`
	Key          string          `json:"key" validate:"required"`
	Quantity     int             `json:"quantity" validate:"gt=0"`
	Price        decimal.Decimal `json:"price" validate:"gte=0"`
	LineSubtotal decimal.Decimal `json:"lineSubtotal" validate:"gte=0"`
	LineTotal    decimal.Decimal `json:"lineTotal" validate:"gte=0"`
	TaxClass     string          `json:"taxClass"`
	Taxable      *bool           `json:"taxable"`
}

type cartRequestDTO struct {
	Customer        *customerDTO    `json:"customer" validate:"omitempty"`
	ShippingMethods []string        `json:"shippingMethods"`
	Items           []cartItemDTO   `json:"items" validate:"dive"`
	ShippingTotal   decimal.Decimal `json:"shippingTotal" validate:"gte=0"`
	Total           decimal.Decimal `json:"total" validate:"gte=0"`
	ExemptionType   string          `json:"exemptionType"`
}

type orderItemDTO struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	ItemID    int64           `json:"itemId" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Subtotal  decimal.Decimal `json:"subtotal" validate:"gte=0"`
	Total     decimal.Decimal `json:"total" validate:"gte=0"`
	TaxClass  string          `json:"taxClass"`
	TaxStatus string          `json:"taxStatus"`
}

type orderRequestDTO struct {
	ID            int64             `json:"id" validate:"gte=0"`
	CustomerID    int64             `json:"customerId" validate:"gte=0"`
	Shipping      addressDTO        `json:"shipping"`
	Override      *addressDTO       `json:"override" validate:"omitempty"`
	Items         []orderItemDTO    `json:"items" validate:"dive"`
	Fees          []decimal.Decimal `json:"fees"`
	ShippingTotal decimal.Decimal   `json:"shippingTotal" validate:"gte=0"`
	ExemptionType string            `json:"exemptionType"`
	VATExempt     bool              `json:"vatExempt"`
}

// Cart calculates tax for a cart payload.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax service not configured", nil)
		return
	}
	var payload cartRequestDTO
	if !h.decode(w, r, &payload) {
		return
	}
	cart := CartContext{
		ShippingMethods: payload.ShippingMethods,
		ShippingTotal:   payload.ShippingTotal,
		Total:           payload.Total,
		ExemptionType:   ExemptionType(payload.ExemptionType),
	}
	if c := payload.Customer; c != nil {
		cart.Customer = &Customer{ID: c.ID, Billing: c.Billing.address(), Shipping: c.Shipping.address(), VATExempt: c.VATExempt}
	}
	for _, it := range payload.Items {
		taxable := true
		if it.Taxable != nil {
			taxable = *it.Taxable
		}
		cart.Items = append(cart.Items, CartItem{
			ProductID:    it.ProductID,
			Key:          it.Key,
			Quantity:     it.Quantity,
			Price:        it.Price,
			LineSubtotal: it.LineSubtotal,
			LineTotal:    it.LineTotal,
			TaxClass:     it.TaxClass,
			Taxable:      taxable,
		})
	}
	out, err := h.Svc.CalculateForCart(r.Context(), cart)
	h.writeOutcome(w, out, err)
}

// Order calculates tax for an order payload.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax service not configured", nil)
		return
	}
	var payload orderRequestDTO
	if !h.decode(w, r, &payload) {
		return
	}
	order := OrderContext{
		ID:            payload.ID,
		CustomerID:    payload.CustomerID,
		Shipping:      payload.Shipping.address(),
		Fees:          payload.Fees,
		ShippingTotal: payload.ShippingTotal,
		ExemptionType: ExemptionType(payload.ExemptionType),
		VATExempt:     payload.VATExempt,
	}
	if payload.Override != nil {
		override := payload.Override.address()
		order.Override = &override
	}
	for _, it := range payload.Items {
		order.Items = append(order.Items, OrderItem{
			ProductID: it.ProductID,
			ItemID:    it.ItemID,
			Quantity:  it.Quantity,
			Subtotal:  it.Subtotal,
			Total:     it.Total,
			TaxClass:  it.TaxClass,
			TaxStatus: it.TaxStatus,
		})
	}
	out, err := h.Svc.CalculateForOrder(r.Context(), order)
	h.writeOutcome(w, out, err)
}

// Rate returns a stored rate record.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	if h.Rates == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rate store not configured", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rate id", nil)
		return
	}
	rec, err := h.Rates.GetRate(r.Context(), id)
	if err != nil {
		if errors.Is(err, rates.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "rate not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load rate", nil)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{
		"id":        rec.ID,
		"country":   rec.Country,
		"state":     rec.State,
		"name":      rec.Name,
		"priority":  rec.Priority,
		"compound":  rec.Compound,
		"shipping":  rec.Shipping,
		"rate":      rec.Rate.String(),
		"taxClass":  rec.TaxClass,
		"postcodes": nonNil(rec.Postcodes),
		"cities":    nonNil(rec.Cities),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if security.TooLarge(err) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json payload", nil)
		return false
	}
	if h.Validator != nil {
		if err := h.Validator.Struct(dst); err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "invalid payload", validationDetails(err))
			return false
		}
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}

func (h *Handler) writeOutcome(w http.ResponseWriter, out Outcome, err error) {
	if err != nil && !errors.Is(err, ErrRateStore) {
		common.WriteError(w, calculationError(err))
		return
	}
	common.JSONData(w, http.StatusOK, outcomeView(out, err))
}

// calculationError maps a failed calculation onto the API error shape. Rate
// store failures are not mapped since partial assignments are still returned.
func calculationError(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return &common.AppError{Code: "INVALID_REQUEST", Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, ErrMalformedResponse):
		return common.NewAppError("UPSTREAM_CONTRACT", "remote tax service returned an invalid answer", http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "tax calculation failed", http.StatusInternalServerError, err)
	}
}

func outcomeView(out Outcome, err error) map[string]any {
	status := "applied"
	switch {
	case out.Skipped():
		status = "skipped"
	case out.Partial:
		status = "partial"
	}
	view := map[string]any{
		"calculationId":      uuid.NewString(),
		"status":             status,
		"state":              out.State.String(),
		"reason":             string(out.SkipReason),
		"fromCache":          out.FromCache,
		"rateIds":            nonNilRates(out.Assignment.LineRates),
		"shippingRateId":     nil,
		"untaxed":            nonNil(out.UntaxedLineItems),
		"clearShippingTaxes": out.ClearShippingTaxes,
	}
	if out.Assignment.Shipping != 0 {
		view["shippingRateId"] = out.Assignment.Shipping
	}
	if err != nil {
		view["error"] = map[string]string{"code": "RATE_STORE", "message": err.Error()}
	}
	if res := out.Result; res != nil {
		view["hasNexus"] = res.HasNexus
		view["freightTaxable"] = res.FreightTaxable
		view["rate"] = res.Rate.String()
		view["shippingRate"] = res.ShippingRate.String()
		lines := make([]map[string]any, 0, len(res.LineItems))
		for _, l := range res.LineItems {
			lines = append(lines, map[string]any{
				"id":              l.ID,
				"combinedTaxRate": l.CombinedTaxRate.String(),
				"taxCollectable":  l.TaxCollectable.String(),
				"lineTotal":       l.LineTotal.String(),
			})
		}
		view["lineItems"] = lines
	}
	return view
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilRates(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
