package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ajsuth/headstart/internal/domain"
	"github.com/ajsuth/headstart/internal/platform/auth"
	"github.com/ajsuth/headstart/internal/platform/httpx"
	"github.com/ajsuth/headstart/internal/platform/money"
	"github.com/ajsuth/headstart/internal/services"
)

const defaultMaxShippingMethodBody = 256 << 10

// ShippingMethodHandlers exposes the shipping method store to seller tooling.
type ShippingMethodHandlers struct {
	authn   *auth.Authenticator
	methods services.ShippingMethodService
	maxBody int64
}

// ShippingMethodOption customises ShippingMethodHandlers.
type ShippingMethodOption func(*ShippingMethodHandlers)

// WithShippingMethodMaxBody caps accepted request bodies.
func WithShippingMethodMaxBody(limit int64) ShippingMethodOption {
	return func(h *ShippingMethodHandlers) {
		if limit > 0 {
			h.maxBody = limit
		}
	}
}

// NewShippingMethodHandlers constructs the handlers. authn may be nil in tests that inject identities directly.
func NewShippingMethodHandlers(authn *auth.Authenticator, methods services.ShippingMethodService, opts ...ShippingMethodOption) *ShippingMethodHandlers {
	h := &ShippingMethodHandlers{
		authn:   authn,
		methods: methods,
		maxBody: defaultMaxShippingMethodBody,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the shipping routes. Creation needs ShipmentAdmin; everything else needs any signed-in user.
func (h *ShippingMethodHandlers) Routes(r chi.Router) {
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(auth.RoleShipmentAdmin))
		}
		admin.Post("/", h.createShippingMethod)
	})
	r.Group(func(user chi.Router) {
		if h.authn != nil {
			user.Use(h.authn.RequireAuth())
		}
		user.Post("/list", h.listShippingMethods)
		user.Get("/", h.findShippingMethod)
		user.Get("/{id}", h.getShippingMethod)
		user.Put("/{id}", h.saveShippingMethod)
		user.Delete("/{id}", h.deleteShippingMethod)
	})
}

type shippingCostPayload struct {
	OrderTotal json.Number `json:"OrderTotal"`
	Amount     json.Number `json:"Amount"`
}

type taxCategorizationPayload struct {
	Code          string `json:"Code,omitempty"`
	Description   string `json:"Description,omitempty"`
	LineItemLevel bool   `json:"LineItemLevel"`
}

type shippingMethodPayload struct {
	ID                   string                    `json:"id"`
	PartitionKey         string                    `json:"PartitionKey,omitempty"`
	Name                 string                    `json:"Name"`
	Description          string                    `json:"Description,omitempty"`
	Active               bool                      `json:"Active"`
	EstimatedTransitDays *int                      `json:"EstimatedTransitDays,omitempty"`
	Currency             string                    `json:"Currency"`
	Tax                  *taxCategorizationPayload `json:"Tax,omitempty"`
	ShippingCosts        []shippingCostPayload     `json:"ShippingCosts"`
	Storefront           string                    `json:"Storefront,omitempty"`
	IncludedProductIDs   []string                  `json:"IncludedProductIDs,omitempty"`
	ExcludedProductIDs   []string                  `json:"ExcludedProductIDs,omitempty"`
	CreatedAt            string                    `json:"CreatedAt,omitempty"`
	UpdatedAt            string                    `json:"UpdatedAt,omitempty"`
}

type listFilterPayload struct {
	PropertyName     string `json:"PropertyName"`
	FilterExpression string `json:"FilterExpression"`
}

type listOptionsPayload struct {
	PageSize          int                 `json:"PageSize"`
	ContinuationToken string              `json:"ContinuationToken"`
	Search            string              `json:"Search"`
	SearchOn          string              `json:"SearchOn"`
	Sort              string              `json:"Sort"`
	SortDirection     string              `json:"SortDirection"`
	Filters           []listFilterPayload `json:"Filters"`
}

type listMetaPayload struct {
	PageSize          int    `json:"PageSize"`
	ContinuationToken string `json:"ContinuationToken,omitempty"`
}

type shippingMethodListResponse struct {
	Meta  listMetaPayload         `json:"Meta"`
	Items []shippingMethodPayload `json:"Items"`
}

func (h *ShippingMethodHandlers) createShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method, ok := h.decodeShippingMethod(w, r)
	if !ok {
		return
	}
	created, err := h.methods.Create(ctx, services.ShippingMethodCommand{Method: method, ActorID: actorID(ctx)})
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	h.writeShippingMethod(ctx, w, http.StatusCreated, created)
}

func (h *ShippingMethodHandlers) listShippingMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload listOptionsPayload
	body, err := httpx.ReadBody(r, h.maxBody)
	switch {
	case errors.Is(err, httpx.ErrEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if err := json.Unmarshal(body, &payload); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "list options must be a JSON object", http.StatusBadRequest))
			return
		}
	}

	opts := domain.ListOptions{
		PageSize:          payload.PageSize,
		ContinuationToken: payload.ContinuationToken,
		Search:            payload.Search,
		SearchOn:          payload.SearchOn,
		Sort:              payload.Sort,
		SortDirection:     domain.SortOrder(payload.SortDirection),
	}
	for _, f := range payload.Filters {
		opts.Filters = append(opts.Filters, domain.ListFilter{PropertyName: f.PropertyName, FilterExpression: f.FilterExpression})
	}

	page, err := h.methods.List(ctx, opts)
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	resp := shippingMethodListResponse{
		Meta:  listMetaPayload{PageSize: len(page.Items), ContinuationToken: page.ContinuationToken},
		Items: make([]shippingMethodPayload, 0, len(page.Items)),
	}
	for _, method := range page.Items {
		encoded, err := encodeShippingMethodPayload(method)
		if err != nil {
			writeShippingMethodError(ctx, w, err)
			return
		}
		resp.Items = append(resp.Items, encoded)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *ShippingMethodHandlers) findShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method, err := h.methods.Find(ctx, r.URL.Query().Get("search"))
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	h.writeShippingMethod(ctx, w, http.StatusOK, method)
}

func (h *ShippingMethodHandlers) getShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method, err := h.methods.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	h.writeShippingMethod(ctx, w, http.StatusOK, method)
}

func (h *ShippingMethodHandlers) saveShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method, ok := h.decodeShippingMethod(w, r)
	if !ok {
		return
	}
	saved, err := h.methods.Save(ctx, chi.URLParam(r, "id"), services.ShippingMethodCommand{Method: method, ActorID: actorID(ctx)})
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	h.writeShippingMethod(ctx, w, http.StatusOK, saved)
}

func (h *ShippingMethodHandlers) deleteShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.methods.Delete(ctx, services.DeleteShippingMethodCommand{ID: chi.URLParam(r, "id"), ActorID: actorID(ctx)})
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ShippingMethodHandlers) decodeShippingMethod(w http.ResponseWriter, r *http.Request) (domain.ShippingMethod, bool) {
	ctx := r.Context()
	body, err := httpx.ReadBody(r, h.maxBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return domain.ShippingMethod{}, false
	}
	var payload shippingMethodPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "shipping method must be a JSON object", http.StatusBadRequest))
		return domain.ShippingMethod{}, false
	}
	method, err := decodeShippingMethodPayload(payload)
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return domain.ShippingMethod{}, false
	}
	return method, true
}

func (h *ShippingMethodHandlers) writeShippingMethod(ctx context.Context, w http.ResponseWriter, status int, method domain.ShippingMethod) {
	payload, err := encodeShippingMethodPayload(method)
	if err != nil {
		writeShippingMethodError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, payload)
}

// decodeShippingMethodPayload converts decimal tier values using the method's own currency.
func decodeShippingMethodPayload(p shippingMethodPayload) (domain.ShippingMethod, error) {
	method := domain.ShippingMethod{
		ID:                   p.ID,
		Name:                 p.Name,
		Description:          p.Description,
		Active:               p.Active,
		EstimatedTransitDays: p.EstimatedTransitDays,
		Currency:             p.Currency,
		Storefront:           p.Storefront,
		IncludedProductIDs:   p.IncludedProductIDs,
		ExcludedProductIDs:   p.ExcludedProductIDs,
	}
	if p.Tax != nil {
		method.Tax = domain.TaxCategorization{Code: p.Tax.Code, Description: p.Tax.Description, LineItemLevel: p.Tax.LineItemLevel}
	}
	for _, cost := range p.ShippingCosts {
		threshold, err := money.ExactMinor(cost.OrderTotal, p.Currency)
		if err != nil {
			return domain.ShippingMethod{}, err
		}
		amount, err := money.ExactMinor(cost.Amount, p.Currency)
		if err != nil {
			return domain.ShippingMethod{}, err
		}
		method.ShippingCosts = append(method.ShippingCosts, domain.ShippingCost{OrderTotal: threshold, Amount: amount})
	}
	return method, nil
}

func encodeShippingMethodPayload(method domain.ShippingMethod) (shippingMethodPayload, error) {
	payload := shippingMethodPayload{
		ID:                   method.ID,
		PartitionKey:         method.PartitionKey,
		Name:                 method.Name,
		Description:          method.Description,
		Active:               method.Active,
		EstimatedTransitDays: method.EstimatedTransitDays,
		Currency:             method.Currency,
		Tax: &taxCategorizationPayload{
			Code:          method.Tax.Code,
			Description:   method.Tax.Description,
			LineItemLevel: method.Tax.LineItemLevel,
		},
		ShippingCosts:      make([]shippingCostPayload, 0, len(method.ShippingCosts)),
		Storefront:         method.Storefront,
		IncludedProductIDs: method.IncludedProductIDs,
		ExcludedProductIDs: method.ExcludedProductIDs,
		CreatedAt:          formatTime(method.CreatedAt),
		UpdatedAt:          formatTime(method.UpdatedAt),
	}
	for _, cost := range method.ShippingCosts {
		threshold, err := money.FromMinor(cost.OrderTotal, method.Currency)
		if err != nil {
			return shippingMethodPayload{}, err
		}
		amount, err := money.FromMinor(cost.Amount, method.Currency)
		if err != nil {
			return shippingMethodPayload{}, err
		}
		payload.ShippingCosts = append(payload.ShippingCosts, shippingCostPayload{OrderTotal: threshold, Amount: amount})
	}
	return payload, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func actorID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	if subject := strings.TrimSpace(identity.Subject); subject != "" {
		return subject
	}
	return strings.TrimSpace(identity.Username)
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
	}
}

func writeShippingMethodError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrShippingMethodInvalid),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrAmountOutOfRange),
		errors.Is(err, money.ErrPrecision),
		errors.Is(err, money.ErrUnknownCurrency):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShippingMethodNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_method_not_found", "shipping method not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShippingMethodConflict):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_method_conflict", "a shipping method with this id or name, currency and storefront already exists", http.StatusConflict))
	case errors.Is(err, services.ErrShippingMethodUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_method_unavailable", "shipping method store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
