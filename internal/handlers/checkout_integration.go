package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ajsuth/headstart/internal/domain"
	"github.com/ajsuth/headstart/internal/platform/httpx"
	"github.com/ajsuth/headstart/internal/platform/money"
	"github.com/ajsuth/headstart/internal/services"
)

const defaultMaxCheckoutBody = 1 << 20

// CheckoutIntegrationHandlers answers OrderCloud checkout integration events.
type CheckoutIntegrationHandlers struct {
	rates   services.ShippingRateService
	maxBody int64
}

// CheckoutIntegrationOption customises CheckoutIntegrationHandlers.
type CheckoutIntegrationOption func(*CheckoutIntegrationHandlers)

// WithCheckoutMaxBody caps the accepted worksheet size.
func WithCheckoutMaxBody(limit int64) CheckoutIntegrationOption {
	return func(h *CheckoutIntegrationHandlers) {
		if limit > 0 {
			h.maxBody = limit
		}
	}
}

// NewCheckoutIntegrationHandlers constructs the integration handlers.
func NewCheckoutIntegrationHandlers(rates services.ShippingRateService, opts ...CheckoutIntegrationOption) *CheckoutIntegrationHandlers {
	h := &CheckoutIntegrationHandlers{rates: rates, maxBody: defaultMaxCheckoutBody}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the integration endpoints. Signature checks are applied by the router group.
func (h *CheckoutIntegrationHandlers) Routes(r chi.Router) {
	r.Post("/checkout/shippingrates", h.estimateShippingRates)
}

type ocAddress struct {
	ID          string `json:"ID"`
	AddressName string `json:"AddressName"`
	CompanyName string `json:"CompanyName"`
	FirstName   string `json:"FirstName"`
	LastName    string `json:"LastName"`
	Street1     string `json:"Street1"`
	Street2     string `json:"Street2"`
	City        string `json:"City"`
	State       string `json:"State"`
	Zip         string `json:"Zip"`
	Country     string `json:"Country"`
	Phone       string `json:"Phone"`
}

type ocProductXP struct {
	FreeShipping bool   `json:"FreeShipping"`
	ProductType  string `json:"ProductType"`
}

type ocProduct struct {
	ID string      `json:"ID"`
	XP ocProductXP `json:"xp"`
}

type ocLineItem struct {
	ID                string      `json:"ID"`
	ProductID         string      `json:"ProductID"`
	Quantity          int         `json:"Quantity"`
	LineTotal         json.Number `json:"LineTotal"`
	ShipFromAddressID string      `json:"ShipFromAddressID"`
	ShipFromAddress   *ocAddress  `json:"ShipFromAddress"`
	ShippingAddress   *ocAddress  `json:"ShippingAddress"`
	Product           *ocProduct  `json:"Product"`
	SupplierID        string      `json:"SupplierID"`
}

type ocOrderXP struct {
	Currency string `json:"Currency"`
}

type ocOrder struct {
	ID       string    `json:"ID"`
	Currency string    `json:"Currency"`
	XP       ocOrderXP `json:"xp"`
}

// currency prefers the Headstart xp.Currency over the order's own Currency.
func (o ocOrder) currency() string {
	if code := strings.TrimSpace(o.XP.Currency); code != "" {
		return code
	}
	return strings.TrimSpace(o.Currency)
}

type ocOrderWorksheet struct {
	Order     ocOrder      `json:"Order"`
	LineItems []ocLineItem `json:"LineItems"`
}

type ocCheckoutConfig struct {
	ExcludePOProductsFromShipping bool     `json:"ExcludePOProductsFromShipping"`
	ExcludePOProductsFromTax      bool     `json:"ExcludePOProductsFromTax"`
	Storefronts                   []string `json:"Storefronts"`
}

type checkoutIntegrationRequest struct {
	OrderWorksheet ocOrderWorksheet  `json:"OrderWorksheet"`
	ConfigData     *ocCheckoutConfig `json:"ConfigData"`
}

type ocShipMethodXP struct {
	FreeShippingApplied bool   `json:"FreeShippingApplied"`
	Description         string `json:"Description,omitempty"`
}

type ocShipMethod struct {
	ID                   string         `json:"ID"`
	Name                 string         `json:"Name"`
	Cost                 json.Number    `json:"Cost"`
	EstimatedTransitDays int            `json:"EstimatedTransitDays"`
	XP                   ocShipMethodXP `json:"xp"`
}

type ocShipEstimateItem struct {
	LineItemID string `json:"LineItemID"`
	Quantity   int    `json:"Quantity"`
}

type ocShipEstimateXP struct {
	SupplierID        string `json:"SupplierID,omitempty"`
	ShipFromAddressID string `json:"ShipFromAddressID,omitempty"`
}

type ocShipEstimate struct {
	ID                string               `json:"ID"`
	ShipMethods       []ocShipMethod       `json:"ShipMethods"`
	ShipEstimateItems []ocShipEstimateItem `json:"ShipEstimateItems"`
	XP                ocShipEstimateXP     `json:"xp"`
}

type shipEstimateResponse struct {
	ShipEstimates      []ocShipEstimate `json:"ShipEstimates"`
	HTTPStatusCode     int              `json:"HttpStatusCode,omitempty"`
	UnhandledErrorBody string           `json:"UnhandledErrorBody,omitempty"`
}

// estimateShippingRates always answers 200 once the payload parses; rating failures travel in
// UnhandledErrorBody so OrderCloud can surface them at checkout.
func (h *CheckoutIntegrationHandlers) estimateShippingRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := httpx.ReadBody(r, h.maxBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req checkoutIntegrationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "checkout payload must be a JSON object", http.StatusBadRequest))
		return
	}

	currency := req.OrderWorksheet.Order.currency()
	worksheet, err := decodeWorksheet(req.OrderWorksheet)
	if err != nil {
		httpx.WriteJSON(w, http.StatusOK, failedShipEstimateResponse(err.Error()))
		return
	}
	var cfg *domain.CheckoutIntegrationConfiguration
	if req.ConfigData != nil {
		cfg = &domain.CheckoutIntegrationConfiguration{
			ExcludePOProductsFromShipping: req.ConfigData.ExcludePOProductsFromShipping,
			ExcludePOProductsFromTax:      req.ConfigData.ExcludePOProductsFromTax,
			Storefronts:                   req.ConfigData.Storefronts,
		}
	}

	result := h.rates.EstimateRates(ctx, worksheet, cfg)
	if result.Error != "" {
		httpx.WriteJSON(w, http.StatusOK, failedShipEstimateResponse(result.Error))
		return
	}
	resp, err := encodeShipEstimates(result.ShipEstimates, currency)
	if err != nil {
		httpx.WriteJSON(w, http.StatusOK, failedShipEstimateResponse(err.Error()))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func failedShipEstimateResponse(message string) shipEstimateResponse {
	return shipEstimateResponse{HTTPStatusCode: http.StatusInternalServerError, UnhandledErrorBody: message}
}

func decodeWorksheet(ws ocOrderWorksheet) (domain.OrderWorksheet, error) {
	out := domain.OrderWorksheet{
		Order:     domain.Order{ID: ws.Order.ID, Currency: ws.Order.currency()},
		LineItems: make([]domain.LineItem, 0, len(ws.LineItems)),
	}
	for _, li := range ws.LineItems {
		total, err := money.ToMinor(li.LineTotal, out.Order.Currency)
		if err != nil {
			return domain.OrderWorksheet{}, err
		}
		item := domain.LineItem{
			ID:                li.ID,
			ProductID:         li.ProductID,
			Quantity:          li.Quantity,
			LineTotal:         total,
			SupplierID:        li.SupplierID,
			ShipFromAddressID: li.ShipFromAddressID,
			ShipFromAddress:   decodeAddress(li.ShipFromAddress),
			ShippingAddress:   decodeAddress(li.ShippingAddress),
		}
		if li.Product != nil {
			item.Product = &domain.LineItemProduct{
				ID:           li.Product.ID,
				FreeShipping: li.Product.XP.FreeShipping,
				ProductType:  li.Product.XP.ProductType,
			}
		}
		out.LineItems = append(out.LineItems, item)
	}
	return out, nil
}

func decodeAddress(a *ocAddress) *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		ID:          a.ID,
		AddressName: a.AddressName,
		CompanyName: a.CompanyName,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Street1:     a.Street1,
		Street2:     a.Street2,
		City:        a.City,
		State:       a.State,
		Zip:         a.Zip,
		Country:     a.Country,
		Phone:       a.Phone,
	}
}

func encodeShipEstimates(estimates []domain.ShipEstimate, currency string) (shipEstimateResponse, error) {
	resp := shipEstimateResponse{ShipEstimates: make([]ocShipEstimate, 0, len(estimates))}
	for _, est := range estimates {
		out := ocShipEstimate{
			ID:                est.ID,
			ShipMethods:       make([]ocShipMethod, 0, len(est.ShipMethods)),
			ShipEstimateItems: make([]ocShipEstimateItem, 0, len(est.ShipEstimateItems)),
			XP:                ocShipEstimateXP{SupplierID: est.SupplierID, ShipFromAddressID: est.ShipFromAddressID},
		}
		for _, m := range est.ShipMethods {
			cost, err := money.FromMinor(m.Cost, currency)
			if err != nil {
				return shipEstimateResponse{}, err
			}
			out.ShipMethods = append(out.ShipMethods, ocShipMethod{
				ID:                   m.ID,
				Name:                 m.Name,
				Cost:                 cost,
				EstimatedTransitDays: m.EstimatedTransitDays,
				XP:                   ocShipMethodXP{FreeShippingApplied: m.FreeShippingApplied, Description: m.Description},
			})
		}
		for _, item := range est.ShipEstimateItems {
			out.ShipEstimateItems = append(out.ShipEstimateItems, ocShipEstimateItem{LineItemID: item.LineItemID, Quantity: item.Quantity})
		}
		resp.ShipEstimates = append(resp.ShipEstimates, out)
	}
	return resp, nil
}
