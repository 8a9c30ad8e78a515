package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajsuth/headstart/internal/domain"
	"github.com/ajsuth/headstart/internal/platform/auth"
	"github.com/ajsuth/headstart/internal/services"
)

type stubRateService struct {
	worksheet domain.OrderWorksheet
	cfg       *domain.CheckoutIntegrationConfiguration
	calls     int
	resp      domain.ShipEstimateResponse
}

func (s *stubRateService) EstimateRates(_ context.Context, ws domain.OrderWorksheet, cfg *domain.CheckoutIntegrationConfiguration) domain.ShipEstimateResponse {
	s.calls++
	s.worksheet = ws
	s.cfg = cfg
	return s.resp
}

var _ services.ShippingRateService = (*stubRateService)(nil)

const checkoutWorksheet = `{
	"OrderWorksheet": {
		"Order": {"ID": "o-1", "Currency": "USD"},
		"LineItems": [
			{
				"ID": "li-1",
				"ProductID": "p-1",
				"Quantity": 2,
				"LineTotal": 42.5,
				"ShipFromAddressID": "wh-1",
				"ShipFromAddress": {"ID": "wh-1", "City": "Austin", "Country": "US"},
				"ShippingAddress": {"ID": "home", "Zip": "78701"},
				"Product": {"ID": "p-1", "xp": {"FreeShipping": true, "ProductType": "Standard"}},
				"SupplierID": "sup-1"
			}
		]
	},
	"ConfigData": {"ExcludePOProductsFromShipping": true, "Storefronts": ["us"]}
}`

func postCheckout(router http.Handler, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations/checkout/shippingrates", bytes.NewReader(body))
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCheckoutShippingRatesConvertsWorksheet(t *testing.T) {
	rates := &stubRateService{resp: domain.ShipEstimateResponse{ShipEstimates: []domain.ShipEstimate{{
		ID:                "wh-1-home",
		SupplierID:        "sup-1",
		ShipFromAddressID: "wh-1",
		ShipMethods: []domain.ShipMethod{
			{ID: "FREE_SHIPPING", Name: "Free Shipping", Cost: 0, FreeShippingApplied: true},
			{ID: "shm_1", Name: "Ground", Cost: 1299, EstimatedTransitDays: 3, Description: "3-5 days"},
		},
		ShipEstimateItems: []domain.ShipEstimateItem{{LineItemID: "li-1", Quantity: 2}},
	}}}}
	router := NewRouter(WithIntegrationRoutes(NewCheckoutIntegrationHandlers(rates).Routes))

	rr := postCheckout(router, []byte(checkoutWorksheet), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 1, rates.calls)

	require.Len(t, rates.worksheet.LineItems, 1)
	item := rates.worksheet.LineItems[0]
	assert.Equal(t, int64(4250), item.LineTotal)
	assert.Equal(t, "Austin", item.ShipFromAddress.City)
	assert.Equal(t, "78701", item.ShippingAddress.Zip)
	require.NotNil(t, item.Product)
	assert.True(t, item.Product.FreeShipping)
	assert.Equal(t, "USD", rates.worksheet.Order.Currency)
	require.NotNil(t, rates.cfg)
	assert.True(t, rates.cfg.ExcludePOProductsFromShipping)
	assert.Equal(t, []string{"us"}, rates.cfg.Storefronts)

	var body struct {
		ShipEstimates []struct {
			ID          string
			ShipMethods []struct {
				ID   string
				Cost float64
				XP   struct {
					FreeShippingApplied bool
					Description         string
				} `json:"xp"`
			}
			XP struct {
				SupplierID        string
				ShipFromAddressID string
			} `json:"xp"`
		}
		HttpStatusCode     int
		UnhandledErrorBody string
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.ShipEstimates, 1)
	est := body.ShipEstimates[0]
	assert.Equal(t, "sup-1", est.XP.SupplierID)
	assert.Equal(t, "wh-1", est.XP.ShipFromAddressID)
	require.Len(t, est.ShipMethods, 2)
	assert.True(t, est.ShipMethods[0].XP.FreeShippingApplied)
	assert.Equal(t, 12.99, est.ShipMethods[1].Cost)
	assert.Equal(t, "3-5 days", est.ShipMethods[1].XP.Description)
	assert.Zero(t, body.HttpStatusCode)
	assert.Empty(t, body.UnhandledErrorBody)
}

func TestCheckoutShippingRatesReportsFailuresInBody(t *testing.T) {
	rates := &stubRateService{resp: domain.ShipEstimateResponse{Error: "shipping rates: subtotal overflow"}}
	router := NewRouter(WithIntegrationRoutes(NewCheckoutIntegrationHandlers(rates).Routes))

	rr := postCheckout(router, []byte(checkoutWorksheet), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 500.0, body["HttpStatusCode"])
	assert.Equal(t, "shipping rates: subtotal overflow", body["UnhandledErrorBody"])
}

func TestCheckoutShippingRatesRejectsBadAmounts(t *testing.T) {
	rates := &stubRateService{}
	router := NewRouter(WithIntegrationRoutes(NewCheckoutIntegrationHandlers(rates).Routes))

	payload := []byte(`{"OrderWorksheet":{"Order":{"ID":"o","Currency":"USD"},"LineItems":[{"ID":"li","LineTotal":1e400}]}}`)
	rr := postCheckout(router, payload, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, rates.calls)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 500.0, body["HttpStatusCode"])
	assert.NotEmpty(t, body["UnhandledErrorBody"])
}

func TestCheckoutShippingRatesMalformedJSON(t *testing.T) {
	rates := &stubRateService{}
	router := NewRouter(WithIntegrationRoutes(NewCheckoutIntegrationHandlers(rates).Routes))

	rr := postCheckout(router, []byte(`{"OrderWorksheet":`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postCheckout(router, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, rates.calls)
}

func TestCheckoutShippingRatesRequireSignature(t *testing.T) {
	rates := &stubRateService{resp: domain.ShipEstimateResponse{ShipEstimates: []domain.ShipEstimate{}}}
	validator := auth.NewHMACValidator(auth.StaticSecret("hash-key"))
	router := NewRouter(
		WithIntegrationRoutes(NewCheckoutIntegrationHandlers(rates).Routes),
		WithIntegrationMiddlewares(validator.RequireSignature()),
	)
	body := []byte(checkoutWorksheet)

	rr := postCheckout(router, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postCheckout(router, body, http.Header{auth.DefaultSignatureHeader: {auth.SignBase64("other-key", body)}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, rates.calls)

	rr = postCheckout(router, body, http.Header{auth.DefaultSignatureHeader: {auth.SignBase64("hash-key", body)}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, rates.calls)
	assert.JSONEq(t, `{"ShipEstimates":[]}`, rr.Body.String())
}

func TestCheckoutShippingRatesReadsCurrencyFromOrderXP(t *testing.T) {
	rates := &stubRateService{resp: domain.ShipEstimateResponse{ShipEstimates: []domain.ShipEstimate{{
		ID:                "ShipEstimate0",
		ShipMethods:       []domain.ShipMethod{{ID: "shm_1", Name: "Ground", Cost: 700}},
		ShipEstimateItems: []domain.ShipEstimateItem{{LineItemID: "li-1", Quantity: 1}},
	}}}}
	router := NewRouter(WithIntegrationRoutes(NewCheckoutIntegrationHandlers(rates).Routes))

	payload := []byte(`{"OrderWorksheet":{"Order":{"ID":"o-2","xp":{"Currency":"JPY"}},"LineItems":[{"ID":"li-1","Quantity":1,"LineTotal":1500}]}}`)
	rr := postCheckout(router, payload, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 1, rates.calls)
	assert.Equal(t, "JPY", rates.worksheet.Order.Currency)
	require.Len(t, rates.worksheet.LineItems, 1)
	assert.Equal(t, int64(1500), rates.worksheet.LineItems[0].LineTotal)

	var body struct {
		ShipEstimates []struct {
			ShipMethods []struct {
				Cost json.Number
			}
		}
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.ShipEstimates, 1)
	require.Len(t, body.ShipEstimates[0].ShipMethods, 1)
	assert.Equal(t, json.Number("700"), body.ShipEstimates[0].ShipMethods[0].Cost)

	payload = []byte(`{"OrderWorksheet":{"Order":{"ID":"o-3","Currency":"USD","xp":{"Currency":"EUR"}},"LineItems":[{"ID":"li-1","Quantity":1,"LineTotal":10}]}}`)
	rr = postCheckout(router, payload, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "EUR", rates.worksheet.Order.Currency)
}
