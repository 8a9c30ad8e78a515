package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ajsuth/headstart/internal/domain"
)

var (
	// ErrShippingRatesInvalidInput indicates the worksheet cannot be rated as given.
	ErrShippingRatesInvalidInput = errors.New("shipping_rates: invalid input")
	// ErrShippingRatesOverflow indicates a shipment subtotal does not fit in int64 minor units.
	ErrShippingRatesOverflow = errors.New("shipping_rates: subtotal overflow")
)

const (
	freeShippingIDPrefix     = "FREE_SHIPPING_"
	freeShippingName         = "FREE"
	freeShippingTransitDays  = 1
	shipEstimateIDPrefix     = "ShipEstimate"
	rateOutcomeOK            = "ok"
	rateOutcomeError         = "error"
	rateOutcomePanic         = "panic"
	rateOutcomeNoShipments   = "empty"
	defaultRateQuoteLogEvent = "shipping.rates.quote"
)

// ApplicableMethodsResolver supplies the candidate methods for a quote.
type ApplicableMethodsResolver interface {
	ListApplicable(ctx context.Context, currency string, cfg *CheckoutIntegrationConfiguration) []ShippingMethod
}

// RateQuoteMetrics records quote outcomes.
type RateQuoteMetrics interface {
	RecordRateQuote(outcome string, estimates int, latency time.Duration)
}

// ShippingRateServiceDeps wires the rate engine.
type ShippingRateServiceDeps struct {
	Methods ApplicableMethodsResolver
	Metrics RateQuoteMetrics
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type shippingRateService struct {
	methods ApplicableMethodsResolver
	metrics RateQuoteMetrics
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ ShippingRateService = (*shippingRateService)(nil)

// NewShippingRateService constructs the rate engine.
func NewShippingRateService(deps ShippingRateServiceDeps) (ShippingRateService, error) {
	if deps.Methods == nil {
		return nil, errors.New("shipping_rates: applicable methods resolver is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingRateService{
		methods: deps.Methods,
		metrics: deps.Metrics,
		now:     clock,
		logger:  logger,
	}, nil
}

// EstimateRates prices every shipment in the worksheet. Rating is all or nothing: any failure,
// including a panic, produces a response carrying only Error.
func (s *shippingRateService) EstimateRates(ctx context.Context, worksheet OrderWorksheet, cfg *CheckoutIntegrationConfiguration) (resp ShipEstimateResponse) {
	start := s.now()
	outcome := rateOutcomeOK

	defer func() {
		if r := recover(); r != nil {
			outcome = rateOutcomePanic
			resp = ShipEstimateResponse{Error: fmt.Sprintf("shipping_rates: unexpected failure: %v", r)}
		}
		latency := s.now().Sub(start)
		if s.metrics != nil {
			s.metrics.RecordRateQuote(outcome, len(resp.ShipEstimates), latency)
		}
		fields := map[string]any{
			"orderId":   worksheet.Order.ID,
			"currency":  worksheet.Order.Currency,
			"outcome":   outcome,
			"estimates": len(resp.ShipEstimates),
			"latencyMs": latency.Milliseconds(),
		}
		if resp.Error != "" {
			fields["error"] = resp.Error
		}
		s.logger(ctx, defaultRateQuoteLogEvent, fields)
	}()

	estimates, err := s.estimate(ctx, worksheet, cfg)
	if err != nil {
		outcome = rateOutcomeError
		return ShipEstimateResponse{Error: err.Error()}
	}
	if len(estimates) == 0 {
		outcome = rateOutcomeNoShipments
	}
	return ShipEstimateResponse{ShipEstimates: estimates}
}

func (s *shippingRateService) estimate(ctx context.Context, worksheet OrderWorksheet, cfg *CheckoutIntegrationConfiguration) ([]ShipEstimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := shippableItems(worksheet.LineItems, cfg)
	for _, item := range items {
		if item.Quantity < 0 {
			return nil, fmt.Errorf("%w: line item %s has negative quantity", ErrShippingRatesInvalidInput, item.ID)
		}
	}

	shipments := PartitionShipments(items)
	estimates := make([]ShipEstimate, 0, len(shipments))
	if len(shipments) == 0 {
		return estimates, nil
	}

	currency := strings.TrimSpace(worksheet.Order.Currency)
	candidates := s.methods.ListApplicable(ctx, currency, cfg)

	for i, shipment := range shipments {
		estimate, err := buildShipEstimate(shipment, candidates, i)
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, estimate)
	}
	return estimates, nil
}

func buildShipEstimate(shipment Shipment, candidates []ShippingMethod, index int) (ShipEstimate, error) {
	subtotal, err := shipmentSubtotal(shipment.LineItems)
	if err != nil {
		return ShipEstimate{}, err
	}
	first := shipment.LineItems[0]

	methods := make([]domain.ShipMethod, 0, len(candidates)+1)
	if allFreeShipping(shipment.LineItems) {
		methods = append(methods, domain.ShipMethod{
			ID:                   freeShippingIDPrefix + first.SupplierID,
			Name:                 freeShippingName,
			Cost:                 0,
			EstimatedTransitDays: freeShippingTransitDays,
			FreeShippingApplied:  true,
		})
	}

	for _, method := range candidates {
		cost, ok := ApplicableShippingCost(method.ShippingCosts, subtotal)
		if !ok {
			continue
		}
		transit := 0
		if method.EstimatedTransitDays != nil {
			transit = *method.EstimatedTransitDays
		}
		methods = append(methods, domain.ShipMethod{
			ID:                   method.ID,
			Name:                 method.Name,
			Cost:                 cost,
			EstimatedTransitDays: transit,
			Description:          method.Description,
		})
	}

	items := make([]domain.ShipEstimateItem, 0, len(shipment.LineItems))
	for _, item := range shipment.LineItems {
		items = append(items, domain.ShipEstimateItem{LineItemID: item.ID, Quantity: item.Quantity})
	}

	return ShipEstimate{
		ID:                fmt.Sprintf("%s%d", shipEstimateIDPrefix, index),
		ShipMethods:       methods,
		ShipEstimateItems: items,
		SupplierID:        first.SupplierID,
		ShipFromAddressID: first.ShipFromAddressID,
	}, nil
}

// ApplicableShippingCost selects the price break for subtotal: tiers are ordered by threshold and the
// last tier whose OrderTotal is strictly below subtotal wins. ok is false when no tier qualifies.
func ApplicableShippingCost(costs []ShippingCost, subtotal int64) (amount int64, ok bool) {
	tiers := sortedTiers(costs)
	for _, tier := range tiers {
		if tier.OrderTotal < subtotal {
			amount, ok = tier.Amount, true
		}
	}
	return amount, ok
}

func sortedTiers(costs []ShippingCost) []ShippingCost {
	tiers := make([]ShippingCost, len(costs))
	copy(tiers, costs)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].OrderTotal < tiers[j].OrderTotal })
	return tiers
}

func shipmentSubtotal(items []LineItem) (int64, error) {
	var total int64
	for _, item := range items {
		v := item.LineTotal
		if (v > 0 && total > math.MaxInt64-v) || (v < 0 && total < math.MinInt64-v) {
			return 0, fmt.Errorf("%w: shipment containing line item %s", ErrShippingRatesOverflow, item.ID)
		}
		total += v
	}
	return total, nil
}

func allFreeShipping(items []LineItem) bool {
	for _, item := range items {
		if item.Product == nil || !item.Product.FreeShipping {
			return false
		}
	}
	return len(items) > 0
}

func shippableItems(items []LineItem, cfg *CheckoutIntegrationConfiguration) []LineItem {
	if cfg == nil || !cfg.ExcludePOProductsFromShipping {
		return items
	}
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		if item.Product != nil && item.Product.ProductType == domain.ProductTypePurchaseOrder {
			continue
		}
		out = append(out, item)
	}
	return out
}
