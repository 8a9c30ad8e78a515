package services

import (
	"context"

	"github.com/ajsuth/headstart/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ShippingMethod                   = domain.ShippingMethod
	ShippingCost                     = domain.ShippingCost
	ShippingMethodEvent              = domain.ShippingMethodEvent
	OrderWorksheet                   = domain.OrderWorksheet
	LineItem                         = domain.LineItem
	Shipment                         = domain.Shipment
	ShipEstimate                     = domain.ShipEstimate
	ShipEstimateResponse             = domain.ShipEstimateResponse
	CheckoutIntegrationConfiguration = domain.CheckoutIntegrationConfiguration
	ListOptions                      = domain.ListOptions
	SystemHealthReport               = domain.SystemHealthReport
)

// ShippingMethodService is the command layer over the shipping method store.
type ShippingMethodService interface {
	Create(ctx context.Context, cmd ShippingMethodCommand) (ShippingMethod, error)
	List(ctx context.Context, opts ListOptions) (domain.ListPage[ShippingMethod], error)
	Get(ctx context.Context, id string) (ShippingMethod, error)
	// Find returns the first method whose ID starts with search.
	Find(ctx context.Context, search string) (ShippingMethod, error)
	// Save upserts the method under id; the path ID wins over any ID in the payload.
	Save(ctx context.Context, id string, cmd ShippingMethodCommand) (ShippingMethod, error)
	Delete(ctx context.Context, cmd DeleteShippingMethodCommand) error
	// ListApplicable returns active methods for the currency. Store failures yield an empty list.
	ListApplicable(ctx context.Context, currency string, cfg *CheckoutIntegrationConfiguration) []ShippingMethod
}

// ShippingRateService prices order worksheets.
type ShippingRateService interface {
	EstimateRates(ctx context.Context, worksheet OrderWorksheet, cfg *CheckoutIntegrationConfiguration) ShipEstimateResponse
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ShippingMethodEventPublisher delivers change notifications for shipping methods.
type ShippingMethodEventPublisher interface {
	PublishShippingMethodEvent(ctx context.Context, event ShippingMethodEvent) (string, error)
}

// ShippingMethodCommand carries a method payload and the acting principal.
type ShippingMethodCommand struct {
	Method  ShippingMethod
	ActorID string
}

// DeleteShippingMethodCommand identifies the method to remove.
type DeleteShippingMethodCommand struct {
	ID      string
	ActorID string
}
