package domain

import "time"

// DefaultPartitionKey is the single partition every shipping method document is stored under.
const DefaultPartitionKey = "PartitionValue"

// ShippingMethod is a seller-managed shipping option priced by order-total tiers.
type ShippingMethod struct {
	ID                   string
	PartitionKey         string
	Name                 string
	Description          string
	Active               bool
	EstimatedTransitDays *int
	Currency             string
	Tax                  TaxCategorization
	ShippingCosts        []ShippingCost
	Storefront           string
	IncludedProductIDs   []string
	ExcludedProductIDs   []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ShippingCost is a price break: Amount applies once the shipment subtotal exceeds OrderTotal.
// Both values are minor currency units.
type ShippingCost struct {
	OrderTotal int64
	Amount     int64
}

// TaxCategorization links a shipping method to a tax code.
type TaxCategorization struct {
	Code          string
	Description   string
	LineItemLevel bool
}

// UniqueKeys implements UniqueKeyed.
func (ShippingMethod) UniqueKeys() []UniqueKey {
	return []UniqueKey{
		{Fields: []string{"name", "currency", "storefront"}},
	}
}

var _ UniqueKeyed = ShippingMethod{}

// ShippingMethodEvent is emitted after a shipping method is created, saved or deleted.
type ShippingMethodEvent struct {
	Type         string    `json:"type"`
	MethodID     string    `json:"methodId"`
	Name         string    `json:"name,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Storefront   string    `json:"storefront,omitempty"`
	PartitionKey string    `json:"partitionKey,omitempty"`
	ActorID      string    `json:"actorId,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}
