package domain

// ProductTypePurchaseOrder marks products fulfilled outside the regular shipping flow.
const ProductTypePurchaseOrder = "PurchaseOrder"

// Address is a comparable postal address. Shipments are keyed on structural address equality.
type Address struct {
	ID          string
	AddressName string
	CompanyName string
	FirstName   string
	LastName    string
	Street1     string
	Street2     string
	City        string
	State       string
	Zip         string
	Country     string
	Phone       string
}

// LineItemProduct is the subset of product data the rate engine reads.
type LineItemProduct struct {
	ID           string
	FreeShipping bool
	ProductType  string
}

// LineItem is a single order line as seen during checkout. LineTotal is in minor currency units.
type LineItem struct {
	ID                string
	ProductID         string
	Quantity          int
	LineTotal         int64
	SupplierID        string
	ShipFromAddressID string
	ShipFromAddress   *Address
	ShippingAddress   *Address
	Product           *LineItemProduct
}

// Order carries the order header fields needed for rating.
type Order struct {
	ID       string
	Currency string
}

// OrderWorksheet bundles an order with its line items.
type OrderWorksheet struct {
	Order     Order
	LineItems []LineItem
}

// CheckoutIntegrationConfiguration is the per-marketplace configuration sent with checkout events.
type CheckoutIntegrationConfiguration struct {
	ExcludePOProductsFromShipping bool
	ExcludePOProductsFromTax      bool
	Storefronts                   []string
}

// Shipment groups line items that share a ship-from and ship-to address.
type Shipment struct {
	ShipFrom  *Address
	ShipTo    *Address
	LineItems []LineItem
}

// ShipMethod is a priced shipping option offered for one shipment.
type ShipMethod struct {
	ID                   string
	Name                 string
	Cost                 int64
	EstimatedTransitDays int
	FreeShippingApplied  bool
	Description          string
}

// ShipEstimateItem associates a line item with a ship estimate.
type ShipEstimateItem struct {
	LineItemID string
	Quantity   int
}

// ShipEstimate lists the shipping options for one shipment.
type ShipEstimate struct {
	ID                string
	ShipMethods       []ShipMethod
	ShipEstimateItems []ShipEstimateItem
	SupplierID        string
	ShipFromAddressID string
}

// ShipEstimateResponse is the result of rating an order. Error is set instead of estimates when rating fails.
type ShipEstimateResponse struct {
	ShipEstimates []ShipEstimate
	Error         string
}
