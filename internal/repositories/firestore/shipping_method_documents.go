package firestore

import (
	"strconv"
	"time"

	"github.com/ajsuth/headstart/internal/domain"
)

type shippingMethodDocument struct {
	ID                   string                 `firestore:"id"`
	PartitionKey         string                 `firestore:"partitionKey"`
	Name                 string                 `firestore:"name"`
	Description          string                 `firestore:"description,omitempty"`
	Active               bool                   `firestore:"active"`
	EstimatedTransitDays *int64                 `firestore:"estimatedTransitDays,omitempty"`
	Currency             string                 `firestore:"currency"`
	Tax                  taxCategorizationDoc   `firestore:"tax"`
	ShippingCosts        []shippingCostDocument `firestore:"shippingCosts"`
	Storefront           string                 `firestore:"storefront"`
	IncludedProductIDs   []string               `firestore:"includedProductIds,omitempty"`
	ExcludedProductIDs   []string               `firestore:"excludedProductIds,omitempty"`
	CreatedAt            time.Time              `firestore:"createdAt"`
	UpdatedAt            time.Time              `firestore:"updatedAt"`
}

type shippingCostDocument struct {
	OrderTotal int64 `firestore:"orderTotal"`
	Amount     int64 `firestore:"amount"`
}

type taxCategorizationDoc struct {
	Code          string `firestore:"code,omitempty"`
	Description   string `firestore:"description,omitempty"`
	LineItemLevel bool   `firestore:"lineItemLevel"`
}

// uniqueKeyDocument claims one unique key value for a shipping method.
type uniqueKeyDocument struct {
	MethodID     string            `firestore:"methodId"`
	PartitionKey string            `firestore:"partitionKey"`
	Fields       map[string]string `firestore:"fields"`
}

// field returns the stored value of a document field as a string, for unique key hashing.
func (d shippingMethodDocument) field(name string) string {
	switch name {
	case "id":
		return d.ID
	case "name":
		return d.Name
	case "currency":
		return d.Currency
	case "storefront":
		return d.Storefront
	case "description":
		return d.Description
	case "active":
		return strconv.FormatBool(d.Active)
	}
	return ""
}

func encodeShippingMethod(method domain.ShippingMethod) shippingMethodDocument {
	costs := make([]shippingCostDocument, 0, len(method.ShippingCosts))
	for _, cost := range method.ShippingCosts {
		costs = append(costs, shippingCostDocument{OrderTotal: cost.OrderTotal, Amount: cost.Amount})
	}
	var transit *int64
	if method.EstimatedTransitDays != nil {
		days := int64(*method.EstimatedTransitDays)
		transit = &days
	}
	return shippingMethodDocument{
		ID:                   method.ID,
		PartitionKey:         method.PartitionKey,
		Name:                 method.Name,
		Description:          method.Description,
		Active:               method.Active,
		EstimatedTransitDays: transit,
		Currency:             method.Currency,
		Tax: taxCategorizationDoc{
			Code:          method.Tax.Code,
			Description:   method.Tax.Description,
			LineItemLevel: method.Tax.LineItemLevel,
		},
		ShippingCosts:      costs,
		Storefront:         method.Storefront,
		IncludedProductIDs: cloneSlice(method.IncludedProductIDs),
		ExcludedProductIDs: cloneSlice(method.ExcludedProductIDs),
		CreatedAt:          method.CreatedAt.UTC(),
		UpdatedAt:          method.UpdatedAt.UTC(),
	}
}

func decodeShippingMethod(doc shippingMethodDocument) domain.ShippingMethod {
	costs := make([]domain.ShippingCost, 0, len(doc.ShippingCosts))
	for _, cost := range doc.ShippingCosts {
		costs = append(costs, domain.ShippingCost{OrderTotal: cost.OrderTotal, Amount: cost.Amount})
	}
	var transit *int
	if doc.EstimatedTransitDays != nil {
		days := int(*doc.EstimatedTransitDays)
		transit = &days
	}
	return domain.ShippingMethod{
		ID:                   doc.ID,
		PartitionKey:         doc.PartitionKey,
		Name:                 doc.Name,
		Description:          doc.Description,
		Active:               doc.Active,
		EstimatedTransitDays: transit,
		Currency:             doc.Currency,
		Tax: domain.TaxCategorization{
			Code:          doc.Tax.Code,
			Description:   doc.Tax.Description,
			LineItemLevel: doc.Tax.LineItemLevel,
		},
		ShippingCosts:      costs,
		Storefront:         doc.Storefront,
		IncludedProductIDs: cloneSlice(doc.IncludedProductIDs),
		ExcludedProductIDs: cloneSlice(doc.ExcludedProductIDs),
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
	}
}

func cloneSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
