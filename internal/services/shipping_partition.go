package services

import "github.com/ajsuth/headstart/internal/domain"

// shipmentKey compares addresses by value. A nil address is its own key, distinct from a zero address.
type shipmentKey struct {
	hasFrom, hasTo bool
	from, to       domain.Address
}

func keyFor(item domain.LineItem) shipmentKey {
	var key shipmentKey
	if item.ShipFromAddress != nil {
		key.hasFrom = true
		key.from = *item.ShipFromAddress
	}
	if item.ShippingAddress != nil {
		key.hasTo = true
		key.to = *item.ShippingAddress
	}
	return key
}

// PartitionShipments groups line items by (ship-from, ship-to) address pair. Groups appear in the
// order their first item was seen, and items keep their relative order inside a group.
func PartitionShipments(items []domain.LineItem) []domain.Shipment {
	index := make(map[shipmentKey]int)
	var shipments []domain.Shipment
	for _, item := range items {
		key := keyFor(item)
		i, ok := index[key]
		if !ok {
			i = len(shipments)
			index[key] = i
			shipments = append(shipments, domain.Shipment{
				ShipFrom: item.ShipFromAddress,
				ShipTo:   item.ShippingAddress,
			})
		}
		shipments[i].LineItems = append(shipments[i].LineItems, item)
	}
	return shipments
}
