package messages

import (
	"time"
)

// ShipmentStatus is published by the order/carrier side on every status change.
type ShipmentStatus struct {
	TTN             string     `json:"ttn"`
	OrderID         string     `json:"order_id,omitempty"`
	CarrierCode     string     `json:"carrier_code,omitempty"`
	Status          string     `json:"status"`
	PickupPointType string     `json:"pickup_point_type,omitempty"`
	ArrivalAt       *time.Time `json:"arrival_at,omitempty"`
	DeadlineFreeAt  *time.Time `json:"deadline_free_at,omitempty"`
	RecipientPhone  string     `json:"recipient_phone,omitempty"`
	BuyerPhone      string     `json:"buyer_phone,omitempty"`
	Amount          float64    `json:"amount,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}
