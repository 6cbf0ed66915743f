package messages

import (
	"time"
)

// PickupReminder is one SMS for the delivery service.
type PickupReminder struct {
	DedupeKey string    `json:"dedupe_key"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	TTN       string    `json:"ttn"`
	OrderID   string    `json:"order_id,omitempty"`
	Level     string    `json:"level"`
	Manual    bool      `json:"manual,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
