package models

import (
	"time"

	"github.com/pkg/errors"
)

// Нормализованные статусы отправления.
const (
	ShipmentStatusInTransit = "IN_TRANSIT"
	ShipmentStatusAtPoint   = "AT_POINT"
	ShipmentStatusPickedUp  = "PICKED_UP"
	ShipmentStatusReturned  = "RETURNED"
	ShipmentStatusCanceled  = "CANCELED"
)

// Типы пунктов выдачи.
const (
	PickupPointBranch = "branch"
	PickupPointLocker = "locker"
)

var ErrNotFound = errors.New("not found")

// IsResolvedStatus reports whether the shipment left carrier custody for good.
func IsResolvedStatus(status string) bool {
	switch status {
	case ShipmentStatusPickedUp, ShipmentStatusReturned, ShipmentStatusCanceled:
		return true
	}
	return false
}

type Shipment struct {
	TrackingNumber  string
	OrderID         string
	CarrierCode     string
	Status          string
	PickupPointType string
	ArrivalAt       *time.Time
	DeadlineFreeAt  *time.Time
	DaysAtPoint     int
	Risk            RiskLevel
	RecipientPhone  string
	BuyerPhone      string
	Amount          float64
	LastCheckedAt   *time.Time
	LastError       *string
	Reminder        ReminderState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AtPoint reports whether the shipment is waiting at a pickup point with a known arrival.
func (s *Shipment) AtPoint() bool {
	return s.Status == ShipmentStatusAtPoint && s.ArrivalAt != nil
}

// ContactPhone returns the recipient phone, falling back to the buyer phone.
func (s *Shipment) ContactPhone() string {
	if s.RecipientPhone != "" {
		return s.RecipientPhone
	}
	return s.BuyerPhone
}

// ScanUpdate is what a scan writes back for one shipment.
type ScanUpdate struct {
	TrackingNumber  string
	Status          string
	PickupPointType string
	ArrivalAt       *time.Time
	DeadlineFreeAt  *time.Time
	DaysAtPoint     int
	Risk            RiskLevel
	CheckedAt       time.Time
	LastError       *string
}

// ShipmentStatusUpdate is an externally reported status change.
type ShipmentStatusUpdate struct {
	TrackingNumber  string
	OrderID         string
	CarrierCode     string
	Status          string
	PickupPointType string
	ArrivalAt       *time.Time
	// ArrivalFallback is used only when ArrivalAt is nil and the stored shipment
	// is not already at the point with a known arrival.
	ArrivalFallback *time.Time
	DeadlineFreeAt  *time.Time
	RecipientPhone  string
	BuyerPhone      string
	Amount          float64
	CheckedAt       time.Time
}

type KPISummary struct {
	CountByThreshold map[int]int64
	AmountAtRisk     float64
}
