package pickup_api

import (
	"time"

	"github.com/BearBump/PickupControl/internal/models"
)

type shipmentDTO struct {
	TTN             string     `json:"ttn"`
	OrderID         string     `json:"order_id"`
	Status          string     `json:"status"`
	PickupPointType string     `json:"pickup_point_type"`
	ArrivalAt       *time.Time `json:"arrival_at"`
	DaysAtPoint     int        `json:"days_at_point"`
	DeadlineFreeAt  *time.Time `json:"deadline_free_at"`
	Risk            string     `json:"risk"`
	Amount          float64    `json:"amount"`
}

type remindersDTO struct {
	SentLevels    []string   `json:"sent_levels"`
	LastSentAt    *time.Time `json:"last_sent_at"`
	CooldownUntil *time.Time `json:"cooldown_until"`
	Muted         bool       `json:"muted"`
	MutedUntil    *time.Time `json:"muted_until"`
}

type orderStatusDTO struct {
	shipmentDTO
	LastCheckedAt *time.Time   `json:"last_checked_at"`
	Reminders     remindersDTO `json:"reminders"`
}

type riskListResponse struct {
	Items      []shipmentDTO `json:"items"`
	Count      int           `json:"count"`
	FilterDays int           `json:"filter_days"`
}

type kpiResponse struct {
	AtPoint2Plus int64   `json:"at_point_2plus"`
	AtPoint5Plus int64   `json:"at_point_5plus"`
	AtPoint7Plus int64   `json:"at_point_7plus"`
	AmountAtRisk float64 `json:"amount_at_risk"`
}

type runRequest struct {
	Limit int `json:"limit"`
}

type runResponse struct {
	OK            bool              `json:"ok"`
	Processed     int               `json:"processed"`
	Sent          int               `json:"sent"`
	HighRiskCount int               `json:"high_risk_count"`
	Errors        []models.RunError `json:"errors"`
}

type processResponse struct {
	OK          bool              `json:"ok"`
	TTN         string            `json:"ttn"`
	Status      string            `json:"status"`
	DaysAtPoint int               `json:"days_at_point"`
	Risk        string            `json:"risk"`
	Sent        bool              `json:"sent"`
	Level       string            `json:"level,omitempty"`
	SkipReason  string            `json:"skip_reason,omitempty"`
	Errors      []models.RunError `json:"errors"`
}

type muteRequest struct {
	Days int `json:"days"`
}

type muteResponse struct {
	OK        bool   `json:"ok"`
	TTN       string `json:"ttn"`
	MutedDays int    `json:"muted_days"`
}

type sendRequest struct {
	Level string `json:"level"`
}

type sendResponse struct {
	OK    bool   `json:"ok"`
	TTN   string `json:"ttn"`
	Phone string `json:"phone"`
	Level string `json:"level"`
}

func toShipmentDTO(sh *models.Shipment) shipmentDTO {
	return shipmentDTO{
		TTN:             sh.TrackingNumber,
		OrderID:         sh.OrderID,
		Status:          sh.Status,
		PickupPointType: sh.PickupPointType,
		ArrivalAt:       sh.ArrivalAt,
		DaysAtPoint:     sh.DaysAtPoint,
		DeadlineFreeAt:  sh.DeadlineFreeAt,
		Risk:            sh.Risk.String(),
		Amount:          sh.Amount,
	}
}

func toOrderStatusDTO(sh *models.Shipment) orderStatusDTO {
	return orderStatusDTO{
		shipmentDTO:   toShipmentDTO(sh),
		LastCheckedAt: sh.LastCheckedAt,
		Reminders: remindersDTO{
			SentLevels:    sh.Reminder.SentLevelNames(),
			LastSentAt:    sh.Reminder.LastSentAt,
			CooldownUntil: sh.Reminder.CooldownUntil,
			Muted:         sh.Reminder.Muted,
			MutedUntil:    sh.Reminder.MutedUntil,
		},
	}
}

func nonNilErrors(errs []models.RunError) []models.RunError {
	if errs == nil {
		return []models.RunError{}
	}
	return errs
}
