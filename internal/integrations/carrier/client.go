// Package carrier describes status sources the pickup engine can poll.
package carrier

import (
	"context"
	"time"
)

// State is what the engine knows about a parcel at the pickup point.
type State struct {
	Status          string
	PickupPointType string
	ArrivalAt       *time.Time
	DeadlineFreeAt  *time.Time
}

// TrackingResult is one answer of a status source. Empty fields are unknown.
type TrackingResult struct {
	State
	StatusRaw string
	StatusAt  *time.Time
}

// Over returns stored with every field the source reported replaced.
func (r TrackingResult) Over(stored State) State {
	if r.Status != "" {
		stored.Status = r.Status
	}
	if r.PickupPointType != "" {
		stored.PickupPointType = r.PickupPointType
	}
	if r.ArrivalAt != nil {
		stored.ArrivalAt = r.ArrivalAt
	}
	if r.DeadlineFreeAt != nil {
		stored.DeadlineFreeAt = r.DeadlineFreeAt
	}
	return stored
}

type Client interface {
	GetTracking(ctx context.Context, carrierCode, trackNumber string) (TrackingResult, error)
}
