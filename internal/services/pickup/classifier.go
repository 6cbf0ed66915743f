package pickup

import (
	"time"

	"github.com/BearBump/PickupControl/internal/models"
)

// Thresholds are day counts at which each risk level starts.
type Thresholds struct {
	D2       int
	D5       int
	D7       int
	Critical int
}

func DefaultThresholds() Thresholds {
	return Thresholds{D2: 2, D5: 5, D7: 7, Critical: 10}
}

type Classifier struct {
	th Thresholds
}

// NewClassifier fills zero thresholds with defaults and forces them to be non-decreasing.
func NewClassifier(th Thresholds) *Classifier {
	def := DefaultThresholds()
	if th.D2 <= 0 {
		th.D2 = def.D2
	}
	if th.D5 <= 0 {
		th.D5 = def.D5
	}
	if th.D7 <= 0 {
		th.D7 = def.D7
	}
	if th.Critical <= 0 {
		th.Critical = def.Critical
	}
	if th.D5 < th.D2 {
		th.D5 = th.D2
	}
	if th.D7 < th.D5 {
		th.D7 = th.D5
	}
	if th.Critical < th.D7 {
		th.Critical = th.D7
	}
	return &Classifier{th: th}
}

func (c *Classifier) Thresholds() Thresholds {
	return c.th
}

// Classify maps days at point and the free-storage deadline to a risk level.
// A deadline strictly in the past always yields CRITICAL.
func (c *Classifier) Classify(daysAtPoint int, deadlineFreeAt *time.Time, now time.Time) models.RiskLevel {
	if deadlineFreeAt != nil && now.After(*deadlineFreeAt) {
		return models.RiskCritical
	}
	switch {
	case daysAtPoint >= c.th.Critical:
		return models.RiskCritical
	case daysAtPoint >= c.th.D7:
		return models.RiskD7
	case daysAtPoint >= c.th.D5:
		return models.RiskD5
	case daysAtPoint >= c.th.D2:
		return models.RiskD2
	}
	return models.RiskNone
}

// ThresholdDays returns the day count at which level starts.
func (c *Classifier) ThresholdDays(level models.RiskLevel) int {
	switch level {
	case models.RiskD2:
		return c.th.D2
	case models.RiskD5:
		return c.th.D5
	case models.RiskD7:
		return c.th.D7
	case models.RiskCritical:
		return c.th.Critical
	}
	return 0
}

// DaysAtPoint is the number of whole days elapsed since arrival, never negative.
func DaysAtPoint(arrivalAt, now time.Time) int {
	d := now.Sub(arrivalAt)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
