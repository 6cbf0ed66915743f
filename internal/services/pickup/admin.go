package pickup

import (
	"context"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
)

type ForceSendResult struct {
	TrackingNumber string
	Phone          string
	Level          models.RiskLevel
	DedupeKey      string
	Created        bool
}

// Mute suppresses automatic reminders for ttn. Returns the applied number of days.
func (e *Engine) Mute(ctx context.Context, ttn string, days int) (int, error) {
	if _, err := e.repo.GetShipment(ctx, ttn); err != nil {
		return 0, err
	}
	return e.ledger.Mute(ctx, ttn, days, e.now())
}

// ForceSend enqueues a reminder regardless of mute, cooldown and already sent levels.
func (e *Engine) ForceSend(ctx context.Context, ttn string, level models.RiskLevel) (*ForceSendResult, error) {
	if level <= models.RiskNone || level > models.RiskCritical {
		return nil, ErrInvalidLevel
	}
	sh, err := e.repo.GetShipment(ctx, ttn)
	if err != nil {
		return nil, err
	}
	phone := sh.ContactPhone()
	if phone == "" {
		return nil, errors.Wrapf(ErrNoContactInfo, "ttn %s", ttn)
	}

	now := e.now()
	days := sh.DaysAtPoint
	if sh.AtPoint() {
		days = DaysAtPoint(*sh.ArrivalAt, now)
	}

	rsv, err := e.ledger.ReserveManual(ctx, ttn, level)
	if err != nil {
		return nil, errors.Wrap(err, "reserve manual reminder")
	}
	created, err := e.dispatch(ctx, sh, rsv, days, now)
	if err != nil {
		return nil, err
	}
	return &ForceSendResult{
		TrackingNumber: ttn,
		Phone:          phone,
		Level:          level,
		DedupeKey:      rsv.DedupeKey,
		Created:        created,
	}, nil
}

// OrderPickupStatus returns the shipment of an order with days and risk projected to now.
func (e *Engine) OrderPickupStatus(ctx context.Context, orderID string) (*models.Shipment, error) {
	sh, err := e.repo.GetShipmentByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	st, err := e.ledger.State(ctx, sh.TrackingNumber)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrap(err, "reminder state")
	}
	if err == nil {
		sh.Reminder = st
	}

	out := *sh
	out.DaysAtPoint, out.Risk = 0, models.RiskNone
	if sh.AtPoint() {
		now := e.now()
		out.DaysAtPoint = DaysAtPoint(*sh.ArrivalAt, now)
		out.Risk = e.classifier.Classify(out.DaysAtPoint, sh.DeadlineFreeAt, now)
	}
	return &out, nil
}
