package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/BearBump/PickupControl/internal/models"
)

// FakeClient: детерминированный источник статусов для локального запуска.
// По хэшу (carrier, ttn): часть отправлений уже забрана, остальные приходят в пункт
// раз в arrivalCycle со своим сдвигом и лежат там до следующего прибытия.
type FakeClient struct {
	now func() time.Time
}

const arrivalCycle = 14 * 24 * time.Hour

// arrivalAt returns the latest arrival of the parcel not after now.
// Arrivals happen at phase + k*arrivalCycle counted from the Unix epoch.
func arrivalAt(v uint32, now time.Time) time.Time {
	phase := time.Duration(v%14)*24*time.Hour + time.Duration(v%24)*time.Hour
	epoch := time.Unix(0, 0).UTC().Add(phase)
	cycles := now.Sub(epoch) / arrivalCycle
	return epoch.Add(cycles * arrivalCycle)
}

func New() *FakeClient {
	return &FakeClient{now: func() time.Time { return time.Now().UTC() }}
}

func (f *FakeClient) GetTracking(ctx context.Context, carrierCode, trackNumber string) (carrier.TrackingResult, error) {
	now := f.now()

	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierCode))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackNumber))
	v := h.Sum32()

	// 20% отправлений считаем забранными
	if v%5 == 0 {
		return carrier.TrackingResult{
			State:     carrier.State{Status: models.ShipmentStatusPickedUp},
			StatusRaw: models.ShipmentStatusPickedUp,
			StatusAt:  &now,
		}, nil
	}

	arrival := arrivalAt(v, now)
	deadline := arrival.Add(7 * 24 * time.Hour)
	pointType := models.PickupPointBranch
	if v%3 == 0 {
		pointType = models.PickupPointLocker
	}

	return carrier.TrackingResult{
		State: carrier.State{
			Status:          models.ShipmentStatusAtPoint,
			PickupPointType: pointType,
			ArrivalAt:       &arrival,
			DeadlineFreeAt:  &deadline,
		},
		StatusRaw: models.ShipmentStatusAtPoint,
		StatusAt:  &now,
	}, nil
}
