package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
)

// Store keeps shipments, reminder state and queued notifications in memory.
// It serves the same interfaces as the Postgres storage.
type Store struct {
	mu        sync.RWMutex
	shipments map[string]*models.Shipment
	order     []string
	queue     map[string]models.Notification
	queued    []string

	// EnqueueHook, if set, is called before a notification is stored; an error rejects it.
	EnqueueHook func(n models.Notification) error
	// SwapHook, if set, runs before each compare-and-swap outside the lock.
	SwapHook func(ttn string)
}

func New() *Store {
	return &Store{
		shipments: make(map[string]*models.Shipment),
		queue:     make(map[string]models.Notification),
	}
}

// Put inserts or replaces a shipment. Reminder state is taken as given.
func (s *Store) Put(sh models.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shipments[sh.TrackingNumber]; !ok {
		s.order = append(s.order, sh.TrackingNumber)
	}
	cp := cloneShipment(&sh)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.shipments[sh.TrackingNumber] = cp
}

func (s *Store) ListAtPoint(ctx context.Context, limit int) ([]*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Shipment, 0)
	for _, ttn := range s.order {
		sh := s.shipments[ttn]
		if sh.AtPoint() {
			out = append(out, cloneShipment(sh))
		}
	}
	sortByArrival(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListArrivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Shipment, 0)
	for _, ttn := range s.order {
		sh := s.shipments[ttn]
		if sh.AtPoint() && !sh.ArrivalAt.After(cutoff) {
			out = append(out, cloneShipment(sh))
		}
	}
	sortByArrival(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) KPI(ctx context.Context, cutoffs map[int]time.Time, amountCutoff time.Time) (models.KPISummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := models.KPISummary{CountByThreshold: make(map[int]int64, len(cutoffs))}
	for d := range cutoffs {
		k.CountByThreshold[d] = 0
	}
	for _, sh := range s.shipments {
		if !sh.AtPoint() {
			continue
		}
		for d, c := range cutoffs {
			if !sh.ArrivalAt.After(c) {
				k.CountByThreshold[d]++
			}
		}
		if !sh.ArrivalAt.After(amountCutoff) {
			k.AmountAtRisk += sh.Amount
		}
	}
	return k, nil
}

func (s *Store) GetShipment(ctx context.Context, ttn string) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[ttn]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", ttn)
	}
	return cloneShipment(sh), nil
}

func (s *Store) GetShipmentByOrder(ctx context.Context, orderID string) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Shipment
	for _, ttn := range s.order {
		sh := s.shipments[ttn]
		// Последнее добавленное отправление по заказу.
		if sh.OrderID == orderID {
			found = sh
		}
	}
	if found == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", orderID)
	}
	return cloneShipment(found), nil
}

func (s *Store) SaveScan(ctx context.Context, upd models.ScanUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[upd.TrackingNumber]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "shipment %s", upd.TrackingNumber)
	}
	sh.Status = upd.Status
	sh.PickupPointType = upd.PickupPointType
	sh.ArrivalAt = cloneTime(upd.ArrivalAt)
	sh.DeadlineFreeAt = cloneTime(upd.DeadlineFreeAt)
	sh.DaysAtPoint = upd.DaysAtPoint
	sh.Risk = upd.Risk
	checked := upd.CheckedAt
	sh.LastCheckedAt = &checked
	sh.LastError = upd.LastError
	sh.UpdatedAt = upd.CheckedAt
	return nil
}

// ApplyStatusUpdate mirrors the Postgres behaviour: unknown shipments are created only
// when createIfMissing is set. Returns whether a record was touched.
func (s *Store) ApplyStatusUpdate(ctx context.Context, upd models.ShipmentStatusUpdate, createIfMissing bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[upd.TrackingNumber]
	if !ok {
		if !createIfMissing {
			return false, nil
		}
		sh = &models.Shipment{TrackingNumber: upd.TrackingNumber, CreatedAt: upd.CheckedAt}
		s.shipments[upd.TrackingNumber] = sh
		s.order = append(s.order, upd.TrackingNumber)
	}
	applyStatus(sh, upd)
	return true, nil
}

func (s *Store) GetReminderState(ctx context.Context, ttn string) (models.ReminderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[ttn]
	if !ok {
		return models.ReminderState{}, errors.Wrapf(models.ErrNotFound, "shipment %s", ttn)
	}
	return sh.Reminder.Clone(), nil
}

func (s *Store) SwapReminderState(ctx context.Context, ttn string, expectedVersion int64, next models.ReminderState) (bool, error) {
	if s.SwapHook != nil {
		s.SwapHook(ttn)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[ttn]
	if !ok {
		return false, errors.Wrapf(models.ErrNotFound, "shipment %s", ttn)
	}
	if sh.Reminder.Version != expectedVersion {
		return false, nil
	}
	st := next.Clone()
	st.Version = expectedVersion + 1
	sh.Reminder = st
	return true, nil
}

func (s *Store) Enqueue(ctx context.Context, n models.Notification) (bool, error) {
	if s.EnqueueHook != nil {
		if err := s.EnqueueHook(n); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[n.DedupeKey]; ok {
		return false, nil
	}
	s.queue[n.DedupeKey] = n
	s.queued = append(s.queued, n.DedupeKey)
	return true, nil
}

// Notifications returns queued notifications in enqueue order.
func (s *Store) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, 0, len(s.queued))
	for _, k := range s.queued {
		out = append(out, s.queue[k])
	}
	return out
}

// QueueStats mirrors the postgres queue: everything enqueued here stays PENDING.
func (s *Store) QueueStats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int64{
		models.QueueStatusPending: int64(len(s.queued)),
		models.QueueStatusSent:    0,
		models.QueueStatusFailed:  0,
	}, nil
}

func applyStatus(sh *models.Shipment, upd models.ShipmentStatusUpdate) {
	settled := sh.AtPoint()
	if upd.OrderID != "" {
		sh.OrderID = upd.OrderID
	}
	if upd.CarrierCode != "" {
		sh.CarrierCode = upd.CarrierCode
	}
	if upd.Status != "" {
		sh.Status = upd.Status
	}
	if upd.PickupPointType != "" {
		sh.PickupPointType = upd.PickupPointType
	}
	switch {
	case upd.ArrivalAt != nil:
		sh.ArrivalAt = cloneTime(upd.ArrivalAt)
	case upd.ArrivalFallback != nil && !settled:
		sh.ArrivalAt = cloneTime(upd.ArrivalFallback)
	}
	if upd.DeadlineFreeAt != nil {
		sh.DeadlineFreeAt = cloneTime(upd.DeadlineFreeAt)
	}
	if upd.RecipientPhone != "" {
		sh.RecipientPhone = upd.RecipientPhone
	}
	if upd.BuyerPhone != "" {
		sh.BuyerPhone = upd.BuyerPhone
	}
	if upd.Amount > 0 {
		sh.Amount = upd.Amount
	}
	sh.UpdatedAt = upd.CheckedAt
}

func sortByArrival(items []*models.Shipment) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ArrivalAt.Before(*items[j].ArrivalAt)
	})
}

func cloneShipment(sh *models.Shipment) *models.Shipment {
	cp := *sh
	cp.ArrivalAt = cloneTime(sh.ArrivalAt)
	cp.DeadlineFreeAt = cloneTime(sh.DeadlineFreeAt)
	cp.LastCheckedAt = cloneTime(sh.LastCheckedAt)
	if sh.LastError != nil {
		e := *sh.LastError
		cp.LastError = &e
	}
	cp.Reminder = sh.Reminder.Clone()
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
