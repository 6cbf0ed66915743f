package pickup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/BearBump/PickupControl/internal/storage/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type statusSourceMock struct {
	mock.Mock
}

func (m *statusSourceMock) GetTracking(ctx context.Context, carrierCode, trackNumber string) (carrier.TrackingResult, error) {
	args := m.Called(ctx, carrierCode, trackNumber)
	return args.Get(0).(carrier.TrackingResult), args.Error(1)
}

type rateLimiterMock struct {
	mock.Mock
}

func (m *rateLimiterMock) AllowFetch(ctx context.Context, carrierCode string, at time.Time, limit int64) (bool, int64, error) {
	args := m.Called(ctx, carrierCode, at, limit)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type EngineSuite struct {
	suite.Suite

	ctx    context.Context
	store  *memstore.Store
	clock  *clock
	ledger *Ledger
	engine *Engine
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	s.clock = &clock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s.ledger = NewLedger(s.store, EpisodeResetOnArrivalChange)
	s.engine = NewEngine(s.store, s.ledger, NewClassifier(DefaultThresholds()), s.store, nil).
		WithSettings(4, 24*time.Hour).
		WithClock(s.clock.Now)
}

// put adds an at-point shipment that arrived days ago.
func (s *EngineSuite) put(ttn string, days float64, phone string) time.Time {
	arrival := s.clock.Now().Add(-time.Duration(days * float64(24*time.Hour)))
	s.store.Put(models.Shipment{
		TrackingNumber: ttn,
		OrderID:        "ORD-" + ttn,
		CarrierCode:    "NP",
		Status:         models.ShipmentStatusAtPoint,
		ArrivalAt:      &arrival,
		RecipientPhone: phone,
		Amount:         100,
	})
	return arrival
}

func (s *EngineSuite) putMany(n int, days float64) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ttn := fmt.Sprintf("TTN-%d", i)
		s.put(ttn, days, "+380000000"+fmt.Sprint(i))
		out = append(out, ttn)
	}
	return out
}
