package shipments

import (
	"context"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type repoMock struct {
	mock.Mock
}

func (m *repoMock) ApplyStatusUpdate(ctx context.Context, upd models.ShipmentStatusUpdate, createIfMissing bool) (bool, error) {
	args := m.Called(ctx, upd, createIfMissing)
	return args.Bool(0), args.Error(1)
}

type kpiMock struct {
	mock.Mock
}

func (m *kpiMock) InvalidateKPI(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type episodesMock struct {
	mock.Mock
}

func (m *episodesMock) CloseEpisode(ctx context.Context, ttn string) error {
	return m.Called(ctx, ttn).Error(0)
}

type ServiceSuite struct {
	suite.Suite

	repo *repoMock
	kpi  *kpiMock
	svc  *Service
	now  time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &repoMock{}
	s.kpi = &kpiMock{}
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.svc = New(s.repo, s.kpi)
	s.svc.now = func() time.Time { return s.now }
}
