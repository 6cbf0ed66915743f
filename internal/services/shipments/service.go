package shipments

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/PickupControl/internal/broker/messages"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ApplyStatusUpdate(ctx context.Context, upd models.ShipmentStatusUpdate, createIfMissing bool) (bool, error)
}

type KPIInvalidator interface {
	InvalidateKPI(ctx context.Context) error
}

// EpisodeCloser закрывает эпизод напоминаний, когда посылка покинула пункт выдачи.
type EpisodeCloser interface {
	CloseEpisode(ctx context.Context, ttn string) error
}

var ErrInvalidUpdate = errors.New("invalid shipment status update")

// Service ingests shipment status changes published by the order side.
type Service struct {
	repo     Repository
	kpi      KPIInvalidator
	episodes EpisodeCloser
	now      func() time.Time
}

func New(repo Repository, kpi KPIInvalidator) *Service {
	return &Service{repo: repo, kpi: kpi, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) WithEpisodes(episodes EpisodeCloser) *Service {
	s.episodes = episodes
	return s
}

// ApplyStatus stores one status change. A shipment is created the first time it reports AT_POINT;
// other updates for unknown shipments are ignored. Returns whether a record was touched.
func (s *Service) ApplyStatus(ctx context.Context, msg messages.ShipmentStatus) (bool, error) {
	msg.TTN = strings.TrimSpace(msg.TTN)
	msg.Status = strings.ToUpper(strings.TrimSpace(msg.Status))
	if msg.TTN == "" {
		return false, errors.Wrap(ErrInvalidUpdate, "ttn is required")
	}
	if !knownStatus(msg.Status) {
		return false, errors.Wrapf(ErrInvalidUpdate, "unknown status %q", msg.Status)
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = s.now()
	}

	atPoint := msg.Status == models.ShipmentStatusAtPoint
	var fallback *time.Time
	if atPoint && msg.ArrivalAt == nil {
		// Без явного времени прибытия считаем им момент события,
		// но только для нового прибытия: уже лежащую посылку не трогаем.
		t := msg.OccurredAt.UTC()
		fallback = &t
	}

	touched, err := s.repo.ApplyStatusUpdate(ctx, models.ShipmentStatusUpdate{
		TrackingNumber:  msg.TTN,
		OrderID:         msg.OrderID,
		CarrierCode:     msg.CarrierCode,
		Status:          msg.Status,
		PickupPointType: msg.PickupPointType,
		ArrivalAt:       msg.ArrivalAt,
		ArrivalFallback: fallback,
		DeadlineFreeAt:  msg.DeadlineFreeAt,
		RecipientPhone:  msg.RecipientPhone,
		BuyerPhone:      msg.BuyerPhone,
		Amount:          msg.Amount,
		CheckedAt:       msg.OccurredAt,
	}, atPoint)
	if err != nil {
		return false, err
	}

	if touched && s.kpi != nil {
		if err := s.kpi.InvalidateKPI(ctx); err != nil {
			slog.Warn("invalidate kpi cache", "error", err.Error())
		}
	}

	// Уход из пункта закрывает эпизод: следующее прибытие начинает новый.
	if touched && !atPoint && s.episodes != nil {
		if err := s.episodes.CloseEpisode(ctx, msg.TTN); err != nil {
			return true, errors.Wrapf(err, "close episode %s", msg.TTN)
		}
	}
	return touched, nil
}

// HandleMessage is the Kafka handler. Malformed messages are logged and skipped.
func (s *Service) HandleMessage(ctx context.Context, key, value []byte) error {
	var msg messages.ShipmentStatus
	if err := json.Unmarshal(value, &msg); err != nil {
		slog.Warn("skip malformed shipment status", "key", string(key), "error", err.Error())
		return nil
	}
	if msg.TTN == "" {
		msg.TTN = string(key)
	}
	touched, err := s.ApplyStatus(ctx, msg)
	if errors.Is(err, ErrInvalidUpdate) {
		slog.Warn("skip invalid shipment status", "key", string(key), "error", err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	if !touched {
		slog.Debug("shipment status for unknown ttn ignored", "ttn", msg.TTN, "status", msg.Status)
	}
	return nil
}

func knownStatus(s string) bool {
	switch s {
	case models.ShipmentStatusInTransit, models.ShipmentStatusAtPoint,
		models.ShipmentStatusPickedUp, models.ShipmentStatusReturned, models.ShipmentStatusCanceled:
		return true
	}
	return false
}
