package pgpickup

import (
	"context"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var shipmentColumns = []string{
	"ttn", "order_id", "carrier_code",
	"status", "pickup_point_type",
	"arrival_at", "deadline_free_at",
	"days_at_point", "risk",
	"recipient_phone", "buyer_phone", "amount",
	"last_checked_at", "last_error",
	"reminder_episode", "reminder_episode_closed", "reminder_sent_levels",
	"reminder_last_sent_at", "reminder_cooldown_until",
	"reminder_muted", "reminder_muted_until",
	"reminder_pending_level", "reminder_pending_until",
	"reminder_manual_seq", "reminder_version",
	"created_at", "updated_at",
}

// ListAtPoint возвращает отправления в пункте выдачи, дольше всех ждущие первыми.
func (s *Storage) ListAtPoint(ctx context.Context, limit int) ([]*models.Shipment, error) {
	q := psql.Select(shipmentColumns...).
		From("pickup_shipments").
		Where(sq.Eq{"status": models.ShipmentStatusAtPoint}).
		Where(sq.NotEq{"arrival_at": nil}).
		OrderBy("arrival_at ASC", "ttn ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.selectShipments(ctx, q)
}

func (s *Storage) ListArrivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Shipment, error) {
	q := psql.Select(shipmentColumns...).
		From("pickup_shipments").
		Where(sq.Eq{"status": models.ShipmentStatusAtPoint}).
		Where(sq.LtOrEq{"arrival_at": cutoff.UTC()}).
		OrderBy("arrival_at ASC", "ttn ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.selectShipments(ctx, q)
}

func (s *Storage) GetShipment(ctx context.Context, ttn string) (*models.Shipment, error) {
	items, err := s.selectShipments(ctx, psql.Select(shipmentColumns...).
		From("pickup_shipments").
		Where(sq.Eq{"ttn": ttn}))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", ttn)
	}
	return items[0], nil
}

func (s *Storage) GetShipmentByOrder(ctx context.Context, orderID string) (*models.Shipment, error) {
	items, err := s.selectShipments(ctx, psql.Select(shipmentColumns...).
		From("pickup_shipments").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", orderID)
	}
	return items[0], nil
}

func (s *Storage) SaveScan(ctx context.Context, upd models.ScanUpdate) error {
	tag, err := s.db.Exec(ctx, `
UPDATE pickup_shipments SET
  status = $2,
  pickup_point_type = $3,
  arrival_at = $4,
  deadline_free_at = $5,
  days_at_point = $6,
  risk = $7,
  last_checked_at = $8,
  last_error = $9,
  updated_at = $8
WHERE ttn = $1
`, upd.TrackingNumber, upd.Status, upd.PickupPointType, upd.ArrivalAt, upd.DeadlineFreeAt,
		upd.DaysAtPoint, upd.Risk.String(), upd.CheckedAt.UTC(), upd.LastError)
	if err != nil {
		return errors.Wrap(err, "save scan")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "shipment %s", upd.TrackingNumber)
	}
	return nil
}

const statusSetClause = `
  order_id = COALESCE(NULLIF($2, ''), pickup_shipments.order_id),
  carrier_code = COALESCE(NULLIF($3, ''), pickup_shipments.carrier_code),
  status = COALESCE(NULLIF($4, ''), pickup_shipments.status),
  pickup_point_type = COALESCE(NULLIF($5, ''), pickup_shipments.pickup_point_type),
  arrival_at = COALESCE(
    $6::timestamptz,
    CASE WHEN pickup_shipments.status = 'AT_POINT' AND pickup_shipments.arrival_at IS NOT NULL
      THEN pickup_shipments.arrival_at ELSE $12::timestamptz END,
    pickup_shipments.arrival_at),
  deadline_free_at = COALESCE($7, pickup_shipments.deadline_free_at),
  recipient_phone = COALESCE(NULLIF($8, ''), pickup_shipments.recipient_phone),
  buyer_phone = COALESCE(NULLIF($9, ''), pickup_shipments.buyer_phone),
  amount = CASE WHEN $10::float8 > 0 THEN $10::float8 ELSE pickup_shipments.amount END,
  updated_at = $11`

// ApplyStatusUpdate применяет внешнее изменение статуса. Пустые поля не затирают сохранённые.
// Новая запись создаётся только при createIfMissing. Возвращает, была ли затронута строка.
func (s *Storage) ApplyStatusUpdate(ctx context.Context, upd models.ShipmentStatusUpdate, createIfMissing bool) (bool, error) {
	at := upd.CheckedAt.UTC()
	if upd.CheckedAt.IsZero() {
		at = time.Now().UTC()
	}
	args := []any{
		upd.TrackingNumber, upd.OrderID, upd.CarrierCode, upd.Status, upd.PickupPointType,
		upd.ArrivalAt, upd.DeadlineFreeAt, upd.RecipientPhone, upd.BuyerPhone, upd.Amount, at,
		upd.ArrivalFallback,
	}

	q := `UPDATE pickup_shipments SET` + statusSetClause + `
WHERE ttn = $1`
	if createIfMissing {
		q = `
INSERT INTO pickup_shipments (
  ttn, order_id, carrier_code, status, pickup_point_type,
  arrival_at, deadline_free_at, recipient_phone, buyer_phone, amount,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,COALESCE($6::timestamptz, $12::timestamptz),$7,$8,$9,$10,$11,$11)
ON CONFLICT (ttn) DO UPDATE SET` + statusSetClause
	}

	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return false, errors.Wrap(err, "apply status update")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) selectShipments(ctx context.Context, q sq.SelectBuilder) ([]*models.Shipment, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var risk, pending string
	var sentLevels []string
	if err := row.Scan(
		&sh.TrackingNumber, &sh.OrderID, &sh.CarrierCode,
		&sh.Status, &sh.PickupPointType,
		&sh.ArrivalAt, &sh.DeadlineFreeAt,
		&sh.DaysAtPoint, &risk,
		&sh.RecipientPhone, &sh.BuyerPhone, &sh.Amount,
		&sh.LastCheckedAt, &sh.LastError,
		&sh.Reminder.Episode, &sh.Reminder.EpisodeClosed, &sentLevels,
		&sh.Reminder.LastSentAt, &sh.Reminder.CooldownUntil,
		&sh.Reminder.Muted, &sh.Reminder.MutedUntil,
		&pending, &sh.Reminder.PendingUntil,
		&sh.Reminder.ManualSeq, &sh.Reminder.Version,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan shipment")
	}

	var err error
	if sh.Risk, err = models.ParseRiskLevel(risk); err != nil {
		return nil, errors.Wrap(err, "scan risk")
	}
	if sh.Reminder.PendingLevel, err = models.ParseRiskLevel(pending); err != nil {
		return nil, errors.Wrap(err, "scan pending level")
	}
	if sh.Reminder.SentLevels, err = models.ParseRiskLevels(sentLevels); err != nil {
		return nil, errors.Wrap(err, "scan sent levels")
	}
	return &sh, nil
}
