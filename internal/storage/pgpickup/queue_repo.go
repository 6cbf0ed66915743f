package pgpickup

import (
	"context"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// Enqueue кладёт уведомление в очередь. Повтор с тем же dedupe_key ничего не меняет.
func (s *Storage) Enqueue(ctx context.Context, n models.Notification) (bool, error) {
	createdAt := n.CreatedAt.UTC()
	if n.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO notification_queue (
  dedupe_key, channel, recipient, body, ttn, level, payload, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (dedupe_key) DO NOTHING
`, n.DedupeKey, n.Channel, n.Recipient, n.Text, n.TrackingNumber, n.Level.String(),
		[]byte(n.Payload()), models.QueueStatusPending, createdAt)
	if err != nil {
		return false, errors.Wrap(err, "enqueue notification")
	}
	return tag.RowsAffected() == 1, nil
}

type QueuedNotification struct {
	ID        int64
	DedupeKey string
	Recipient string
	Body      string
	TTN       string
	Level     string
	Status    string
	CreatedAt time.Time
}

// ListQueued returns queue rows of a shipment, oldest first.
func (s *Storage) ListQueued(ctx context.Context, ttn string) ([]QueuedNotification, error) {
	query, args, err := psql.Select("id", "dedupe_key", "recipient", "body", "ttn", "level", "status", "created_at").
		From("notification_queue").
		Where(sq.Eq{"ttn": ttn}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select queue")
	}
	defer rows.Close()

	out := make([]QueuedNotification, 0)
	for rows.Next() {
		var q QueuedNotification
		if err := rows.Scan(&q.ID, &q.DedupeKey, &q.Recipient, &q.Body, &q.TTN, &q.Level, &q.Status, &q.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan queue row")
		}
		out = append(out, q)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// QueueStats counts queue rows per status.
func (s *Storage) QueueStats(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "select queue stats")
	}
	defer rows.Close()

	out := map[string]int64{models.QueueStatusPending: 0, models.QueueStatusSent: 0, models.QueueStatusFailed: 0}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan queue stats")
		}
		out[status] = n
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
