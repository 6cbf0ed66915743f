package pgpickup

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS pickup_shipments (
  ttn TEXT PRIMARY KEY,
  order_id TEXT NOT NULL DEFAULT '',
  carrier_code TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  pickup_point_type TEXT NOT NULL DEFAULT '',
  arrival_at TIMESTAMPTZ NULL,
  deadline_free_at TIMESTAMPTZ NULL,
  days_at_point INT NOT NULL DEFAULT 0,
  risk TEXT NOT NULL DEFAULT 'NONE',
  recipient_phone TEXT NOT NULL DEFAULT '',
  buyer_phone TEXT NOT NULL DEFAULT '',
  amount DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_checked_at TIMESTAMPTZ NULL,
  last_error TEXT NULL,
  reminder_episode TEXT NOT NULL DEFAULT '',
  reminder_episode_closed BOOLEAN NOT NULL DEFAULT false,
  reminder_sent_levels TEXT[] NOT NULL DEFAULT '{}',
  reminder_last_sent_at TIMESTAMPTZ NULL,
  reminder_cooldown_until TIMESTAMPTZ NULL,
  reminder_muted BOOLEAN NOT NULL DEFAULT false,
  reminder_muted_until TIMESTAMPTZ NULL,
  reminder_pending_level TEXT NOT NULL DEFAULT 'NONE',
  reminder_pending_until TIMESTAMPTZ NULL,
  reminder_manual_seq BIGINT NOT NULL DEFAULT 0,
  reminder_version BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_shipments_status_arrival ON pickup_shipments(status, arrival_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_shipments_order_id ON pickup_shipments(order_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS notification_queue (
  id BIGSERIAL PRIMARY KEY,
  dedupe_key TEXT NOT NULL,
  channel TEXT NOT NULL,
  recipient TEXT NOT NULL,
  body TEXT NOT NULL,
  ttn TEXT NOT NULL,
  level TEXT NOT NULL,
  payload JSONB NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Идемпотентность очереди держится на этом индексе.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_notification_queue_dedupe_key ON notification_queue(dedupe_key)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, created_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
