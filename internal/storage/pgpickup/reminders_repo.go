package pgpickup

import (
	"context"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetReminderState(ctx context.Context, ttn string) (models.ReminderState, error) {
	var st models.ReminderState
	var sentLevels []string
	var pending string
	err := s.db.QueryRow(ctx, `
SELECT
  reminder_episode, reminder_episode_closed, reminder_sent_levels,
  reminder_last_sent_at, reminder_cooldown_until,
  reminder_muted, reminder_muted_until,
  reminder_pending_level, reminder_pending_until,
  reminder_manual_seq, reminder_version
FROM pickup_shipments
WHERE ttn = $1
`, ttn).Scan(
		&st.Episode, &st.EpisodeClosed, &sentLevels,
		&st.LastSentAt, &st.CooldownUntil,
		&st.Muted, &st.MutedUntil,
		&pending, &st.PendingUntil,
		&st.ManualSeq, &st.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReminderState{}, errors.Wrapf(models.ErrNotFound, "shipment %s", ttn)
	}
	if err != nil {
		return models.ReminderState{}, errors.Wrap(err, "select reminder state")
	}

	if st.SentLevels, err = models.ParseRiskLevels(sentLevels); err != nil {
		return models.ReminderState{}, errors.Wrap(err, "parse sent levels")
	}
	if st.PendingLevel, err = models.ParseRiskLevel(pending); err != nil {
		return models.ReminderState{}, errors.Wrap(err, "parse pending level")
	}
	return st, nil
}

// SwapReminderState пишет next, только если reminder_version не изменился с момента чтения.
func (s *Storage) SwapReminderState(ctx context.Context, ttn string, expectedVersion int64, next models.ReminderState) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE pickup_shipments SET
  reminder_episode = $3,
  reminder_episode_closed = $4,
  reminder_sent_levels = $5,
  reminder_last_sent_at = $6,
  reminder_cooldown_until = $7,
  reminder_muted = $8,
  reminder_muted_until = $9,
  reminder_pending_level = $10,
  reminder_pending_until = $11,
  reminder_manual_seq = $12,
  reminder_version = reminder_version + 1,
  updated_at = now()
WHERE ttn = $1 AND reminder_version = $2
`, ttn, expectedVersion,
		next.Episode, next.EpisodeClosed, next.SentLevelNames(),
		next.LastSentAt, next.CooldownUntil,
		next.Muted, next.MutedUntil,
		next.PendingLevel.String(), next.PendingUntil,
		next.ManualSeq,
	)
	if err != nil {
		return false, errors.Wrap(err, "swap reminder state")
	}
	return tag.RowsAffected() == 1, nil
}
