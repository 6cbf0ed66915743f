package pickup

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
)

// LedgerStore persists reminder state with optimistic versioning.
// SwapReminderState writes next only if the stored version still equals expectedVersion
// and bumps the version on success.
type LedgerStore interface {
	GetReminderState(ctx context.Context, ttn string) (models.ReminderState, error)
	SwapReminderState(ctx context.Context, ttn string, expectedVersion int64, next models.ReminderState) (bool, error)
}

type EpisodePolicy string

const (
	// Любая смена arrivalAt открывает новый эпизод.
	EpisodeResetOnArrivalChange EpisodePolicy = "arrival_change"
	// Новый эпизод только если отправление успело покинуть пункт выдачи.
	EpisodeResetRequireLeft EpisodePolicy = "require_left"
)

func ParseEpisodePolicy(s string) (EpisodePolicy, error) {
	switch EpisodePolicy(s) {
	case "", EpisodeResetOnArrivalChange:
		return EpisodeResetOnArrivalChange, nil
	case EpisodeResetRequireLeft:
		return EpisodeResetRequireLeft, nil
	}
	return "", errors.Errorf("unknown episode reset policy %q", s)
}

// Причины, по которым напоминание не отправляется.
const (
	SkipNoRisk      = "no_risk"
	SkipNotAtPoint  = "not_at_point"
	SkipMuted       = "muted"
	SkipAlreadySent = "already_sent"
	SkipCooldown    = "cooldown"
	SkipInFlight    = "in_flight"
)

const (
	defaultLease    = 2 * time.Minute
	defaultMuteDays = 7
	maxSwapAttempts = 8
	episodeIDLayout = "20060102T150405Z"
	dedupeKeyPrefix = "pickup"
	manualKeyPrefix = "pickup-manual"
)

// Reservation is a claim to dispatch one reminder.
type Reservation struct {
	TrackingNumber string
	Level          models.RiskLevel
	Episode        string
	DedupeKey      string
	Manual         bool
}

type Ledger struct {
	store  LedgerStore
	policy EpisodePolicy
	lease  time.Duration
}

func NewLedger(store LedgerStore, policy EpisodePolicy) *Ledger {
	if policy == "" {
		policy = EpisodeResetOnArrivalChange
	}
	return &Ledger{store: store, policy: policy, lease: defaultLease}
}

func (l *Ledger) WithLease(lease time.Duration) *Ledger {
	if lease > 0 {
		l.lease = lease
	}
	return l
}

func (l *Ledger) Policy() EpisodePolicy {
	return l.policy
}

// EpisodeID is derived from the arrival time only.
func EpisodeID(arrivalAt time.Time) string {
	return arrivalAt.UTC().Format(episodeIDLayout)
}

func DedupeKey(ttn, episode string, level models.RiskLevel) string {
	return fmt.Sprintf("%s:%s:%s:%s", dedupeKeyPrefix, ttn, episode, level)
}

func manualDedupeKey(ttn, episode string, level models.RiskLevel, seq int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", manualKeyPrefix, ttn, episode, level, seq)
}

// SkipReason returns why level must not be sent now, or "" if it may.
func SkipReason(st models.ReminderState, level models.RiskLevel, now time.Time) string {
	switch {
	case level <= models.RiskNone:
		return SkipNoRisk
	case st.MutedAt(now):
		return SkipMuted
	case st.HasSent(level):
		return SkipAlreadySent
	case st.CooldownUntil != nil && now.Before(*st.CooldownUntil):
		return SkipCooldown
	case st.PendingAt(now):
		return SkipInFlight
	}
	return ""
}

func (l *Ledger) ShouldSend(ctx context.Context, ttn string, level models.RiskLevel, now time.Time) (bool, error) {
	st, err := l.store.GetReminderState(ctx, ttn)
	if err != nil {
		return false, err
	}
	return SkipReason(st, level, now) == "", nil
}

func (l *Ledger) State(ctx context.Context, ttn string) (models.ReminderState, error) {
	return l.store.GetReminderState(ctx, ttn)
}

// update runs a read-modify-write cycle under compare-and-swap, retrying on version conflicts.
// mutate returns false when nothing has to be written.
func (l *Ledger) update(ctx context.Context, ttn string, mutate func(st *models.ReminderState) (bool, error)) (models.ReminderState, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.ReminderState{}, err
		}
		cur, err := l.store.GetReminderState(ctx, ttn)
		if err != nil {
			return models.ReminderState{}, err
		}
		next := cur.Clone()
		changed, err := mutate(&next)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}
		ok, err := l.store.SwapReminderState(ctx, ttn, cur.Version, next)
		if err != nil {
			return cur, errors.Wrap(err, "swap reminder state")
		}
		if ok {
			next.Version = cur.Version + 1
			return next, nil
		}
	}
	return models.ReminderState{}, errors.Wrapf(ErrLedgerConflict, "ttn %s", ttn)
}

// SyncEpisode aligns the current episode with the observed arrival.
// It returns true when the ledger was reset for a new episode.
func (l *Ledger) SyncEpisode(ctx context.Context, ttn string, arrivalAt *time.Time, atPoint bool) (bool, error) {
	reset := false
	_, err := l.update(ctx, ttn, func(st *models.ReminderState) (bool, error) {
		reset = false
		if !atPoint || arrivalAt == nil {
			if st.Episode == "" || st.EpisodeClosed {
				return false, nil
			}
			st.EpisodeClosed = true
			return true, nil
		}

		ep := EpisodeID(*arrivalAt)
		switch {
		case st.Episode == "":
			st.Episode = ep
			st.EpisodeClosed = false
			return true, nil
		case st.Episode == ep:
			if !st.EpisodeClosed {
				return false, nil
			}
			st.EpisodeClosed = false
			return true, nil
		case l.policy == EpisodeResetRequireLeft && !st.EpisodeClosed:
			// arrivalAt сменился, но посылка не покидала пункт: эпизод тот же.
			return false, nil
		}

		st.Episode = ep
		st.EpisodeClosed = false
		st.SentLevels = nil
		st.CooldownUntil = nil
		st.PendingLevel = models.RiskNone
		st.PendingUntil = nil
		reset = true
		return true, nil
	})
	return reset, err
}

// CloseEpisode marks that ttn left the pickup point; the next arrival opens a new episode
// under either policy. Unknown reminder state is not an error.
func (l *Ledger) CloseEpisode(ctx context.Context, ttn string) error {
	_, err := l.SyncEpisode(ctx, ttn, nil, false)
	return err
}

// Reserve takes the dispatch lease for level if it may be sent now.
// A non-empty reason means nothing was reserved.
func (l *Ledger) Reserve(ctx context.Context, ttn string, level models.RiskLevel, now time.Time) (Reservation, string, error) {
	var reason string
	st, err := l.update(ctx, ttn, func(st *models.ReminderState) (bool, error) {
		reason = SkipReason(*st, level, now)
		if reason != "" {
			return false, nil
		}
		until := now.Add(l.lease)
		st.PendingLevel = level
		st.PendingUntil = &until
		return true, nil
	})
	if err != nil {
		return Reservation{}, "", err
	}
	if reason != "" {
		return Reservation{}, reason, nil
	}
	return Reservation{
		TrackingNumber: ttn,
		Level:          level,
		Episode:        st.Episode,
		DedupeKey:      DedupeKey(ttn, st.Episode, level),
	}, "", nil
}

// ReserveManual allocates a fresh manual dispatch key without consulting ShouldSend.
func (l *Ledger) ReserveManual(ctx context.Context, ttn string, level models.RiskLevel) (Reservation, error) {
	if level <= models.RiskNone || level > models.RiskCritical {
		return Reservation{}, ErrInvalidLevel
	}
	st, err := l.update(ctx, ttn, func(st *models.ReminderState) (bool, error) {
		st.ManualSeq++
		return true, nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return Reservation{
		TrackingNumber: ttn,
		Level:          level,
		Episode:        st.Episode,
		DedupeKey:      manualDedupeKey(ttn, st.Episode, level, st.ManualSeq),
		Manual:         true,
	}, nil
}

// RecordSent marks level as delivered to the sink. Repeated calls converge to the same state.
func (l *Ledger) RecordSent(ctx context.Context, ttn string, level models.RiskLevel, now time.Time, cooldown time.Duration) error {
	_, err := l.update(ctx, ttn, func(st *models.ReminderState) (bool, error) {
		if !st.HasSent(level) {
			st.SentLevels = append(st.SentLevels, level)
		}
		sentAt := now
		until := now.Add(cooldown)
		st.LastSentAt = &sentAt
		st.CooldownUntil = &until
		if st.PendingLevel == level {
			st.PendingLevel = models.RiskNone
			st.PendingUntil = nil
		}
		return true, nil
	})
	return err
}

// Release drops the dispatch lease after a failed dispatch.
func (l *Ledger) Release(ctx context.Context, ttn string, level models.RiskLevel) error {
	_, err := l.update(ctx, ttn, func(st *models.ReminderState) (bool, error) {
		if st.PendingLevel != level {
			return false, nil
		}
		st.PendingLevel = models.RiskNone
		st.PendingUntil = nil
		return true, nil
	})
	return err
}

// Mute suppresses automatic reminders for days (7 when days <= 0). Returns the applied days.
func (l *Ledger) Mute(ctx context.Context, ttn string, days int, now time.Time) (int, error) {
	if days <= 0 {
		days = defaultMuteDays
	}
	_, err := l.update(ctx, ttn, func(st *models.ReminderState) (bool, error) {
		until := now.Add(time.Duration(days) * 24 * time.Hour)
		st.Muted = true
		st.MutedUntil = &until
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return days, nil
}
