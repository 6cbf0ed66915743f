package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is ordered: a higher value is a higher risk.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskD2
	RiskD5
	RiskD7
	RiskCritical
)

var riskNames = [...]string{"NONE", "D2", "D5", "D7", "CRITICAL"}

func (l RiskLevel) String() string {
	if l < RiskNone || l > RiskCritical {
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
	return riskNames[l]
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return RiskNone, nil
	}
	for i, n := range riskNames {
		if n == s {
			return RiskLevel(i), nil
		}
	}
	return RiskNone, fmt.Errorf("unknown risk level %q", s)
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *RiskLevel) UnmarshalText(b []byte) error {
	v, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ReminderState is the per-shipment dedup/cooldown ledger entry.
// Version is bumped by every successful compare-and-swap.
type ReminderState struct {
	Episode       string
	EpisodeClosed bool
	SentLevels    []RiskLevel
	LastSentAt    *time.Time
	CooldownUntil *time.Time
	Muted         bool
	MutedUntil    *time.Time

	// Reservation lease taken before the sink is called.
	PendingLevel RiskLevel
	PendingUntil *time.Time

	ManualSeq int64
	Version   int64
}

func (r ReminderState) HasSent(level RiskLevel) bool {
	for _, l := range r.SentLevels {
		if l == level {
			return true
		}
	}
	return false
}

// MutedAt reports whether the mute is still active at now.
func (r ReminderState) MutedAt(now time.Time) bool {
	return r.Muted && r.MutedUntil != nil && r.MutedUntil.After(now)
}

func (r ReminderState) PendingAt(now time.Time) bool {
	return r.PendingLevel != RiskNone && r.PendingUntil != nil && r.PendingUntil.After(now)
}

// Clone returns a deep copy safe to mutate.
func (r ReminderState) Clone() ReminderState {
	out := r
	if r.SentLevels != nil {
		out.SentLevels = append([]RiskLevel(nil), r.SentLevels...)
	}
	out.LastSentAt = cloneTime(r.LastSentAt)
	out.CooldownUntil = cloneTime(r.CooldownUntil)
	out.MutedUntil = cloneTime(r.MutedUntil)
	out.PendingUntil = cloneTime(r.PendingUntil)
	return out
}

// SentLevelNames is the storage form of SentLevels.
func (r ReminderState) SentLevelNames() []string {
	out := make([]string, 0, len(r.SentLevels))
	for _, l := range r.SentLevels {
		out = append(out, l.String())
	}
	return out
}

func ParseRiskLevels(names []string) ([]RiskLevel, error) {
	out := make([]RiskLevel, 0, len(names))
	for _, n := range names {
		l, err := ParseRiskLevel(n)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Notification is one message handed to the sink.
type Notification struct {
	DedupeKey      string
	Channel        string
	Recipient      string
	Text           string
	TrackingNumber string
	OrderID        string
	Level          RiskLevel
	Manual         bool
	CreatedAt      time.Time
}

// Payload is the JSON metadata stored next to a queued notification.
func (n Notification) Payload() json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"order_id": n.OrderID,
		"ttn":      n.TrackingNumber,
		"level":    n.Level.String(),
		"manual":   n.Manual,
	})
	return b
}

const ChannelSMS = "sms"

// Статусы очереди уведомлений. Сервис пишет только PENDING, остальные ставит доставка.
const (
	QueueStatusPending = "PENDING"
	QueueStatusSent    = "SENT"
	QueueStatusFailed  = "FAILED"
)

// Error kinds reported per candidate.
const (
	ErrorKindStatusSource  = "StatusSourceUnavailable"
	ErrorKindSinkRejected  = "SinkRejected"
	ErrorKindNoContactInfo = "NoContactInfo"
	ErrorKindStorage       = "Storage"
	ErrorKindLedger        = "Ledger"
)

type RunError struct {
	TrackingNumber string `json:"ttn"`
	Kind           string `json:"kind"`
	Message        string `json:"error"`
}

type RunResult struct {
	Processed     int        `json:"processed"`
	Sent          int        `json:"sent"`
	HighRiskCount int        `json:"high_risk_count"`
	Errors        []RunError `json:"errors"`
}

// ProcessOutcome describes what happened to a single candidate.
type ProcessOutcome struct {
	TrackingNumber string     `json:"ttn"`
	OrderID        string     `json:"order_id"`
	Status         string     `json:"status"`
	DaysAtPoint    int        `json:"days_at_point"`
	Risk           RiskLevel  `json:"risk"`
	Sent           bool       `json:"sent"`
	Duplicate      bool       `json:"duplicate"`
	Level          RiskLevel  `json:"level"`
	SkipReason     string     `json:"skip_reason,omitempty"`
	Errors         []RunError `json:"errors"`
}

func (o *ProcessOutcome) AddError(kind string, err error) {
	o.Errors = append(o.Errors, RunError{TrackingNumber: o.TrackingNumber, Kind: kind, Message: err.Error()})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
