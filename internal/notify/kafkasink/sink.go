package kafkasink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/PickupControl/internal/broker/messages"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Claims is a set-if-absent store for dedupe keys.
type Claims interface {
	Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

const (
	claimKeyPrefix  = "pickup:sink:"
	defaultClaimTTL = 30 * 24 * time.Hour
)

// Sink publishes reminders to Kafka; a Redis claim per dedupe key makes Enqueue idempotent.
type Sink struct {
	producer Producer
	claims   Claims
	topic    string
	claimTTL time.Duration
}

func New(producer Producer, claims Claims, topic string) *Sink {
	return &Sink{producer: producer, claims: claims, topic: topic, claimTTL: defaultClaimTTL}
}

func (s *Sink) WithClaimTTL(ttl time.Duration) *Sink {
	if ttl > 0 {
		s.claimTTL = ttl
	}
	return s
}

func (s *Sink) Enqueue(ctx context.Context, n models.Notification) (bool, error) {
	b, err := json.Marshal(messages.PickupReminder{
		DedupeKey: n.DedupeKey,
		Channel:   n.Channel,
		Recipient: n.Recipient,
		Text:      n.Text,
		TTN:       n.TrackingNumber,
		OrderID:   n.OrderID,
		Level:     n.Level.String(),
		Manual:    n.Manual,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return false, errors.Wrap(err, "marshal reminder")
	}

	claimKey := claimKeyPrefix + n.DedupeKey
	ok, err := s.claims.Claim(ctx, claimKey, []byte(n.CreatedAt.UTC().Format(time.RFC3339)), s.claimTTL)
	if err != nil {
		return false, errors.Wrap(err, "claim dedupe key")
	}
	if !ok {
		return false, nil
	}

	if err := s.producer.Publish(ctx, s.topic, []byte(n.TrackingNumber), b); err != nil {
		// Снимаем claim, чтобы следующий прогон мог повторить отправку.
		if delErr := s.claims.Del(context.WithoutCancel(ctx), claimKey); delErr != nil {
			slog.Error("release dedupe claim", "key", claimKey, "error", delErr.Error())
		}
		return false, err
	}
	return true, nil
}
