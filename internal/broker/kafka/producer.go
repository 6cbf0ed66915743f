package kafka

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer writes keyed messages; the same key always lands in the same partition.
type Producer struct {
	w            messageWriter
	headers      []kafka.Header
	writeTimeout time.Duration

	published atomic.Int64
	failed    atomic.Int64
}

// ProducerStats counts Publish outcomes since start.
type ProducerStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

func NewProducer(brokers []string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newProducerWithWriter(w).
		WithHeader("content-type", "application/json")
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w, writeTimeout: 10 * time.Second}
}

// WithHeader adds a header to every published message.
func (p *Producer) WithHeader(key, value string) *Producer {
	p.headers = append(p.headers, kafka.Header{Key: key, Value: []byte(value)})
	return p
}

func (p *Producer) WithWriteTimeout(d time.Duration) *Producer {
	if d > 0 {
		p.writeTimeout = d
	}
	return p
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	if len(p.headers) > 0 {
		msg.Headers = append([]kafka.Header(nil), p.headers...)
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return errors.Wrapf(err, "kafka publish to %s", topic)
	}
	p.published.Add(1)
	return nil
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{Published: p.published.Load(), Failed: p.failed.Load()}
}

func (p *Producer) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
