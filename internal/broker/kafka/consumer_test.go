package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// scriptedReader отдаёт сообщения по порядку, затем ошибку end.
type scriptedReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	end       error
	commitErr error
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		if r.end == nil {
			r.mu.Unlock()
			<-ctx.Done()
			r.mu.Lock()
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, r.end
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func statusMsgs(n int) []kafka.Message {
	out := make([]kafka.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, kafka.Message{Topic: "shipment.status", Offset: int64(i), Key: []byte("TTN"), Value: []byte(`{}`)})
	}
	return out
}

func TestConsume_CommitsEachHandledMessage(t *testing.T) {
	r := &scriptedReader{queue: statusMsgs(3), end: errors.New("broker gone")}
	c := newConsumerWithReader(r)

	var seen int
	err := c.Consume(context.Background(), func(ctx context.Context, key, value []byte) error {
		seen++
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch message")
	require.Equal(t, 3, seen)
	require.Equal(t, []int64{0, 1, 2}, r.committed)
}

func TestConsume_RetriesThenSucceeds(t *testing.T) {
	r := &scriptedReader{queue: statusMsgs(1), end: errors.New("done")}
	c := newConsumerWithReader(r).WithRetry(2, time.Millisecond)

	calls := 0
	err := c.Consume(context.Background(), func(ctx context.Context, key, value []byte) error {
		calls++
		if calls < 3 {
			return errors.New("db busy")
		}
		return nil
	})
	require.EqualError(t, err, "fetch message: done")
	require.Equal(t, 3, calls)
	require.Equal(t, []int64{0}, r.committed)
}

func TestConsume_RetriesExhaustedStopsWithoutCommit(t *testing.T) {
	r := &scriptedReader{queue: statusMsgs(2)}
	c := newConsumerWithReader(r).WithRetry(1, time.Millisecond)

	want := errors.New("db down")
	calls := 0
	err := c.Consume(context.Background(), func(ctx context.Context, key, value []byte) error {
		calls++
		return want
	})
	require.ErrorIs(t, err, want)
	require.Contains(t, err.Error(), "handle shipment.status/0@0")
	require.Equal(t, 2, calls)
	require.Empty(t, r.committed)
}

func TestConsume_CommitFailure(t *testing.T) {
	r := &scriptedReader{queue: statusMsgs(1), commitErr: errors.New("rebalance")}
	c := newConsumerWithReader(r)

	err := c.Consume(context.Background(), func(ctx context.Context, key, value []byte) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "commit message")
}

func TestConsume_StopsOnContextCancel(t *testing.T) {
	r := &scriptedReader{}
	c := newConsumerWithReader(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, func(ctx context.Context, key, value []byte) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
