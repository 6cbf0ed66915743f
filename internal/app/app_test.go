package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PickupControl/config"
	"github.com/BearBump/PickupControl/internal/broker/messages"
	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/BearBump/PickupControl/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/PickupControl/internal/integrations/carrier/fake"
	"github.com/BearBump/PickupControl/internal/integrations/carrier/track24http"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/BearBump/PickupControl/internal/notify/kafkasink"
	"github.com/BearBump/PickupControl/internal/storage/memstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, topic+"|"+string(key))
	return nil
}

func testFactories(t *testing.T, st *memstore.Store, producer kafkasink.Producer, closed *[]string) Factories {
	t.Helper()
	mr := miniredis.RunT(t)
	return Factories{
		NewStorage: func(ctx context.Context, cfg *config.Config) (Store, func(), error) {
			return st, func() { *closed = append(*closed, "storage") }, nil
		},
		NewRedis: func(cfg *config.Config) *redis.Client {
			return redis.NewClient(&redis.Options{Addr: mr.Addr()})
		},
		NewProducer: func(cfg *config.Config) (kafkasink.Producer, func()) {
			return producer, func() { *closed = append(*closed, "producer") }
		},
		NewCarrierClient: func(cfg *config.Config) carrier.Client {
			return fake.New()
		},
	}
}

func ingestAtPoint(t *testing.T, c *Components, ttn string, days int) {
	t.Helper()
	arrival := time.Now().UTC().Add(-time.Duration(days)*24*time.Hour - time.Hour)
	touched, err := c.Shipments.ApplyStatus(context.Background(), messages.ShipmentStatus{
		TTN:            ttn,
		OrderID:        "ORD-" + ttn,
		Status:         models.ShipmentStatusAtPoint,
		ArrivalAt:      &arrival,
		RecipientPhone: "+79990000001",
		Amount:         990,
		OccurredAt:     arrival,
	})
	require.NoError(t, err)
	require.True(t, touched)
}

func TestBuild_PostgresSinkFlow(t *testing.T) {
	st := memstore.New()
	var closed []string
	c, err := Build(context.Background(), &config.Config{}, testFactories(t, st, nil, &closed))
	require.NoError(t, err)

	ingestAtPoint(t, c, "TTN1", 6)

	res, err := c.Engine.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Sent)

	queued := st.Notifications()
	require.Len(t, queued, 1)
	require.Equal(t, models.RiskD5, queued[0].Level)
	require.Equal(t, "+79990000001", queued[0].Recipient)

	res, err = c.Engine.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.Sent)

	kpi, err := c.Reports.KPISummary(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), kpi.CountByThreshold[5])

	c.Close()
	require.Equal(t, []string{"storage"}, closed)
}

func TestBuild_KafkaSink(t *testing.T) {
	st := memstore.New()
	producer := &recordingProducer{}
	var closed []string
	cfg := &config.Config{
		Kafka:  config.KafkaConfig{PickupRemindersTopicName: "reminders"},
		Pickup: config.PickupConfig{Sink: "kafka"},
	}
	c, err := Build(context.Background(), cfg, testFactories(t, st, producer, &closed))
	require.NoError(t, err)

	ingestAtPoint(t, c, "TTN2", 8)
	res, err := c.Engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 1, res.HighRiskCount)

	require.Len(t, producer.keys, 1)
	require.Equal(t, "reminders|TTN2", producer.keys[0])
	require.Empty(t, st.Notifications())

	c.Close()
	require.Equal(t, []string{"producer", "storage"}, closed)
}

func TestBuild_InvalidSettings(t *testing.T) {
	st := memstore.New()
	var closed []string

	_, err := Build(context.Background(), &config.Config{Pickup: config.PickupConfig{Sink: "smtp"}}, testFactories(t, st, nil, &closed))
	require.Error(t, err)
	require.Equal(t, []string{"storage"}, closed)

	_, err = Build(context.Background(), &config.Config{Pickup: config.PickupConfig{EpisodePolicy: "weekly"}}, testFactories(t, st, nil, &closed))
	require.Error(t, err)
}

func TestThresholds(t *testing.T) {
	th := Thresholds(config.PickupConfig{ThresholdD5Days: 4, ThresholdCriticalDays: 14})
	require.Equal(t, 2, th.D2)
	require.Equal(t, 4, th.D5)
	require.Equal(t, 7, th.D7)
	require.Equal(t, 14, th.Critical)
}

func TestDefaultFactories_SelectCarrierClient(t *testing.T) {
	f := DefaultFactories()

	c1 := f.NewCarrierClient(&config.Config{Pickup: config.PickupConfig{
		CarrierEmulatorBaseURL: "http://localhost:9000",
		CarrierEmulatorMode:    "v1",
		CarrierEmulatorAPIKey:  "k",
	}})
	_, ok := c1.(*emulatorv1.Client)
	require.True(t, ok)

	c2 := f.NewCarrierClient(&config.Config{Pickup: config.PickupConfig{
		CarrierEmulatorBaseURL: "http://localhost:9000",
		CarrierEmulatorMode:    "track24",
		CarrierEmulatorDomain:  "d",
	}})
	_, ok = c2.(*track24http.Client)
	require.True(t, ok)

	c3 := f.NewCarrierClient(&config.Config{Pickup: config.PickupConfig{
		CarrierEmulatorBaseURL: "http://localhost:9000",
		CarrierEmulatorMode:    "unknown",
	}})
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)

	_, ok = f.NewCarrierClient(&config.Config{}).(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultFactories_RedisAndProducer_NonNil(t *testing.T) {
	f := DefaultFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	rc := f.NewRedis(cfg)
	require.NotNil(t, rc)
	_ = rc.Close()

	p, closeFn := f.NewProducer(cfg)
	require.NotNil(t, p)
	closeFn()
}
