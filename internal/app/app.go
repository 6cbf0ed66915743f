package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PickupControl/config"
	"github.com/BearBump/PickupControl/internal/broker/kafka"
	"github.com/BearBump/PickupControl/internal/cache/rediscache"
	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/BearBump/PickupControl/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/PickupControl/internal/integrations/carrier/fake"
	"github.com/BearBump/PickupControl/internal/integrations/carrier/track24http"
	"github.com/BearBump/PickupControl/internal/notify/kafkasink"
	"github.com/BearBump/PickupControl/internal/services/pickup"
	"github.com/BearBump/PickupControl/internal/services/shipments"
	"github.com/BearBump/PickupControl/internal/storage/pgpickup"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Store is everything the pickup services need from persistence.
type Store interface {
	pickup.Repository
	pickup.LedgerStore
	pickup.RiskRepository
	pickup.Sink
	shipments.Repository
	QueueStats(ctx context.Context) (map[string]int64, error)
}

type Factories struct {
	NewStorage       func(ctx context.Context, cfg *config.Config) (st Store, closeFn func(), err error)
	NewRedis         func(cfg *config.Config) *redis.Client
	NewProducer      func(cfg *config.Config) (p kafkasink.Producer, closeFn func())
	NewCarrierClient func(cfg *config.Config) carrier.Client
}

func DefaultFactories() Factories {
	return Factories{
		NewStorage: func(ctx context.Context, cfg *config.Config) (Store, func(), error) {
			st, err := openPostgresWithRetry(ctx, cfg.Database.ConnString(), pgpickup.PoolSettings{
				MaxConns: cfg.Database.MaxConns,
			}, 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		NewRedis: func(cfg *config.Config) *redis.Client {
			return redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
		},
		NewProducer: func(cfg *config.Config) (kafkasink.Producer, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		NewCarrierClient: newCarrierClient,
	}
}

func newCarrierClient(cfg *config.Config) carrier.Client {
	pc := cfg.Pickup
	// Без base_url работаем на локальном fake.
	if pc.CarrierEmulatorBaseURL == "" {
		return fake.New()
	}
	switch pc.CarrierEmulatorMode {
	case "v1":
		return emulatorv1.New(pc.CarrierEmulatorBaseURL, pc.CarrierEmulatorAPIKey).
			WithRateLimit(pc.RateLimitPerMinute)
	case "track24":
		return track24http.New(pc.CarrierEmulatorBaseURL, pc.CarrierEmulatorAPIKey, pc.CarrierEmulatorDomain).
			WithFreeStorageDays(pc.FreeStorageDays).
			WithRateLimit(pc.RateLimitPerMinute)
	default:
		return fake.New()
	}
}

func openPostgresWithRetry(ctx context.Context, connString string, ps pgpickup.PoolSettings, wait time.Duration) (*pgpickup.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpickup.NewWithSettings(ctx, connString, ps)
		if err == nil {
			return st, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

// Components is the wired pickup service graph shared by all binaries.
type Components struct {
	Store     Store
	Cache     *rediscache.RedisCache
	Engine    *pickup.Engine
	Reports   *pickup.Reports
	Worker    *pickup.Worker
	Shipments *shipments.Service

	closers []func()
}

func Thresholds(pc config.PickupConfig) pickup.Thresholds {
	th := pickup.DefaultThresholds()
	if pc.ThresholdD2Days > 0 {
		th.D2 = pc.ThresholdD2Days
	}
	if pc.ThresholdD5Days > 0 {
		th.D5 = pc.ThresholdD5Days
	}
	if pc.ThresholdD7Days > 0 {
		th.D7 = pc.ThresholdD7Days
	}
	if pc.ThresholdCriticalDays > 0 {
		th.Critical = pc.ThresholdCriticalDays
	}
	return th
}

func Build(ctx context.Context, cfg *config.Config, f Factories) (*Components, error) {
	pc := cfg.Pickup
	policy, err := pickup.ParseEpisodePolicy(pc.EpisodePolicy)
	if err != nil {
		return nil, err
	}

	c := &Components{}
	st, closeFn, err := f.NewStorage(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	c.Store = st
	c.addCloser(closeFn)

	rc := f.NewRedis(cfg)
	c.addCloser(func() { _ = rc.Close() })
	c.Cache = rediscache.NewWithClient(rc)

	var sink pickup.Sink = st
	switch pc.SinkOrDefault() {
	case "postgres":
	case "kafka":
		producer, closeProducer := f.NewProducer(cfg)
		c.addCloser(closeProducer)
		sink = kafkasink.New(producer, c.Cache, cfg.Kafka.PickupRemindersTopic())
	default:
		c.Close()
		return nil, fmt.Errorf("unknown sink %q", pc.Sink)
	}

	// Опрос перевозчика опционален: без него движок работает по сохранённому состоянию.
	var status carrier.Client
	if pc.StatusRefresh {
		status = f.NewCarrierClient(cfg)
	}

	classifier := pickup.NewClassifier(Thresholds(pc))
	ledger := pickup.NewLedger(st, policy).WithLease(pc.ReservationLease())
	c.Engine = pickup.NewEngine(st, ledger, classifier, sink, status).
		WithSettings(pc.ConcurrencyOrDefault(), pc.Cooldown()).
		WithRateLimiter(rediscache.NewRateLimiter(rc), pc.RateLimitPerMinuteOrDefault())
	c.Reports = pickup.NewReports(st, classifier).WithCache(c.Cache, pc.KPICacheTTL())
	c.Worker = pickup.NewWorker(c.Engine).WithSettings(pc.WorkerInterval(), pc.BatchLimitOrDefault())
	c.Shipments = shipments.New(st, c.Reports).WithEpisodes(ledger)

	slog.Info("pickup components wired",
		"sink", pc.SinkOrDefault(),
		"episode_policy", string(policy),
		"status_refresh", pc.StatusRefresh,
	)
	return c, nil
}

func (c *Components) addCloser(fn func()) {
	if fn != nil {
		c.closers = append(c.closers, fn)
	}
}

// Close releases resources in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
