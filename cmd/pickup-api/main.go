package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PickupControl/config"
	pickupapi "github.com/BearBump/PickupControl/internal/api/pickup_api"
	"github.com/BearBump/PickupControl/internal/app"
	"github.com/BearBump/PickupControl/internal/broker/kafka"
	"github.com/BearBump/PickupControl/internal/logging"
)

func main() {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := app.Build(ctx, cfg, app.DefaultFactories())
	if err != nil {
		panic(err)
	}
	defer c.Close()

	topic := cfg.Kafka.ShipmentStatusTopic()
	group := cfg.Pickup.ConsumerGroupOrDefault()
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group)
	defer func() { _ = consumer.Close() }()

	api := pickupapi.New(c.Engine, c.Reports, pickupapi.Options{
		AdminToken:     cfg.Pickup.AdminToken,
		AllowedOrigins: cfg.Pickup.AllowedOrigins,
	})

	if err := runPickupAPI(ctx, pickupAPIOpts{
		httpAddr:      cfg.Pickup.HTTPAddrOrDefault(),
		swaggerPath:   os.Getenv("swaggerPath"),
		topic:         topic,
		consumerGroup: group,
	}, api.Handler(), consumer, c.Shipments.HandleMessage); err != nil && err != context.Canceled {
		panic(err)
	}
}
