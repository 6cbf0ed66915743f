package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PickupControl/config"
	"github.com/BearBump/PickupControl/internal/app"
	"github.com/BearBump/PickupControl/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunPickupWorker(ctx, cfg, app.DefaultFactories(), workerHTTPOpts{
		httpAddr:    cfg.Pickup.WorkerHTTPAddrOrDefault(),
		swaggerPath: os.Getenv("swaggerPath"),
	})
	if err != nil && err != context.Canceled {
		panic(err)
	}
}
