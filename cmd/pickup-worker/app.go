package main

import (
	"context"
	"log/slog"

	"github.com/BearBump/PickupControl/config"
	"github.com/BearBump/PickupControl/internal/app"
)

// RunPickupWorker wires the engine, starts the worker HTTP endpoints and runs the periodic loop.
// An empty httpAddr in opts disables the HTTP side.
func RunPickupWorker(ctx context.Context, cfg *config.Config, f app.Factories, opts workerHTTPOpts) error {
	c, err := app.Build(ctx, cfg, f)
	if err != nil {
		return err
	}
	defer c.Close()

	opts.worker = c.Worker
	opts.store = c.Store
	opts.cfg = cfg

	if opts.httpAddr != "" {
		go func() {
			if err := runWorkerHTTPServer(ctx, opts); err != nil && ctx.Err() == nil {
				slog.Error("worker http server stopped", "error", err.Error())
			}
		}()
	}

	slog.Info("pickup worker started",
		"interval", cfg.Pickup.WorkerInterval().String(),
		"batch_limit", cfg.Pickup.BatchLimitOrDefault(),
		"concurrency", cfg.Pickup.ConcurrencyOrDefault(),
	)
	return c.Worker.Run(ctx)
}
