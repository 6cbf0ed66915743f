package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PickupControl/config"
	"github.com/BearBump/PickupControl/internal/app"
	"github.com/BearBump/PickupControl/internal/logging"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/BearBump/PickupControl/internal/services/pickup"
	"github.com/spf13/cobra"
)

type cli struct {
	factories app.Factories
	cfgPath   string
}

func newRootCmd(f app.Factories) *cobra.Command {
	c := &cli{factories: f}
	root := &cobra.Command{
		Use:          "pickupctl",
		Short:        "Pickup control operator CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", os.Getenv("configPath"), "Path to YAML config")

	root.AddCommand(c.runCmd())
	root.AddCommand(c.processCmd())
	root.AddCommand(c.muteCmd())
	root.AddCommand(c.sendCmd())
	root.AddCommand(c.kpiCmd())
	root.AddCommand(c.riskCmd())
	root.AddCommand(c.orderCmd())
	root.AddCommand(c.queueCmd())
	return root
}

// with loads config, wires components and runs fn with a signal-aware context.
func (c *cli) with(cmd *cobra.Command, fn func(ctx context.Context, comp *app.Components) (any, error)) error {
	if c.cfgPath == "" {
		return fmt.Errorf("--config or configPath env var is required")
	}
	cfg, err := config.LoadConfig(c.cfgPath)
	if err != nil {
		return err
	}
	logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	comp, err := app.Build(ctx, cfg, c.factories)
	if err != nil {
		return err
	}
	defer comp.Close()

	out, err := fn(ctx, comp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (c *cli) runCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass over at-point shipments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				return comp.Engine.RunOnce(ctx, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", pickup.DefaultBatchLimit, "Max candidates per run")
	return cmd
}

func (c *cli) processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <ttn>",
		Short: "Process a single tracking number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				return comp.Engine.ProcessTrackingNumber(ctx, args[0])
			})
		},
	}
}

func (c *cli) muteCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "mute <ttn>",
		Short: "Suppress automatic reminders for a shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				applied, err := comp.Engine.Mute(ctx, args[0], days)
				if err != nil {
					return nil, err
				}
				return map[string]any{"ok": true, "ttn": args[0], "muted_days": applied}, nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Mute duration in days")
	return cmd
}

func (c *cli) sendCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "send <ttn>",
		Short: "Force a reminder of the given level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := models.ParseRiskLevel(level)
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				res, err := comp.Engine.ForceSend(ctx, args[0], lvl)
				if err != nil {
					return nil, err
				}
				return map[string]any{"ok": true, "ttn": res.TrackingNumber, "phone": res.Phone, "level": res.Level.String()}, nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", models.RiskD5.String(), "Reminder level (D2, D5, D7, CRITICAL)")
	return cmd
}

func (c *cli) kpiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kpi",
		Short: "Print pickup KPI summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				sum, err := comp.Reports.KPISummary(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"at_point_2plus": sum.CountByThreshold[2],
					"at_point_5plus": sum.CountByThreshold[5],
					"at_point_7plus": sum.CountByThreshold[7],
					"amount_at_risk": sum.AmountAtRisk,
				}, nil
			})
		},
	}
}

func (c *cli) riskCmd() *cobra.Command {
	var days, limit int
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "List shipments at the pickup point for at least N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				items, err := comp.Reports.ListAtRisk(ctx, days, limit)
				if err != nil {
					return nil, err
				}
				rows := make([]map[string]any, 0, len(items))
				for _, sh := range items {
					rows = append(rows, map[string]any{
						"ttn":           sh.TrackingNumber,
						"order_id":      sh.OrderID,
						"days_at_point": sh.DaysAtPoint,
						"risk":          sh.Risk.String(),
						"amount":        sh.Amount,
					})
				}
				return map[string]any{"items": rows, "count": len(rows), "filter_days": days}, nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", pickup.DefaultRiskDays, "Minimum days at point")
	cmd.Flags().IntVar(&limit, "limit", pickup.DefaultRiskLimit, "Max rows")
	return cmd
}

func (c *cli) orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <orderId>",
		Short: "Show pickup status of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				sh, err := comp.Engine.OrderPickupStatus(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"order_id":      sh.OrderID,
					"ttn":           sh.TrackingNumber,
					"status":        sh.Status,
					"days_at_point": sh.DaysAtPoint,
					"risk":          sh.Risk.String(),
					"sent_levels":   sh.Reminder.SentLevelNames(),
					"muted":         sh.Reminder.Muted,
				}, nil
			})
		},
	}
}

func (c *cli) queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show notification queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, comp *app.Components) (any, error) {
				return comp.Store.QueueStats(ctx)
			})
		},
	}
}
