// Command pickupctl runs one-shot pickup control operations against the configured storage.
//
// Usage:
//
//	pickupctl run --limit 300
//	pickupctl process TTN123
//	pickupctl mute TTN123 --days 7
//	pickupctl send TTN123 --level D5
//	pickupctl kpi
//	pickupctl risk --days 7 --limit 100
//	pickupctl order ORD-1
//	pickupctl queue
package main

import (
	"os"

	"github.com/BearBump/PickupControl/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	if err := newRootCmd(app.DefaultFactories()).Execute(); err != nil {
		os.Exit(1)
	}
}
