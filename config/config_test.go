package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(adminTokenEnv, "")
	t.Setenv(databaseDSNEnv, "")
	p := writeConfig(t, `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  shipment_status_topic_name: "shipment.status"
redis:
  host: "localhost"
  port: 6379
log_level: "debug"
pickup:
  http_addr: ":8080"
  admin_token: "from-file"
  allowed_origins: ["https://admin.example.com"]
  batch_limit: 50
  cooldown_hours: 12
  episode_policy: "require_left"
  threshold_d5_days: 4
  sink: "Kafka"
`)

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "shipment.status", cfg.Kafka.ShipmentStatusTopic())
	require.Equal(t, "pickup.reminders", cfg.Kafka.PickupRemindersTopic())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, "debug", cfg.LogLevel)

	require.Equal(t, "from-file", cfg.Pickup.AdminToken)
	require.Equal(t, []string{"https://admin.example.com"}, cfg.Pickup.AllowedOrigins)
	require.Equal(t, 50, cfg.Pickup.BatchLimitOrDefault())
	require.Equal(t, 12*time.Hour, cfg.Pickup.Cooldown())
	require.Equal(t, "require_left", cfg.Pickup.EpisodePolicy)
	require.Equal(t, 4, cfg.Pickup.ThresholdD5Days)
	require.Equal(t, "kafka", cfg.Pickup.SinkOrDefault())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "pickup: {}\n"))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Pickup.HTTPAddrOrDefault())
	require.Equal(t, ":8082", cfg.Pickup.WorkerHTTPAddrOrDefault())
	require.Equal(t, "pickup-api", cfg.Pickup.ConsumerGroupOrDefault())
	require.Equal(t, 300, cfg.Pickup.BatchLimitOrDefault())
	require.Equal(t, 10, cfg.Pickup.ConcurrencyOrDefault())
	require.Equal(t, 24*time.Hour, cfg.Pickup.Cooldown())
	require.Equal(t, 5*time.Minute, cfg.Pickup.WorkerInterval())
	require.Equal(t, 2*time.Minute, cfg.Pickup.ReservationLease())
	require.Equal(t, time.Minute, cfg.Pickup.KPICacheTTL())
	require.Equal(t, int64(120), cfg.Pickup.RateLimitPerMinuteOrDefault())
	require.Equal(t, "postgres", cfg.Pickup.SinkOrDefault())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(adminTokenEnv, "from-env")
	t.Setenv(databaseDSNEnv, "postgres://x:y@db:5432/pickup")

	cfg, err := LoadConfig(writeConfig(t, "pickup:\n  admin_token: \"from-file\"\n"))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Pickup.AdminToken)
	require.Equal(t, "postgres://x:y@db:5432/pickup", cfg.Database.ConnString())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "pickup: [unclosed\n"))
	require.Error(t, err)
}

func TestLoadConfig_Example(t *testing.T) {
	t.Setenv(adminTokenEnv, "")
	cfg, err := LoadConfig("config.example.yaml")
	require.NoError(t, err)
	require.Equal(t, "arrival_change", cfg.Pickup.EpisodePolicy)
	require.Equal(t, 10, cfg.Pickup.ThresholdCriticalDays)
	require.Equal(t, "pickup.reminders", cfg.Kafka.PickupRemindersTopic())
	require.Empty(t, cfg.Pickup.AdminToken)
}
