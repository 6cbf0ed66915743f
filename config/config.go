package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

const (
	adminTokenEnv  = "PICKUP_ADMIN_TOKEN"
	databaseDSNEnv = "DATABASE_DSN"
)

type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Redis     RedisConfig    `yaml:"redis"`
	Pickup    PickupConfig   `yaml:"pickup"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ShipmentStatusTopicName  string `yaml:"shipment_status_topic_name"`
	PickupRemindersTopicName string `yaml:"pickup_reminders_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PickupConfig struct {
	HTTPAddr           string   `yaml:"http_addr"`
	WorkerHTTPAddr     string   `yaml:"worker_http_addr"`
	AdminToken         string   `yaml:"admin_token"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`

	BatchLimit            int    `yaml:"batch_limit"`
	Concurrency           int    `yaml:"concurrency"`
	CooldownHours         int    `yaml:"cooldown_hours"`
	WorkerIntervalSeconds int    `yaml:"worker_interval_seconds"`
	EpisodePolicy         string `yaml:"episode_policy"` // "arrival_change" | "require_left"
	ReservationLeaseSec   int    `yaml:"reservation_lease_seconds"`
	KPICacheTTLSeconds    int    `yaml:"kpi_cache_ttl_seconds"`

	ThresholdD2Days       int `yaml:"threshold_d2_days"`
	ThresholdD5Days       int `yaml:"threshold_d5_days"`
	ThresholdD7Days       int `yaml:"threshold_d7_days"`
	ThresholdCriticalDays int `yaml:"threshold_critical_days"`

	// Sink: "postgres" (notification_queue) или "kafka".
	Sink string `yaml:"sink"`

	StatusRefresh          bool   `yaml:"status_refresh"`
	RateLimitPerMinute     int    `yaml:"rate_limit_per_minute"`
	CarrierEmulatorBaseURL string `yaml:"carrier_emulator_base_url"`
	CarrierEmulatorMode    string `yaml:"carrier_emulator_mode"` // "v1" | "track24" | "fake"
	CarrierEmulatorAPIKey  string `yaml:"carrier_emulator_api_key"`
	CarrierEmulatorDomain  string `yaml:"carrier_emulator_domain"`
	FreeStorageDays        int    `yaml:"free_storage_days"`
}

// LoadConfig reads .env (if any), the YAML file and applies env overrides.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	config.applyEnvOverrides()

	return &config, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(adminTokenEnv); v != "" {
		c.Pickup.AdminToken = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
}

func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func (k KafkaConfig) ShipmentStatusTopic() string {
	if k.ShipmentStatusTopicName == "" {
		return "shipment.status"
	}
	return k.ShipmentStatusTopicName
}

func (k KafkaConfig) PickupRemindersTopic() string {
	if k.PickupRemindersTopicName == "" {
		return "pickup.reminders"
	}
	return k.PickupRemindersTopicName
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (p PickupConfig) HTTPAddrOrDefault() string {
	if p.HTTPAddr == "" {
		return ":8080"
	}
	return p.HTTPAddr
}

func (p PickupConfig) WorkerHTTPAddrOrDefault() string {
	if p.WorkerHTTPAddr == "" {
		return ":8082"
	}
	return p.WorkerHTTPAddr
}

func (p PickupConfig) ConsumerGroupOrDefault() string {
	if p.KafkaConsumerGroup == "" {
		return "pickup-api"
	}
	return p.KafkaConsumerGroup
}

func (p PickupConfig) BatchLimitOrDefault() int {
	if p.BatchLimit <= 0 {
		return 300
	}
	return p.BatchLimit
}

func (p PickupConfig) ConcurrencyOrDefault() int {
	if p.Concurrency <= 0 {
		return 10
	}
	return p.Concurrency
}

func (p PickupConfig) Cooldown() time.Duration {
	if p.CooldownHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(p.CooldownHours) * time.Hour
}

func (p PickupConfig) WorkerInterval() time.Duration {
	if p.WorkerIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.WorkerIntervalSeconds) * time.Second
}

func (p PickupConfig) ReservationLease() time.Duration {
	if p.ReservationLeaseSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.ReservationLeaseSec) * time.Second
}

func (p PickupConfig) KPICacheTTL() time.Duration {
	if p.KPICacheTTLSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(p.KPICacheTTLSeconds) * time.Second
}

func (p PickupConfig) RateLimitPerMinuteOrDefault() int64 {
	if p.RateLimitPerMinute <= 0 {
		return 120
	}
	return int64(p.RateLimitPerMinute)
}

func (p PickupConfig) SinkOrDefault() string {
	s := strings.ToLower(strings.TrimSpace(p.Sink))
	if s == "" {
		return "postgres"
	}
	return s
}
