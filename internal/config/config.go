package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without Postgres, Redis or Kafka.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool
	SeedFile      string

	StationCacheTTL  time.Duration
	RecentLimit      int
	LeaseTTL         time.Duration
	SwapFee          decimal.Decimal
	SnapshotSchedule string
	NearbyRadiusM    float64
	CORSOrigins      []string

	LogLevel     string
	OTLPEndpoint string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "stations_geo",
		KafkaTopic:       "swap-events",
		StationCacheTTL:  30 * time.Second,
		RecentLimit:      10,
		LeaseTTL:         10 * time.Second,
		SwapFee:          decimal.RequireFromString("5.00"),
		SnapshotSchedule: "@every 1m",
		NearbyRadiusM:    10000,
		CORSOrigins:      []string{"*"},
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.SeedFile, "SEED_FILE")

	setDurationFromEnv(&cfg.StationCacheTTL, "STATION_CACHE_TTL", &errs)
	setIntFromEnv(&cfg.RecentLimit, "RECENT_LIMIT", &errs)
	setDurationFromEnv(&cfg.LeaseTTL, "LEASE_TTL", &errs)
	setFloatFromEnv(&cfg.NearbyRadiusM, "NEARBY_RADIUS_M", &errs)
	if v := strings.TrimSpace(os.Getenv("SWAP_FEE")); v != "" {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SWAP_FEE: %w", err))
		} else {
			cfg.SwapFee = fee
		}
	}
	setStringFromEnv(&cfg.SnapshotSchedule, "SNAPSHOT_SCHEDULE")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	if cfg.RecentLimit <= 0 {
		errs = append(errs, fmt.Errorf("RECENT_LIMIT must be > 0"))
	}
	if cfg.StationCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("STATION_CACHE_TTL must be > 0"))
	}
	if cfg.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("LEASE_TTL must be > 0"))
	}
	if cfg.SwapFee.IsNegative() {
		errs = append(errs, fmt.Errorf("SWAP_FEE must not be negative"))
	}
	if cfg.SnapshotSchedule != "off" {
		if _, err := cron.ParseStandard(cfg.SnapshotSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid SNAPSHOT_SCHEDULE: %w", err))
		}
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the snapshot projector process.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	RedisGeoKey  string
	MetricsAddr  string
	SnapshotTTL  time.Duration
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "swap-events",
		KafkaGroup:   "battery-swap-projector",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "stations_geo",
		MetricsAddr:  ":2112",
		SnapshotTTL:  24 * time.Hour,
		LogLevel:     "info",
	}
	var errs []error
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setDurationFromEnv(&cfg.SnapshotTTL, "SNAPSHOT_TTL", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
