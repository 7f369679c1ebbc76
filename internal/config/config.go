package config

import (
	"fmt"
	"strings"
	"time"
	// Clinic zones must resolve on hosts without a system zoneinfo.
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

type Config struct {
	Port                    string `mapstructure:"PORT"`
	DatabaseURL             string `mapstructure:"DB_DSN"`
	StoreDriver             string `mapstructure:"STORE_DRIVER"`
	CounterDriver           string `mapstructure:"COUNTER_DRIVER"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	ClinicTimezone          string `mapstructure:"CLINIC_TIMEZONE"`
	LogLevel                string `mapstructure:"LOG_LEVEL"`
	LogFormat               string `mapstructure:"LOG_FORMAT"`
	RateLimitPerMinute      int    `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst          int    `mapstructure:"RATE_LIMIT_BURST"`
	TerminalRateLimitPerMin int    `mapstructure:"TERMINAL_RATE_LIMIT_PER_MIN"`
	TerminalRateLimitBurst  int    `mapstructure:"TERMINAL_RATE_LIMIT_BURST"`
	RelayPollIntervalMS     int    `mapstructure:"RELAY_POLL_INTERVAL_MS"`
	RelayBatchSize          int    `mapstructure:"RELAY_BATCH_SIZE"`
	OTLPEndpoint            string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure            bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	SeedDoctors             string `mapstructure:"SEED_DOCTORS"`
}

var defaults = map[string]interface{}{
	"PORT":                        "8080",
	"DB_DSN":                      "",
	"STORE_DRIVER":                DriverPostgres,
	"COUNTER_DRIVER":              DriverPostgres,
	"REDIS_URL":                   "",
	"CLINIC_TIMEZONE":             "Asia/Kolkata",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"RATE_LIMIT_PER_MIN":          120,
	"RATE_LIMIT_BURST":            30,
	"TERMINAL_RATE_LIMIT_PER_MIN": 600,
	"TERMINAL_RATE_LIMIT_BURST":   120,
	"RELAY_POLL_INTERVAL_MS":      1000,
	"RELAY_BATCH_SIZE":            100,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"SEED_DOCTORS":                "",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		// Unmarshal only sees env vars that are bound explicitly.
		_ = v.BindEnv(key)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.CounterDriver = strings.ToLower(strings.TrimSpace(cfg.CounterDriver))
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	switch c.CounterDriver {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("COUNTER_DRIVER must be %q, %q or %q, got %q", DriverPostgres, DriverRedis, DriverMemory, c.CounterDriver)
	}
	if (c.StoreDriver == DriverPostgres || c.CounterDriver == DriverPostgres) && c.DatabaseURL == "" {
		return fmt.Errorf("DB_DSN is required when a postgres driver is selected")
	}
	if c.CounterDriver == DriverRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when COUNTER_DRIVER is %q", DriverRedis)
	}
	// Counters must outlive the process unless everything is in memory.
	if c.CounterDriver == DriverMemory && c.StoreDriver != DriverMemory {
		return fmt.Errorf("COUNTER_DRIVER=memory is only allowed with STORE_DRIVER=memory")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RelayBatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be positive")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

func (c *Config) RelayPollInterval() time.Duration {
	if c.RelayPollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.RelayPollIntervalMS) * time.Millisecond
}

// Doctors parses SEED_DOCTORS, a comma-separated list of id=name pairs.
func (c *Config) Doctors() map[string]string {
	doctors := make(map[string]string)
	for _, entry := range strings.Split(c.SeedDoctors, ",") {
		id, name, ok := strings.Cut(strings.TrimSpace(entry), "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			continue
		}
		doctors[id] = name
	}
	return doctors
}
