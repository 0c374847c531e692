package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store modes.
const (
	StoreModeAppend = "append"
	StoreModeMerge  = "merge"
)

// Config holds all collector settings, populated from environment variables.
type Config struct {
	// Open-Meteo request shape.
	BaseURL      string
	Variables    []string
	ForecastDays int

	LocationsFile string
	StorePath     string
	StoreMode     string

	RequestTimeout time.Duration
	RequestDelay   time.Duration

	// Retry policy. RetryMaxAttempts of 0 retries forever.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Circuit breaker; disabled when BreakerFailureThreshold is 0.
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// CollectInterval of 0 means a single run per process.
	CollectInterval time.Duration
	HTTPAddr        string

	// Optional Kafka sink; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether committed batches are also published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Scheduled reports whether the collector runs as a periodic daemon.
func (c *Config) Scheduled() bool { return c.CollectInterval > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseURL:       sharedcfg.EnvOrDefault("OPENMETEO_BASE_URL", "https://api.open-meteo.com/v1/forecast"),
		Variables:     parseList(sharedcfg.EnvOrDefault("FORECAST_VARIABLES", "temperature_2m,relative_humidity_2m,wind_speed_10m")),
		LocationsFile: sharedcfg.EnvOrDefault("LOCATIONS_FILE", "cities_and_countries.csv"),
		StorePath:     sharedcfg.EnvOrDefault("STORE_PATH", "us_city_forecasts.csv"),
		StoreMode:     strings.ToLower(sharedcfg.EnvOrDefault("STORE_MODE", StoreModeAppend)),
		HTTPAddr:      sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		KafkaTopic:    sharedcfg.EnvOrDefault("KAFKA_TOPIC", "hourly-forecasts"),
		LogLevel:      sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),

		ShutdownTimeout: shutdownTimeout,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"FORECAST_DAYS", 1, 1, &cfg.ForecastDays},
		{"RETRY_MAX_ATTEMPTS", 10, 0, &cfg.RetryMaxAttempts},
		{"BREAKER_FAILURE_THRESHOLD", 0, 0, &cfg.BreakerFailureThreshold},
	}
	for _, v := range ints {
		n, err := parseInt(v.key, v.def, v.min)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}

	durations := []struct {
		key       string
		def       string
		allowZero bool
		dst       *time.Duration
	}{
		{"REQUEST_TIMEOUT", "10s", false, &cfg.RequestTimeout},
		{"REQUEST_DELAY", "2s", true, &cfg.RequestDelay},
		{"RETRY_BASE_DELAY", "5s", false, &cfg.RetryBaseDelay},
		{"RETRY_MAX_DELAY", "60s", false, &cfg.RetryMaxDelay},
		{"BREAKER_OPEN_TIMEOUT", "60s", false, &cfg.BreakerOpenTimeout},
		{"COLLECT_INTERVAL", "0s", true, &cfg.CollectInterval},
	}
	for _, v := range durations {
		d, err := parseDuration(v.key, v.def, v.allowZero)
		if err != nil {
			return nil, err
		}
		*v.dst = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Variables) == 0 {
		return errors.New("FORECAST_VARIABLES is required")
	}
	if c.StoreMode != StoreModeAppend && c.StoreMode != StoreModeMerge {
		return fmt.Errorf("invalid STORE_MODE %q: want %s or %s", c.StoreMode, StoreModeAppend, StoreModeMerge)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return errors.New("RETRY_MAX_DELAY must be >= RETRY_BASE_DELAY")
	}
	if c.StorePath == "" {
		return errors.New("STORE_PATH is required")
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return errors.New("KAFKA_BROKERS is set but KAFKA_TOPIC is empty")
	}
	return nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s %q: must be an integer >= %d", key, s, minimum)
	}
	return n, nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}
