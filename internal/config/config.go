package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const (
	envPrefix     = "SYNC_"
	configFileEnv = "SYNC_CONFIG_FILE"
)

type Config struct {
	Primary        Primary              `koanf:"primary"`
	Server         ServerConfig         `koanf:"server"`
	Database       DatabaseConfig       `koanf:"database"`
	Participant    ParticipantConfig    `koanf:"participant"`
	Identity       IdentityConfig       `koanf:"identity"`
	Retry          RetryConfig          `koanf:"retry"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit"`
	Queue          QueueConfig          `koanf:"queue"`
	Scheduler      SchedulerConfig      `koanf:"scheduler"`
	Broker         BrokerConfig         `koanf:"broker"`
	Logger         LoggerConfig         `koanf:"logger"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port           string        `koanf:"port" validate:"required"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" validate:"required"`
	HandlerTimeout time.Duration `koanf:"handler_timeout" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
}

type ParticipantConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"required"`
}

type IdentityConfig struct {
	TokenURL     string        `koanf:"token_url" validate:"required,url"`
	ClientID     string        `koanf:"client_id" validate:"required"`
	ClientSecret string        `koanf:"client_secret" validate:"required"`
	Scopes       []string      `koanf:"scopes"`
	ExpiryMargin time.Duration `koanf:"expiry_margin"`
}

type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"required,min=1"`
	Wait           time.Duration `koanf:"wait"`
	Multiplier     float64       `koanf:"multiplier" validate:"min=1"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout" validate:"required"`
}

type CircuitBreakerConfig struct {
	SlidingWindowSize    int           `koanf:"sliding_window_size" validate:"required,min=1"`
	MinimumCalls         int           `koanf:"minimum_calls" validate:"required,min=1"`
	FailureRateThreshold float64       `koanf:"failure_rate_threshold" validate:"required,gt=0,max=100"`
	OpenWait             time.Duration `koanf:"open_wait" validate:"required"`
	HalfOpenCalls        int           `koanf:"half_open_calls" validate:"required,min=1"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `koanf:"requests_per_minute" validate:"required,min=1"`
	Burst             int `koanf:"burst" validate:"min=0"`
}

type QueueConfig struct {
	BatchSize      int           `koanf:"batch_size" validate:"required,min=1"`
	WorkerPoolSize int           `koanf:"worker_pool_size" validate:"required,min=1"`
	MaxRetries     int           `koanf:"max_retries" validate:"required,min=1"`
	DrainInterval  time.Duration `koanf:"drain_interval" validate:"required"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"required"`
	StuckAfter     time.Duration `koanf:"stuck_after" validate:"required"`
}

type SchedulerConfig struct {
	Interval       time.Duration `koanf:"interval" validate:"required"`
	StaleAfter     time.Duration `koanf:"stale_after" validate:"required"`
	BatchSize      int           `koanf:"batch_size" validate:"required,min=1"`
	WorkerPoolSize int           `koanf:"worker_pool_size" validate:"required,min=1"`
}

type BrokerConfig struct {
	Driver          string        `koanf:"driver" validate:"required,oneof=kafka outbox"`
	Brokers         []string      `koanf:"brokers"`
	PrimaryTopic    string        `koanf:"primary_topic" validate:"required"`
	DeadLetterTopic string        `koanf:"dead_letter_topic" validate:"required"`
	MaxAttempts     int           `koanf:"max_attempts" validate:"required,min=1"`
	RetryWait       time.Duration `koanf:"retry_wait"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"required"`
}

type LoggerConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json text"`
}

// Defaults returns the recognized options with their default values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"primary.env": "development",

		"server.port":            "8080",
		"server.read_timeout":    "10s",
		"server.write_timeout":   "15s",
		"server.idle_timeout":    "60s",
		"server.handler_timeout": "10s",

		"database.port":               5432,
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     20,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"participant.timeout": "15s",

		"identity.expiry_margin": "30s",

		"retry.max_attempts":    3,
		"retry.wait":            "1s",
		"retry.multiplier":      1.0,
		"retry.attempt_timeout": "10s",

		"circuit_breaker.sliding_window_size":    50,
		"circuit_breaker.minimum_calls":          20,
		"circuit_breaker.failure_rate_threshold": 40.0,
		"circuit_breaker.open_wait":              "30s",
		"circuit_breaker.half_open_calls":        5,

		"rate_limit.requests_per_minute": 1000,
		"rate_limit.burst":               0,

		"queue.batch_size":       100,
		"queue.worker_pool_size": 10,
		"queue.max_retries":      3,
		"queue.drain_interval":   "5s",
		"queue.max_backoff":      "24h",
		"queue.stuck_after":      "10m",

		"scheduler.interval":         "1m",
		"scheduler.stale_after":      "15m",
		"scheduler.batch_size":       500,
		"scheduler.worker_pool_size": 10,

		"broker.driver":            "kafka",
		"broker.brokers":           []string{"localhost:9092"},
		"broker.primary_topic":     "sync.events",
		"broker.dead_letter_topic": "sync.events.dlq",
		"broker.max_attempts":      3,
		"broker.retry_wait":        "500ms",
		"broker.write_timeout":     "10s",

		"logger.level":  "info",
		"logger.format": "json",
	}
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		logger.Error("failed to load defaults", "error", err)
		return nil, err
	}

	if path := os.Getenv(configFileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			logger.Error("failed to load config file", "path", path, "error", err)
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.ProviderWithValue(envPrefix, ".", envTransform), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	if err := mainConfig.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}

// envTransform maps SYNC_QUEUE__BATCH_SIZE to queue.batch_size. List values
// (scopes, brokers) are comma separated.
func envTransform(key, value string) (string, interface{}) {
	if key == configFileEnv {
		return "", nil
	}
	path := strings.ReplaceAll(
		strings.ToLower(strings.TrimPrefix(key, envPrefix)),
		"__",
		".",
	)
	switch path {
	case "identity.scopes", "broker.brokers":
		return path, strings.Split(value, ",")
	}
	return path, value
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Broker.Driver == "kafka" && len(c.Broker.Brokers) == 0 {
		return fmt.Errorf("broker.brokers is required for the kafka driver")
	}
	return nil
}

// NewLogger builds the process logger from the configured level and format.
func (c LoggerConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
