package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Workflow WorkflowConfig
	SLA      SLAConfig
	Events   EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	RunMigrations   bool
	ConnMaxIdleSec  int32
	ConnMaxLifeSec  int32
	ConnectAttempts int
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
	Service     string
	Version     string
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// WorkflowConfig tunes the ticket engine.
type WorkflowConfig struct {
	StrictTransitions bool
	MaxConflictRetry  int
}

// SLAConfig configures budgets and the background sweep.
type SLAConfig struct {
	Policy               string
	SweepEnabled         bool
	SweepSchedule        string
	SweepBatchSize       int
	SweepBatchTimeoutSec int
}

// EventsConfig configures event delivery.
type EventsConfig struct {
	BufferSize          int
	RedisStreamEnabled  bool
	RedisStreamPrefix   string
	RedisStreamMaxLen   int64
	NotificationLogging bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	appEnv := getEnv("APP_ENV", "development")
	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "itsm-workflow"),
			Env:                   appEnv,
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxConns:        int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:        int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:   getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
			ConnectAttempts: getEnvAsInt("POSTGRES_CONNECT_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: strings.EqualFold(appEnv, "development"),
			Service:     getEnv("APP_NAME", "itsm-workflow"),
			Version:     getEnv("APP_VERSION", "dev"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Workflow: WorkflowConfig{
			StrictTransitions: getEnvAsBool("WORKFLOW_STRICT_TRANSITIONS", false),
			MaxConflictRetry:  getEnvAsInt("WORKFLOW_MAX_CONFLICT_RETRY", 3),
		},
		SLA: SLAConfig{
			Policy:               os.Getenv("SLA_POLICY"),
			SweepEnabled:         getEnvAsBool("SLA_SWEEP_ENABLED", true),
			SweepSchedule:        getEnv("SLA_SWEEP_SCHEDULE", "@every 1m"),
			SweepBatchSize:       getEnvAsInt("SLA_SWEEP_BATCH_SIZE", 200),
			SweepBatchTimeoutSec: getEnvAsInt("SLA_SWEEP_BATCH_TIMEOUT_SECONDS", 20),
		},
		Events: EventsConfig{
			BufferSize:          getEnvAsInt("EVENTS_BUFFER_SIZE", 1024),
			RedisStreamEnabled:  getEnvAsBool("EVENTS_REDIS_STREAM_ENABLED", false),
			RedisStreamPrefix:   getEnv("EVENTS_REDIS_STREAM_PREFIX", "itsm:events:"),
			RedisStreamMaxLen:   int64(getEnvAsInt("EVENTS_REDIS_STREAM_MAXLEN", 100000)),
			NotificationLogging: getEnvAsBool("EVENTS_NOTIFICATION_LOGGING", true),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SweepBatchTimeout bounds a single sweep batch.
func (s SLAConfig) SweepBatchTimeout() time.Duration {
	if s.SweepBatchTimeoutSec <= 0 {
		return 20 * time.Second
	}
	return time.Duration(s.SweepBatchTimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
