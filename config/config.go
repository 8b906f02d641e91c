package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	LogLevel    string

	// Redis configuration
	RedisURL          string
	RedisPassword     string
	RedisDB           int
	SearchIndexPrefix string

	// MySQL configuration
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBLockWaitTimeout time.Duration

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Reservation configuration
	ReservationHold  time.Duration
	OperationTimeout time.Duration

	// Propagation configuration
	PropagationMaxAttempts  int
	PropagationBackoff      time.Duration
	PropagationTimeout      time.Duration
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// Cache configuration
	TicketDetailTTL time.Duration
	SearchCacheTTL  time.Duration
	ReportCacheTTL  time.Duration

	// Sweep configuration
	SweepInterval     time.Duration
	SweepBatchSize    int
	ReconcileInterval time.Duration

	// Rate limiting
	ReserveRateLimit int

	// Monitoring
	EnableMetrics bool
}

// LoadConfig reads the environment, after merging a local .env file when one
// exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Redis
		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvAsInt("REDIS_DB", 0),
		SearchIndexPrefix: getEnv("SEARCH_INDEX_PREFIX", "search:tickets:"),

		// MySQL
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBUser:            getEnv("DB_USER", "tickets"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "tickets"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		DBLockWaitTimeout: getEnvAsDuration("DB_LOCK_WAIT_TIMEOUT", "3s"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Reservations
		ReservationHold:  getEnvAsDuration("RESERVATION_HOLD", "10m"),
		OperationTimeout: getEnvAsDuration("OPERATION_TIMEOUT", "5s"),

		// Propagation
		PropagationMaxAttempts:  getEnvAsInt("PROPAGATION_MAX_ATTEMPTS", 3),
		PropagationBackoff:      getEnvAsDuration("PROPAGATION_BACKOFF", "1s"),
		PropagationTimeout:      getEnvAsDuration("PROPAGATION_TIMEOUT", "15s"),
		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:      getEnvAsDuration("BREAKER_OPEN_TIMEOUT", "30s"),

		// Cache
		TicketDetailTTL: getEnvAsDuration("TICKET_DETAIL_TTL", "10m"),
		SearchCacheTTL:  getEnvAsDuration("SEARCH_CACHE_TTL", "10m"),
		ReportCacheTTL:  getEnvAsDuration("REPORT_CACHE_TTL", "5m"),

		// Sweep
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", "30s"),
		SweepBatchSize:    getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", "1m"),

		// Rate limiting
		ReserveRateLimit: getEnvAsInt("RESERVE_RATE_LIMIT", 10),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

// Validate rejects settings the reservation engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.ReservationHold <= 0 {
		errs = append(errs, fmt.Errorf("RESERVATION_HOLD must be positive, got %s", c.ReservationHold))
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OPERATION_TIMEOUT must be positive, got %s", c.OperationTimeout))
	}
	if c.PropagationMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("PROPAGATION_MAX_ATTEMPTS must be at least 1, got %d", c.PropagationMaxAttempts))
	}
	if c.PropagationBackoff < 0 {
		errs = append(errs, fmt.Errorf("PROPAGATION_BACKOFF must not be negative, got %s", c.PropagationBackoff))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.SweepBatchSize < 1 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be at least 1, got %d", c.SweepBatchSize))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
