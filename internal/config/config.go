package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds configuration for the oracle server.
type Config struct {
	HTTPPort    string
	SaveHistory bool
	LogLevel    string
	JWTSecret   []byte

	// EncryptionKey is the hex encoded AES-256 key protecting deposit wallet private keys.
	EncryptionKey string

	Database  DatabaseConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Usage     UsageConfig
	Oracle    OracleConfig
	History   HistoryConfig
	Explorer  ExplorerConfig
	Reconcile ReconcileConfig
	Session   SessionConfig
	Throttle  ThrottleConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Queries failing on a dropped connection are retried after RetryDelay.
	RetryAttempts uint64
	RetryDelay    time.Duration
}

// InMemory reports whether DATABASE_URL selects the process-local store.
func (c DatabaseConfig) InMemory() bool {
	return c.URL == "memory"
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	GasReadingTTL   time.Duration
	SessionCapacity int
}

// RedisConfig holds Redis connection settings. An empty Address disables Redis.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// UsageConfig holds the free quota and the price of a metered request
type UsageConfig struct {
	Limit       int64
	RequestCost int64
	Window      time.Duration
	BcryptCost  int
}

// OracleConfig points at the gas price sidecar
type OracleConfig struct {
	URL     string
	Timeout time.Duration
}

// HistoryConfig controls the price history recorder
type HistoryConfig struct {
	Interval time.Duration
}

// ExplorerConfig points at an etherscan compatible block explorer
type ExplorerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// ReconcileConfig controls deposit reconciliation
type ReconcileConfig struct {
	Interval     time.Duration
	WeiPerCredit decimal.Decimal
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// SessionConfig controls captcha gated browser sessions
type SessionConfig struct {
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	Required        bool
	RecaptchaURL    string
	RecaptchaSecret string
	RecaptchaScore  float64
}

// ThrottleConfig limits how often a single IP may create keys or sessions
type ThrottleConfig struct {
	PerMinute int
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return defaultValue
	}
	return d
}

// Load reads configuration from a .env file (if present) and environment variables.
// Variables already set in the environment win over the .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "4200"),
		SaveHistory:   getEnvBool("SAVE_HISTORY", true),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		JWTSecret:     []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		EncryptionKey: getEnvString("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			RetryAttempts:   uint64(getEnvInt("DB_RETRY_ATTEMPTS", 5)),
			RetryDelay:      getEnvDuration("DB_RETRY_DELAY", 2*time.Second),
		},
		Cache: CacheConfig{
			GasReadingTTL:   getEnvDuration("CACHE_GAS_TTL", 2*time.Second),
			SessionCapacity: getEnvInt("CACHE_SESSION_SIZE", 10000),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Usage: UsageConfig{
			Limit:       getEnvInt64("USAGE_LIMIT", 100),
			RequestCost: getEnvInt64("REQUEST_COST", 5),
			Window:      getEnvDuration("USAGE_WINDOW", time.Hour),
			BcryptCost:  getEnvInt("BCRYPT_COST", 10),
		},
		Oracle: OracleConfig{
			URL:     getEnvString("ORACLE_URL", "http://127.0.0.1:8097"),
			Timeout: getEnvDuration("ORACLE_TIMEOUT", 5*time.Second),
		},
		History: HistoryConfig{
			Interval: getEnvDuration("HISTORY_INTERVAL", time.Minute),
		},
		Explorer: ExplorerConfig{
			URL:     getEnvString("EXPLORER_URL", "https://api.polygonscan.com/api"),
			APIKey:  getEnvString("EXPLORER_API_KEY", ""),
			Timeout: getEnvDuration("EXPLORER_TIMEOUT", 15*time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:     getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute),
			WeiPerCredit: getEnvDecimal("CREDIT_WEI_PER_UNIT", decimal.New(1, 12)),
			BatchSize:    getEnvInt("RECONCILE_BATCH_SIZE", 20),
			BatchTimeout: getEnvDuration("RECONCILE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("RECONCILE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("RECONCILE_RETRY_BACKOFF", 2*time.Second),
		},
		Session: SessionConfig{
			IdleTTL:         getEnvDuration("SESSION_IDLE_TTL", 20*time.Minute),
			SweepInterval:   getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			Required:        getEnvBool("SESSION_REQUIRED", false),
			RecaptchaURL:    getEnvString("RECAPTCHA_URL", "https://www.google.com/recaptcha/api/siteverify"),
			RecaptchaSecret: getEnvString("RECAPTCHA_SECRET", ""),
			RecaptchaScore:  getEnvFloat("RECAPTCHA_MIN_SCORE", 0.5),
		},
		Throttle: ThrottleConfig{
			PerMinute: getEnvInt("KEY_CREATE_LIMIT_PER_MINUTE", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	if c.Usage.Limit <= 0 {
		return fmt.Errorf("USAGE_LIMIT must be positive, got %d", c.Usage.Limit)
	}
	if c.Usage.RequestCost < 0 {
		return fmt.Errorf("REQUEST_COST must not be negative, got %d", c.Usage.RequestCost)
	}
	if c.Usage.Window <= 0 {
		return fmt.Errorf("USAGE_WINDOW must be positive")
	}
	if !c.Reconcile.WeiPerCredit.IsPositive() {
		return fmt.Errorf("CREDIT_WEI_PER_UNIT must be positive")
	}
	if c.History.Interval <= 0 || c.Reconcile.Interval <= 0 {
		return fmt.Errorf("HISTORY_INTERVAL and RECONCILE_INTERVAL must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	return nil
}

// EncryptionKeyBytes decodes the wallet encryption key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if len(c.EncryptionKey) != 64 {
		return nil, fmt.Errorf("encryption key must be 64 hex characters (32 bytes)")
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be valid hex: %w", err)
	}
	return key, nil
}
