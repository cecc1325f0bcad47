// Package config builds the process configuration from the environment once
// at startup. Components receive the relevant section through their
// constructors and never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	bavstrings "bav/pkg/platform/strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is immutable after Load.
type Config struct {
	Server   Server
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	HMRC     HMRCConfig
	Log      LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	// AdminToken enables the operator audit endpoint when set.
	AdminToken string
	// ClientToken enables the session routes for the trusted upstream
	// client when set.
	ClientToken string
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend            string
	KeyPrefix          string
	AuthSessionTTL     time.Duration
	AuditBufferSize    int
	AuditAppendTimeout time.Duration
}

type PostgresConfig struct {
	URL           string
	MaxOpenConns  int
	MaxIdleConns  int
	RunMigrations bool
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the TxMA producer. An empty broker list keeps
// audit events in process.
type KafkaConfig struct {
	Brokers         []string
	TxMATopic       string
	ClientID        string
	BreakerFailures int
	BreakerCooldown time.Duration
	DeliveryTimeout time.Duration
}

// HMRCConfig configures the Confirmation-of-Payee client.
type HMRCConfig struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	UserAgent         string
	TokenBackoff      time.Duration
	TokenMaxRetries   int
	VerifyBackoff     time.Duration
	VerifyMaxRetries  int
	RetryDeadline     time.Duration
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	TokenTTLFallback  time.Duration
	TokenRenewBefore  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the environment. Missing required variables are reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var missing []string

	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.Server = Server{
		Addr:            getEnvString("BAV_ADDR", ":8080"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		AdminToken:      getEnvString("ADMIN_API_TOKEN", ""),
		ClientToken:     getEnvString("SESSION_API_TOKEN", ""),
	}

	cfg.Store = StoreConfig{
		Backend:            strings.ToLower(getEnvString("STORE_BACKEND", StoreMemory)),
		KeyPrefix:          getEnvString("REDIS_KEY_PREFIX", "bav"),
		AuthSessionTTL:     getEnvDuration("AUTH_SESSION_TTL", 2*time.Hour),
		AuditBufferSize:    getEnvInt("AUDIT_BUFFER_SIZE", 256),
		AuditAppendTimeout: getEnvDuration("AUDIT_APPEND_TIMEOUT", 5*time.Second),
	}

	cfg.Postgres = PostgresConfig{
		URL:           getEnvString("DATABASE_URL", ""),
		MaxOpenConns:  getEnvInt("DATABASE_MAX_OPEN_CONNS", 10),
		MaxIdleConns:  getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		RunMigrations: getEnvBool("DATABASE_RUN_MIGRATIONS", true),
	}
	if cfg.Store.Backend == StorePostgres && cfg.Postgres.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.Redis = RedisConfig{
		URL:          getEnvString("REDIS_URL", ""),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
	if cfg.Store.Backend == StoreRedis && cfg.Redis.URL == "" {
		missing = append(missing, "REDIS_URL")
	}

	cfg.Kafka = KafkaConfig{
		Brokers:         getEnvList("KAFKA_BROKERS"),
		TxMATopic:       getEnvString("TXMA_TOPIC", "txma-events"),
		ClientID:        getEnvString("KAFKA_CLIENT_ID", "bav"),
		BreakerFailures: getEnvInt("TXMA_BREAKER_FAILURES", 5),
		BreakerCooldown: getEnvDuration("TXMA_BREAKER_COOLDOWN", 30*time.Second),
		DeliveryTimeout: getEnvDuration("TXMA_DELIVERY_TIMEOUT", 10*time.Second),
	}

	cfg.HMRC = HMRCConfig{
		BaseURL:           required("HMRC_BASE_URL"),
		ClientID:          required("HMRC_CLIENT_ID"),
		ClientSecret:      required("HMRC_CLIENT_SECRET"),
		UserAgent:         getEnvString("HMRC_USER_AGENT", "one-login-bav-cri"),
		TokenBackoff:      getEnvDuration("HMRC_TOKEN_BACKOFF", 500*time.Millisecond),
		TokenMaxRetries:   getEnvInt("HMRC_MAX_RETRIES", 3),
		VerifyBackoff:     getEnvDuration("HMRC_VERIFY_BACKOFF", 500*time.Millisecond),
		VerifyMaxRetries:  getEnvInt("HMRC_VERIFY_MAX_RETRIES", 1),
		RetryDeadline:     getEnvDuration("HMRC_RETRY_DEADLINE", 10*time.Second),
		HTTPTimeout:       getEnvDuration("HMRC_HTTP_TIMEOUT", 5*time.Second),
		RequestsPerSecond: getEnvFloat("HMRC_REQUESTS_PER_SECOND", 20),
		TokenTTLFallback:  getEnvDuration("HMRC_TOKEN_TTL", 4*time.Hour),
		TokenRenewBefore:  getEnvDuration("HMRC_TOKEN_RENEW_BEFORE", time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  getEnvString("LOG_LEVEL", "info"),
		Format: getEnvString("LOG_FORMAT", "json"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis; got %q", c.Store.Backend))
	}
	if c.HMRC.TokenMaxRetries < 0 {
		errs = append(errs, errors.New("HMRC_MAX_RETRIES must not be negative"))
	}
	if c.HMRC.VerifyMaxRetries < 0 {
		errs = append(errs, errors.New("HMRC_VERIFY_MAX_RETRIES must not be negative"))
	}
	if c.HMRC.RetryDeadline <= 0 {
		errs = append(errs, errors.New("HMRC_RETRY_DEADLINE must be positive"))
	}
	if c.HMRC.TokenRenewBefore >= c.HMRC.TokenTTLFallback {
		errs = append(errs, errors.New("HMRC_TOKEN_RENEW_BEFORE must be shorter than HMRC_TOKEN_TTL"))
	}
	if c.Store.AuditAppendTimeout <= 0 {
		errs = append(errs, errors.New("AUDIT_APPEND_TIMEOUT must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("TXMA_DELIVERY_TIMEOUT must be positive"))
	}
	if c.Store.AuthSessionTTL <= 0 {
		errs = append(errs, errors.New("AUTH_SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string) []string {
	return bavstrings.SplitList(os.Getenv(key), ",")
}
