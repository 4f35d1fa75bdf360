package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Defaults for the reconciliation and staleness thresholds.
const (
	DefaultStaleAfter    = 24 * time.Hour
	DefaultMatchWindow   = 24 * time.Hour
	DefaultAmountEpsilon = "0.01"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	AWS          AWSConfig
	Registration RegistrationConfig
	Reconcile    ReconcileConfig
	Webhook      WebhookConfig
	Worker       WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the reports bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReportsBucket        string
	PresignExpireMinutes int
}

// RegistrationConfig tunes the registration lifecycle.
type RegistrationConfig struct {
	StaleAfter     time.Duration // PENDING_PAYMENT older than this is expired lazily
	ProtocolPrefix string
}

// ReconcileConfig tunes the reconciliation matcher and batch job.
type ReconcileConfig struct {
	MatchWindow   time.Duration // +/- window around a transaction for the amount fallback
	AmountEpsilon decimal.Decimal
	Schedule      string // cron spec for the worker; empty disables the timer
	LockTTL       time.Duration
	ArchiveReport bool
}

// WebhookConfig holds the shared secret payment webhooks must present.
type WebhookConfig struct {
	Secret string
}

// WorkerConfig holds settings for the reconciliation worker process.
type WorkerConfig struct {
	MetricsPort string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	epsilon, err := decimal.NewFromString(getEnv("RECONCILE_AMOUNT_EPSILON", DefaultAmountEpsilon))
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_AMOUNT_EPSILON: %w", err)
	}
	if epsilon.IsNegative() {
		return nil, fmt.Errorf("RECONCILE_AMOUNT_EPSILON must not be negative")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "events"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReportsBucket:        getEnv("AWS_S3_REPORTS_BUCKET", "events-ops-reports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Registration: RegistrationConfig{
			StaleAfter:     getEnvDuration("REGISTRATION_STALE_AFTER", DefaultStaleAfter),
			ProtocolPrefix: getEnv("PROTOCOL_PREFIX", "EVE"),
		},
		Reconcile: ReconcileConfig{
			MatchWindow:   getEnvDuration("RECONCILE_MATCH_WINDOW", DefaultMatchWindow),
			AmountEpsilon: epsilon,
			Schedule:      os.Getenv("RECONCILE_SCHEDULE"),
			LockTTL:       getEnvDuration("RECONCILE_LOCK_TTL", 10*time.Minute),
			ArchiveReport: getEnvBool("RECONCILE_ARCHIVE_REPORT", true),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Worker: WorkerConfig{
			MetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),
		},
	}
	if _, set := os.LookupEnv("RECONCILE_SCHEDULE"); !set {
		cfg.Reconcile.Schedule = "@every 15m"
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
