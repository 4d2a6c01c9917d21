package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting for the gateway. All values come from
// the environment (optionally seeded from a .env file) and are resolved once
// at startup; components receive the pieces they need by injection.
type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	Identity   IdentityConfig
	OTP        OTPConfig
	RateLimit  RateLimitConfig
	Cron       CronConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AllowedOrigins []string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickHouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
	Table    string
}

// IdentityConfig points at the hosted identity provider. AnonKey is the
// public API key used for ordinary calls; ServiceKey is the elevated key
// used only for the privileged role lookup and admin operations.
type IdentityConfig struct {
	BaseURL       string
	AnonKey       string
	ServiceKey    string
	Timeout       time.Duration
	RefreshTTL    time.Duration
	AccessCookie  string
	RefreshCookie string
}

type OTPConfig struct {
	VerificationTTL  time.Duration
	PasswordResetTTL time.Duration
}

type RateLimitConfig struct {
	DefaultMaxAttempts    int
	DefaultWindowDuration time.Duration
}

type CronConfig struct {
	Secret string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment. A missing .env file
// is not an error; containers inject the environment directly.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/gateway/certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "marketplace"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "gateway.security-events"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", true),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "gateway"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("CLICKHOUSE_EVENTS_TABLE", "security_events"),
		},
		Identity: IdentityConfig{
			BaseURL:       strings.TrimRight(getEnv("IDENTITY_URL", "http://localhost:9999"), "/"),
			AnonKey:       getEnv("IDENTITY_ANON_KEY", ""),
			ServiceKey:    getEnv("IDENTITY_SERVICE_KEY", ""),
			Timeout:       getEnvDuration("IDENTITY_TIMEOUT", 10*time.Second),
			RefreshTTL:    getEnvDuration("IDENTITY_REFRESH_TTL", 30*24*time.Hour),
			AccessCookie:  getEnv("IDENTITY_ACCESS_COOKIE", "mg_access_token"),
			RefreshCookie: getEnv("IDENTITY_REFRESH_COOKIE", "mg_refresh_token"),
		},
		OTP: OTPConfig{
			VerificationTTL:  getEnvDuration("OTP_VERIFICATION_TTL", 10*time.Minute),
			PasswordResetTTL: getEnvDuration("OTP_PASSWORD_RESET_TTL", 60*time.Minute),
		},
		RateLimit: RateLimitConfig{
			DefaultMaxAttempts:    getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 3),
			DefaultWindowDuration: getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg
}

// Validate rejects configurations that cannot possibly serve traffic.
func (c *Config) Validate() error {
	if c.Identity.BaseURL == "" {
		return fmt.Errorf("IDENTITY_URL is required")
	}
	if c.IsProduction() {
		if c.Identity.ServiceKey == "" {
			return fmt.Errorf("IDENTITY_SERVICE_KEY is required in production")
		}
		if c.Cron.Secret == "" {
			return fmt.Errorf("CRON_SECRET is required in production")
		}
	}
	if len(c.Scylla.Nodes) == 0 {
		return fmt.Errorf("SCYLLA_NODES must not be empty")
	}
	if c.RateLimit.DefaultMaxAttempts < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
