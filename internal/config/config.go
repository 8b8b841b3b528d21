package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Session expiry policies.
const (
	ExpiryPolicyFixed   = "fixed"
	ExpiryPolicySliding = "sliding"
)

const minSaltBytes = 16

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
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
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication and session parameters.
type AuthConfig struct {
	TokenSecret           string
	SessionTimeoutMinutes int
	ExpiryPolicy          string
	SessionBackend        string
	SessionKeyPrefix      string
	SweepIntervalSeconds  int
	MaxLoginAttempts      int
	LockoutMinutes        int
	RehashLegacy          bool
	SaltBytes             int
	CookieName            string
	MinPasswordLength     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "community-hub"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			TokenSecret:           getEnv("AUTH_TOKEN_SECRET", "dev-secret"),
			SessionTimeoutMinutes: getEnvAsInt("AUTH_SESSION_TIMEOUT_MINUTES", 8*60),
			ExpiryPolicy:          strings.ToLower(getEnv("AUTH_SESSION_EXPIRY_POLICY", ExpiryPolicyFixed)),
			SessionBackend:        strings.ToLower(getEnv("AUTH_SESSION_BACKEND", SessionBackendMemory)),
			SessionKeyPrefix:      getEnv("AUTH_SESSION_KEY_PREFIX", "hub:sess"),
			SweepIntervalSeconds:  getEnvAsInt("AUTH_SESSION_SWEEP_SECONDS", 60),
			MaxLoginAttempts:      getEnvAsInt("AUTH_MAX_LOGIN_ATTEMPTS", 5),
			LockoutMinutes:        getEnvAsInt("AUTH_LOCKOUT_MINUTES", 15),
			RehashLegacy:          getEnvAsBool("AUTH_REHASH_LEGACY", true),
			SaltBytes:             getEnvAsInt("AUTH_SALT_BYTES", minSaltBytes),
			CookieName:            getEnv("AUTH_COOKIE_NAME", "hub_session"),
			MinPasswordLength:     getEnvAsInt("AUTH_MIN_PASSWORD_LENGTH", 8),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the auth core cannot run with.
func (c *Config) Validate() error {
	switch c.Auth.ExpiryPolicy {
	case ExpiryPolicyFixed, ExpiryPolicySliding:
	default:
		return fmt.Errorf("invalid AUTH_SESSION_EXPIRY_POLICY: %q", c.Auth.ExpiryPolicy)
	}
	switch c.Auth.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("invalid AUTH_SESSION_BACKEND: %q", c.Auth.SessionBackend)
	}
	if c.Auth.SaltBytes < minSaltBytes {
		return fmt.Errorf("AUTH_SALT_BYTES must be at least %d", minSaltBytes)
	}
	if c.Auth.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("AUTH_SESSION_TIMEOUT_MINUTES must be positive")
	}
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("AUTH_TOKEN_SECRET must not be empty")
	}
	return nil
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

// SessionTimeout returns the session lifetime.
func (a AuthConfig) SessionTimeout() time.Duration {
	return time.Duration(a.SessionTimeoutMinutes) * time.Minute
}

// LockoutWindow returns how long a locked username stays locked.
func (a AuthConfig) LockoutWindow() time.Duration {
	return time.Duration(a.LockoutMinutes) * time.Minute
}

// SweepInterval returns the janitor period, zero when disabled.
func (a AuthConfig) SweepInterval() time.Duration {
	if a.SweepIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(a.SweepIntervalSeconds) * time.Second
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
