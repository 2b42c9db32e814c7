package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Guard    GuardConfig
	Admin    AdminConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

// GuardConfig holds the lockout policy and guard behavior knobs.
type GuardConfig struct {
	FailureThreshold       int
	LockoutDuration        time.Duration
	FailureWindow          time.Duration
	ProgressiveMultiplier  float64
	MaxLockoutDuration     time.Duration
	ProgressiveResetPeriod time.Duration
	MaxFailuresPerIP       int
	FailClosed             bool
	StorageTimeout         time.Duration
	CleanupInterval        time.Duration
	TimingDelayBaseMs      int
	TimingDelayRandomMs    int
}

type AdminConfig struct {
	TokenSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "loginguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Guard: GuardConfig{
			FailureThreshold:       getEnvAsInt("GUARD_FAILURE_THRESHOLD", 5),
			LockoutDuration:        getEnvAsDuration("GUARD_LOCKOUT_DURATION", 15*time.Minute),
			FailureWindow:          getEnvAsDuration("GUARD_FAILURE_WINDOW", 30*time.Minute),
			ProgressiveMultiplier:  getEnvAsFloat("GUARD_PROGRESSIVE_MULTIPLIER", 4.0),
			MaxLockoutDuration:     getEnvAsDuration("GUARD_MAX_LOCKOUT_DURATION", 24*time.Hour),
			ProgressiveResetPeriod: getEnvAsDuration("GUARD_PROGRESSIVE_RESET_PERIOD", 7*24*time.Hour),
			MaxFailuresPerIP:       getEnvAsInt("GUARD_MAX_FAILURES_PER_IP", 30),
			FailClosed:             getEnvAsBool("GUARD_FAIL_CLOSED", false),
			StorageTimeout:         getEnvAsDuration("GUARD_STORAGE_TIMEOUT", 3*time.Second),
			CleanupInterval:        getEnvAsDuration("GUARD_CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:      getEnvAsInt("GUARD_TIMING_DELAY_BASE_MS", 0),
			TimingDelayRandomMs:    getEnvAsInt("GUARD_TIMING_DELAY_RANDOM_MS", 0),
		},
		Admin: AdminConfig{
			TokenSecret: getEnv("ADMIN_TOKEN_SECRET", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateAdminSecret(cfg.Admin.TokenSecret, env); err != nil {
		return nil, err
	}

	// Policy misconfiguration is rejected here, not per request.
	if err := cfg.Guard.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces sane policy parameters before any request is served.
func (g *GuardConfig) Validate() error {
	if g.FailureThreshold <= 0 {
		return fmt.Errorf("GUARD_FAILURE_THRESHOLD must be positive (got %d)", g.FailureThreshold)
	}
	if g.LockoutDuration <= 0 {
		return fmt.Errorf("GUARD_LOCKOUT_DURATION must be positive (got %s)", g.LockoutDuration)
	}
	if g.FailureWindow <= 0 {
		return fmt.Errorf("GUARD_FAILURE_WINDOW must be positive (got %s)", g.FailureWindow)
	}
	if g.ProgressiveMultiplier < 1 {
		return fmt.Errorf("GUARD_PROGRESSIVE_MULTIPLIER must be >= 1 (got %g)", g.ProgressiveMultiplier)
	}
	if g.MaxLockoutDuration < g.LockoutDuration {
		return fmt.Errorf("GUARD_MAX_LOCKOUT_DURATION must be >= GUARD_LOCKOUT_DURATION")
	}
	if g.StorageTimeout <= 0 {
		return fmt.Errorf("GUARD_STORAGE_TIMEOUT must be positive (got %s)", g.StorageTimeout)
	}
	return nil
}

// validateAdminSecret enforces minimum strength for the admin API token secret
func validateAdminSecret(secret, env string) error {
	if secret == "" {
		return fmt.Errorf("ADMIN_TOKEN_SECRET is required")
	}

	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
