package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName                 = "kitty"
	defaultAppEnv                  = "development"
	defaultPort                    = "8080"
	defaultLogLevel                = "info"
	defaultShutdownDelay           = 10 * time.Second
	defaultIdempotencyTTL          = 24 * time.Hour
	defaultStorageTimeout          = 5 * time.Second
	defaultDetailCacheTTL          = 30 * time.Second
	defaultCodeLength              = 16
	defaultCodeMaxAttempts         = 5
	defaultRedeemAttemptsPerMinute = 10
	defaultTokenTTL                = time.Hour
	// DevJWTSecret signs tokens in development when JWT_SECRET is unset.
	DevJWTSecret = "kitty-dev-secret"

	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName                 string
	AppEnv                  string
	Port                    string
	LogLevel                string
	DatabaseURL             string
	RedisURL                string
	JWTSecret               string
	TokenTTL                time.Duration
	ShutdownPeriod          time.Duration
	IdempotencyTTL          time.Duration
	StorageTimeout          time.Duration
	DetailCacheTTL          time.Duration
	CodeLength              int
	CodeMaxAttempts         int
	RedeemAttemptsPerMinute int
}

// Load reads configuration values from the environment, after merging a
// .env file from the working directory when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.StorageTimeout, err = getDuration("STORAGE_TIMEOUT", defaultStorageTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DetailCacheTTL, err = getDuration("DETAIL_CACHE_TTL", defaultDetailCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", defaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.CodeLength, err = getInt("CODE_LENGTH", defaultCodeLength); err != nil {
		return Config{}, err
	}
	if cfg.CodeMaxAttempts, err = getInt("CODE_MAX_ATTEMPTS", defaultCodeMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RedeemAttemptsPerMinute, err = getInt("REDEEM_ATTEMPTS_PER_MINUTE", defaultRedeemAttemptsPerMinute); err != nil {
		return Config{}, err
	}

	if cfg.CodeLength < 8 {
		return Config{}, fmt.Errorf("CODE_LENGTH must be at least 8, got %d", cfg.CodeLength)
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = DevJWTSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	return cfg, nil
}

// IsDev reports whether the service may fall back to in-memory stores.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// secondsOrDuration prefers the integer seconds variable over the Go
// duration one.
func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(durationKey, fallback)
}
