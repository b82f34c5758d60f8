package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/omnisocial/omnisocial/internal/models"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	Hub       HubConfig
	Database  DatabaseConfig
	Platforms map[models.Platform]PlatformConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// AuthConfig holds API authentication parameters.
type AuthConfig struct {
	JWTSecret     string
	AdminPassword string
	TokenDuration time.Duration
}

// HubConfig holds orchestration parameters.
type HubConfig struct {
	HealthInterval  time.Duration
	EventBufferSize int
}

// DatabaseConfig holds the optional Postgres connection. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string
}

// PlatformConfig holds one platform's outbound-call parameters. Every
// field may be overridden per platform via <PLATFORM>_* variables.
type PlatformConfig struct {
	BaseURL    string
	TokenURL   string
	RateLimit  int
	RateWindow time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultTokenDuration   = 24 * time.Hour
	defaultHealthInterval  = time.Minute
	defaultEventBufferSize = 256

	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// platformDefaults carries each platform's published request budget.
// Overrides apply on top per platform.
var platformDefaults = map[models.Platform]PlatformConfig{
	models.PlatformFacebook:  {RateLimit: 200, RateWindow: time.Hour},
	models.PlatformTwitter:   {RateLimit: 300, RateWindow: 15 * time.Minute},
	models.PlatformLinkedIn:  {RateLimit: 100, RateWindow: time.Minute},
	models.PlatformInstagram: {RateLimit: 200, RateWindow: time.Hour},
	models.PlatformReddit:    {RateLimit: 60, RateWindow: time.Minute},
	models.PlatformTelegram:  {RateLimit: 30, RateWindow: time.Second},
	models.PlatformDiscord:   {RateLimit: 50, RateWindow: time.Second},
}

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", "change-this-secret"),
			AdminPassword: getEnv("ADMIN_PASSWORD", "admin"),
			TokenDuration: defaultTokenDuration,
		},
		Hub: HubConfig{
			HealthInterval:  defaultHealthInterval,
			EventBufferSize: defaultEventBufferSize,
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("TOKEN_DURATION_HOURS"); v != "" {
		hours, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TOKEN_DURATION_HOURS: %w", err)
		}
		cfg.Auth.TokenDuration = time.Duration(hours) * time.Hour
	}

	if v := os.Getenv("HEALTH_CHECK_INTERVAL_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HEALTH_CHECK_INTERVAL_SECONDS: %w", err)
		}
		cfg.Hub.HealthInterval = d
	}

	if v := os.Getenv("EVENT_BUFFER_SIZE"); v != "" {
		size, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid EVENT_BUFFER_SIZE: %w", err)
		}
		cfg.Hub.EventBufferSize = size
	}

	platforms, err := loadPlatforms()
	if err != nil {
		return Config{}, err
	}
	cfg.Platforms = platforms

	return cfg, nil
}

// loadPlatforms resolves the enabled platform set (PLATFORMS, comma
// separated, default all) and each platform's overrides.
func loadPlatforms() (map[models.Platform]PlatformConfig, error) {
	enabled := models.AllPlatforms()
	if v := os.Getenv("PLATFORMS"); v != "" {
		enabled = enabled[:0]
		for _, name := range strings.Split(v, ",") {
			p, err := models.ParsePlatform(strings.TrimSpace(name))
			if err != nil {
				return nil, fmt.Errorf("invalid PLATFORMS entry %q: %w", name, err)
			}
			enabled = append(enabled, p)
		}
	}

	out := make(map[models.Platform]PlatformConfig, len(enabled))
	for _, p := range enabled {
		pc, err := loadPlatform(p)
		if err != nil {
			return nil, err
		}
		out[p] = pc
	}
	return out, nil
}

func loadPlatform(p models.Platform) (PlatformConfig, error) {
	pc := platformDefaults[p]
	pc.MaxRetries = defaultMaxRetries
	pc.RetryDelay = defaultRetryDelay

	prefix := strings.ToUpper(p.String())

	pc.BaseURL = os.Getenv(prefix + "_BASE_URL")
	pc.TokenURL = os.Getenv(prefix + "_TOKEN_URL")

	if v := os.Getenv(prefix + "_RATE_LIMIT"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("invalid %s_RATE_LIMIT: %w", prefix, err)
		}
		pc.RateLimit = n
	}

	if v := os.Getenv(prefix + "_RATE_WINDOW_MS"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("invalid %s_RATE_WINDOW_MS: %w", prefix, err)
		}
		pc.RateWindow = d
	}

	if v := os.Getenv(prefix + "_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return PlatformConfig{}, fmt.Errorf("invalid %s_MAX_RETRIES: must be a non-negative integer", prefix)
		}
		pc.MaxRetries = n
	}

	if v := os.Getenv(prefix + "_RETRY_DELAY_MS"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("invalid %s_RETRY_DELAY_MS: %w", prefix, err)
		}
		pc.RetryDelay = d
	}

	return pc, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseMillis(raw string) (time.Duration, error) {
	millis, err := strconv.Atoi(raw)
	if err != nil || millis <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return time.Duration(millis) * time.Millisecond, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
