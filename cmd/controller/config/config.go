// Package config provides configuration parsing for the controller.
//
// It handles both command-line flags and environment variables, with
// flags taking precedence. The Config struct covers:
//   - Price source settings (Amber API key, base URL, forecast horizon)
//   - Vehicle gateway settings (base URL, credentials, session file)
//   - Charging policy defaults (threshold, hysteresis, target SoC)
//   - Loop timing (poll interval, stale-data window)
//   - Storage backend (memory or redis)
//   - Logging configuration (level, format)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds all controller configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	AmberAPIKey  string
	AmberBaseURL string
	HorizonHours int

	VehicleBaseURL  string
	VehicleEmail    string
	VehiclePassword string
	SessionFile     string
	MockVehicle     bool

	CaptchaAPIKey string
	CaptchaAPIURL string

	ThresholdCents   float64
	HysteresisRatio  float64
	TargetSOCPercent int
	PollInterval     time.Duration
	StaleAfter       time.Duration
	AutoMode         bool

	HTTPTimeout time.Duration
}

// ParseFlags parses command-line flags and environment variables into a
// Config. Environment variables are used as fallbacks when flags are
// not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8082"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 30*time.Minute), "Redis snapshot TTL")

	flag.StringVar(&cfg.AmberAPIKey, "amber-api-key", getEnv("AMBER_API_KEY", ""), "Amber Electric API key (required)")
	flag.StringVar(&cfg.AmberBaseURL, "amber-base-url", getEnv("AMBER_BASE_URL", ""), "Amber API base URL (default: production)")
	flag.IntVar(&cfg.HorizonHours, "horizon-hours", getEnvInt("HORIZON_HOURS", 12), "Price forecast horizon in hours")

	flag.StringVar(&cfg.VehicleBaseURL, "vehicle-base-url", getEnv("VEHICLE_BASE_URL", ""), "Vehicle control API base URL")
	flag.StringVar(&cfg.VehicleEmail, "vehicle-email", getEnv("VEHICLE_EMAIL", ""), "Vehicle account email")
	flag.StringVar(&cfg.VehiclePassword, "vehicle-password", getEnv("VEHICLE_PASSWORD", ""), "Vehicle account password")
	flag.StringVar(&cfg.SessionFile, "session-file", getEnv("SESSION_FILE", "vehicle-session.json"), "Path for persisted vehicle session")
	flag.BoolVar(&cfg.MockVehicle, "mock-vehicle", getEnvBool("MOCK_VEHICLE", false), "Use an in-memory mock vehicle instead of the real gateway")

	flag.StringVar(&cfg.CaptchaAPIKey, "captcha-api-key", getEnv("CAPTCHA_API_KEY", ""), "CAPTCHA solving service API key (login challenges fail without one)")
	flag.StringVar(&cfg.CaptchaAPIURL, "captcha-api-url", getEnv("CAPTCHA_API_URL", ""), "CAPTCHA solving service base URL (default: 2captcha)")

	flag.Float64Var(&cfg.ThresholdCents, "threshold-cents", getEnvFloat("THRESHOLD_CENTS", 25.0), "Price at or below which charging is permitted (c/kWh)")
	flag.Float64Var(&cfg.HysteresisRatio, "hysteresis-ratio", getEnvFloat("HYSTERESIS_RATIO", 1.2), "Stop boundary multiplier for a charging vehicle")
	flag.IntVar(&cfg.TargetSOCPercent, "target-soc", getEnvInt("TARGET_SOC", 0), "Stop charging at this battery percent (0 = disabled)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", getEnvDuration("POLL_INTERVAL", 5*time.Minute), "Control loop tick interval")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", getEnvDuration("STALE_AFTER", 10*time.Minute), "Maximum telemetry age the policy acts on")
	flag.BoolVar(&cfg.AutoMode, "auto-mode", getEnvBool("AUTO_MODE_ENABLED", true), "Issue charge commands automatically")

	flag.DurationVar(&cfg.HTTPTimeout, "http-timeout", getEnvDuration("HTTP_TIMEOUT", 30*time.Second), "Timeout for outbound HTTP calls")

	flag.Parse()

	if err := Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks the configuration for startup-fatal problems.
func Validate(cfg *Config) error {
	if cfg.AmberAPIKey == "" {
		return fmt.Errorf("--amber-api-key is required")
	}
	if !cfg.MockVehicle {
		if cfg.VehicleBaseURL == "" {
			return fmt.Errorf("--vehicle-base-url is required (or use --mock-vehicle)")
		}
		if cfg.VehicleEmail == "" || cfg.VehiclePassword == "" {
			return fmt.Errorf("--vehicle-email and --vehicle-password are required (or use --mock-vehicle)")
		}
	}
	if cfg.ThresholdCents < 0 {
		return fmt.Errorf("--threshold-cents must not be negative")
	}
	if cfg.HysteresisRatio < 1 {
		return fmt.Errorf("--hysteresis-ratio must be >= 1")
	}
	if cfg.TargetSOCPercent < 0 || cfg.TargetSOCPercent > 100 {
		return fmt.Errorf("--target-soc must be between 0 and 100")
	}
	if cfg.PollInterval < 10*time.Second || cfg.PollInterval > time.Hour {
		return fmt.Errorf("--poll-interval must be between 10s and 1h")
	}
	if cfg.StaleAfter < cfg.PollInterval {
		return fmt.Errorf("--stale-after (%v) must be at least the poll interval (%v)", cfg.StaleAfter, cfg.PollInterval)
	}
	if cfg.HorizonHours <= 0 || cfg.HorizonHours > 48 {
		return fmt.Errorf("--horizon-hours must be between 1 and 48")
	}
	if cfg.Storage != "memory" && cfg.Storage != "redis" {
		return fmt.Errorf("--storage must be memory or redis")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
