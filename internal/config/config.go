// Package config provides configuration loading and validation for the
// chart engine. It uses koanf to merge environment variables with optional
// file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the chart engine service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Backing stores
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Chart computation
	Regions              []string      `koanf:"regions"` // country scopes refreshed alongside global
	ServingLimit         int           `koanf:"serving_limit"`
	CandidateCap         int           `koanf:"candidate_cap"`
	TrendThreshold       int           `koanf:"trend_threshold"`
	CalibrationPath      string        `koanf:"calibration_path"`
	AggregationInterval  time.Duration `koanf:"aggregation_interval"`
	ChartRefreshInterval time.Duration `koanf:"chart_refresh_interval"`

	// Retention tiers
	EventRetention time.Duration `koanf:"event_retention"`
	StatsRetention time.Duration `koanf:"stats_retention"`
	ChartTTL       time.Duration `koanf:"chart_ttl"`

	// Media URL signing (R2 / S3-compatible)
	SigningBucket          string `koanf:"signing_bucket"`
	SigningAccessKeyID     string `koanf:"signing_access_key_id"`
	SigningSecretAccessKey string `koanf:"signing_secret_access_key"`
	SigningEndpoint        string `koanf:"signing_endpoint"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL   = errors.New("DATABASE_URL is required")
	ErrMissingRedisURL      = errors.New("REDIS_URL is required")
	ErrInvalidPort          = errors.New("PORT must be a valid integer")
	ErrInvalidServingLimit  = errors.New("serving limit must be positive")
	ErrInvalidCandidateCap  = errors.New("candidate cap must be at least the serving limit")
	ErrInvalidSamplingRate  = errors.New("tracing sampling rate must be between 0 and 1")
	ErrIncompleteSigningCfg = errors.New("signing requires bucket, access key, secret, and endpoint together")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultServingLimit         = 50
	DefaultCandidateCap         = 200
	DefaultTrendThreshold       = 5
	DefaultAggregationInterval  = 15 * time.Minute
	DefaultChartRefreshInterval = 24 * time.Hour
	DefaultEventRetention       = 24 * time.Hour
	DefaultStatsRetention       = 90 * 24 * time.Hour
	DefaultChartTTL             = 7 * 24 * time.Hour
	DefaultTracingSamplingRate  = 0.1
)

// Load reads configuration from environment variables and an optional
// YAML config file. Environment variables take precedence over file
// values. Returns the loaded config and a slice of validation errors
// (empty if valid). If a config file path is provided and the file cannot
// be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	cfg := &Config{
		Port:                 DefaultPort,
		Env:                  DefaultEnv,
		ServingLimit:         DefaultServingLimit,
		CandidateCap:         DefaultCandidateCap,
		TrendThreshold:       DefaultTrendThreshold,
		AggregationInterval:  DefaultAggregationInterval,
		ChartRefreshInterval: DefaultChartRefreshInterval,
		EventRetention:       DefaultEventRetention,
		StatsRetention:       DefaultStatsRetention,
		ChartTTL:             DefaultChartTTL,
		TracingSamplingRate:  DefaultTracingSamplingRate,
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to unmarshal config file: %w", err)}
	}

	// Environment overrides (highest precedence).
	if port, err := envInt("PORT", cfg.Port); err != nil {
		loadErrs = append(loadErrs, err)
	} else {
		cfg.Port = port
	}
	cfg.Env = envString("WAVELINE_ENV", cfg.Env)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.CalibrationPath = envString("CHART_CALIBRATION_PATH", cfg.CalibrationPath)
	if regions := os.Getenv("CHART_REGIONS"); regions != "" {
		cfg.Regions = splitRegions(regions)
	}
	cfg.ServingLimit = envIntVal("CHART_SERVING_LIMIT", cfg.ServingLimit, &loadErrs)
	cfg.CandidateCap = envIntVal("CHART_CANDIDATE_CAP", cfg.CandidateCap, &loadErrs)
	cfg.TrendThreshold = envIntVal("CHART_TREND_THRESHOLD", cfg.TrendThreshold, &loadErrs)
	cfg.AggregationInterval = envDuration("CHART_AGGREGATION_INTERVAL", cfg.AggregationInterval, &loadErrs)
	cfg.ChartRefreshInterval = envDuration("CHART_REFRESH_INTERVAL", cfg.ChartRefreshInterval, &loadErrs)
	cfg.EventRetention = envDuration("CHART_EVENT_RETENTION", cfg.EventRetention, &loadErrs)
	cfg.StatsRetention = envDuration("CHART_STATS_RETENTION", cfg.StatsRetention, &loadErrs)
	cfg.ChartTTL = envDuration("CHART_TTL", cfg.ChartTTL, &loadErrs)
	cfg.SigningBucket = envString("SIGNING_BUCKET", cfg.SigningBucket)
	cfg.SigningAccessKeyID = envString("SIGNING_ACCESS_KEY_ID", cfg.SigningAccessKeyID)
	cfg.SigningSecretAccessKey = envString("SIGNING_SECRET_ACCESS_KEY", cfg.SigningSecretAccessKey)
	cfg.SigningEndpoint = envString("SIGNING_ENDPOINT", cfg.SigningEndpoint)
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.TracingEnabled = v == "true" || v == "1"
	}
	cfg.TracingOTLPEndpoint = envString("TRACING_OTLP_ENDPOINT", cfg.TracingOTLPEndpoint)

	loadErrs = append(loadErrs, cfg.Validate()...)
	return cfg, loadErrs
}

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}
	if c.ServingLimit <= 0 {
		errs = append(errs, ErrInvalidServingLimit)
	}
	if c.CandidateCap < c.ServingLimit {
		errs = append(errs, ErrInvalidCandidateCap)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}
	if c.SigningConfigured() != c.signingPartial() {
		errs = append(errs, ErrIncompleteSigningCfg)
	}
	return errs
}

// SigningConfigured reports whether all signing settings are present.
func (c *Config) SigningConfigured() bool {
	return c.SigningBucket != "" && c.SigningAccessKeyID != "" &&
		c.SigningSecretAccessKey != "" && c.SigningEndpoint != ""
}

// signingPartial reports whether any signing setting is present.
func (c *Config) signingPartial() bool {
	return c.SigningBucket != "" || c.SigningAccessKeyID != "" ||
		c.SigningSecretAccessKey != "" || c.SigningEndpoint != ""
}

// IsProduction returns true when running in the production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%w: %q", ErrInvalidPort, v)
	}
	return parsed, nil
}

func envIntVal(name string, fallback int, errs *[]error) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid integer: %q", name, v))
		return fallback
	}
	return parsed
}

func envDuration(name string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid duration: %w", name, err))
		return fallback
	}
	return parsed
}

func splitRegions(raw string) []string {
	parts := strings.Split(raw, ",")
	regions := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			regions = append(regions, p)
		}
	}
	return regions
}
