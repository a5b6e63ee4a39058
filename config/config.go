package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"fitprogress/adapters/redis"
	"fitprogress/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// FileEnv names the environment variable Load reads a TOML file path from.
const FileEnv = "FITPROGRESS_CONFIG_FILE"

// Config is the server configuration. Values are layered: DefaultConfig,
// then the FITPROGRESS_PROFILE profile, then the TOML file, then FITPROGRESS_*
// environment variables, then secrets in production.
type Config struct {
	Environment Environment `toml:"environment" env:"FITPROGRESS_ENV"`
	Profile     string      `toml:"profile" env:"FITPROGRESS_PROFILE"`

	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Security     SecurityConfig     `toml:"security"`
	Rewards      RewardsConfig      `toml:"rewards"`
	Integrations IntegrationsConfig `toml:"integrations"`
}

// ServerConfig controls the API listener.
type ServerConfig struct {
	Address           string        `toml:"address" env:"FITPROGRESS_SERVER_ADDR"`
	PathPrefix        string        `toml:"path_prefix" env:"FITPROGRESS_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `toml:"cors_origin" env:"FITPROGRESS_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `toml:"read_timeout" env:"FITPROGRESS_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `toml:"write_timeout" env:"FITPROGRESS_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `toml:"idle_timeout" env:"FITPROGRESS_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" env:"FITPROGRESS_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout" env:"FITPROGRESS_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects the snapshot store. Only the section matching
// Adapter is used.
type StorageConfig struct {
	Adapter string       `toml:"adapter" env:"FITPROGRESS_STORAGE_ADAPTER"`
	Redis   redis.Config `toml:"redis"`
	SQL     sqlx.Config  `toml:"sql"`
	File    FileConfig   `toml:"file"`
}

type FileConfig struct {
	Path string `toml:"path" env:"FITPROGRESS_STORAGE_FILE_PATH"`
}

type LoggingConfig struct {
	Level      string            `toml:"level" env:"FITPROGRESS_LOG_LEVEL"`
	Format     string            `toml:"format" env:"FITPROGRESS_LOG_FORMAT"`
	Output     string            `toml:"output" env:"FITPROGRESS_LOG_OUTPUT"`
	File       LogFileConfig     `toml:"file"`
	Attributes map[string]string `toml:"attributes,omitempty" env:"FITPROGRESS_LOG_ATTRIBUTES"`
}

// LogFileConfig controls the rotating log file used when Output is "file".
type LogFileConfig struct {
	Path       string `toml:"path" env:"FITPROGRESS_LOG_FILE_PATH"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"FITPROGRESS_LOG_FILE_MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"FITPROGRESS_LOG_FILE_MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"FITPROGRESS_LOG_FILE_MAX_AGE_DAYS"`
	Compress   bool   `toml:"compress" env:"FITPROGRESS_LOG_FILE_COMPRESS"`
	// AlsoStdout mirrors file output to stdout.
	AlsoStdout bool `toml:"also_stdout" env:"FITPROGRESS_LOG_FILE_ALSO_STDOUT"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled       bool   `toml:"enabled" env:"FITPROGRESS_METRICS_ENABLED"`
	Address       string `toml:"address" env:"FITPROGRESS_METRICS_ADDR"`
	Path          string `toml:"path" env:"FITPROGRESS_METRICS_PATH"`
	CollectSystem bool   `toml:"collect_system" env:"FITPROGRESS_METRICS_COLLECT_SYSTEM"`
}

// RewardsConfig selects the milestone catalog and tunes the progress service.
type RewardsConfig struct {
	// MilestonesFile is an optional TOML catalog; empty means the built-in one.
	MilestonesFile  string `toml:"milestones_file" env:"FITPROGRESS_REWARDS_MILESTONES_FILE"`
	LeaderboardSize int    `toml:"leaderboard_size" env:"FITPROGRESS_REWARDS_LEADERBOARD_SIZE"`
	SaveAttempts    int    `toml:"save_attempts" env:"FITPROGRESS_REWARDS_SAVE_ATTEMPTS"`
	AsyncEvents     bool   `toml:"async_events" env:"FITPROGRESS_REWARDS_ASYNC_EVENTS"`
}

// IntegrationsConfig holds outbound webhook settings.
type IntegrationsConfig struct {
	WebhookURLs       []string      `toml:"webhook_urls,omitempty" env:"FITPROGRESS_WEBHOOK_URLS"`
	WebhookSecret     string        `toml:"webhook_secret,omitempty" env:"FITPROGRESS_WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `toml:"webhook_timeout" env:"FITPROGRESS_WEBHOOK_TIMEOUT"`
	WebhookMaxRetries int           `toml:"webhook_max_retries" env:"FITPROGRESS_WEBHOOK_MAX_RETRIES"`
	WebhookEvents     []string      `toml:"webhook_events,omitempty" env:"FITPROGRESS_WEBHOOK_EVENTS"`
}

type SecurityConfig struct {
	EnableRateLimit bool            `toml:"enable_rate_limit" env:"FITPROGRESS_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `toml:"rate_limit"`
	APIKeys         []string        `toml:"api_keys,omitempty" env:"FITPROGRESS_SECURITY_API_KEYS"`
	// JWTSecret signs athlete tokens. Empty disables token auth.
	JWTSecret string `toml:"jwt_secret,omitempty" env:"FITPROGRESS_SECURITY_JWT_SECRET"`
}

type RateLimitConfig struct {
	RequestsPerMinute int           `toml:"requests_per_minute" env:"FITPROGRESS_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `toml:"burst_size" env:"FITPROGRESS_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `toml:"cleanup_interval" env:"FITPROGRESS_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Load builds the configuration from the profile, the optional file named by
// FITPROGRESS_CONFIG_FILE and the environment, then validates it.
func Load() (*Config, error) {
	return load(os.Getenv(FileEnv))
}

// LoadFromFile is Load with an explicit TOML file. Environment variables
// still override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if name := os.Getenv("FITPROGRESS_PROFILE"); name != "" {
		var err error
		if cfg, err = LoadProfile(name); err != nil {
			return nil, err
		}
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if cfg.Environment == EnvProduction {
		if err := cfg.LoadSecretsFromEnv(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// decodeFile layers the TOML file at path over cfg. Keys that match no
// field are an error.
func decodeFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("config file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(strings.ToLower(clean)) != ".toml" {
		return errors.New("config file must have .toml extension")
	}
	if _, err := os.Stat(clean); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File:    FileConfig{Path: "./data/fitprogress.json"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: LogFileConfig{
				Path:       "./logs/fitprogress.log",
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Rewards: RewardsConfig{
			LeaderboardSize: 10,
			SaveAttempts:    3,
			AsyncEvents:     true,
		},
		Integrations: IntegrationsConfig{
			WebhookTimeout:    5 * time.Second,
			WebhookMaxRetries: 2,
		},
	}
}

const redacted = "[REDACTED]"

// Redacted returns a copy of c with credentials masked.
func (c *Config) Redacted() Config {
	cfg := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Storage.SQL.DSN)
	mask(&cfg.Storage.Redis.Password)
	mask(&cfg.Integrations.WebhookSecret)
	mask(&cfg.Security.JWTSecret)
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{redacted}
	}
	return cfg
}

// String renders the redacted configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return b.String()
}
