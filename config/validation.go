package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"

	"fitprogress/adapters/sqlx"
	"fitprogress/core"
)

// MinJWTSecretLen is the shortest accepted HS256 signing secret.
const MinJWTSecretLen = 32

// problems collects every failure in a section so one run reports them all.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

// require records msg when ok is false.
func (p *problems) require(ok bool, msg string) {
	if !ok {
		*p = append(*p, errors.New(msg))
	}
}

func (p *problems) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		p.addf("%s must be one of: %s", field, strings.Join(allowed, ", "))
	}
}

// section prefixes a nested validator's failure.
func (p *problems) section(name string, err error) {
	if err != nil {
		p.addf("%s: %w", name, err)
	}
}

// err joins the failures; multierr renders them separated by "; ".
func (p problems) err() error {
	return multierr.Combine(p...)
}

// Validate checks every section and reports all failures at once.
func (c *Config) Validate() error {
	var p problems
	p.require(c.Environment != "", "environment cannot be empty")
	p.section("server config", c.Server.Validate())
	p.section("storage config", c.Storage.Validate())
	p.section("logging config", c.Logging.Validate())
	p.section("metrics config", c.Metrics.Validate())
	p.section("security config", c.Security.Validate())
	p.section("rewards config", c.Rewards.Validate())
	p.section("integrations config", c.Integrations.Validate())
	return p.err()
}

func (s *ServerConfig) Validate() error {
	var p problems
	p.require(s.Address != "", "address cannot be empty")
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"read_timeout", s.ReadTimeout},
		{"write_timeout", s.WriteTimeout},
		{"idle_timeout", s.IdleTimeout},
		{"read_header_timeout", s.ReadHeaderTimeout},
		{"shutdown_timeout", s.ShutdownTimeout},
	} {
		p.require(d.value > 0, d.name+" must be positive")
	}
	return p.err()
}

func (s *StorageConfig) Validate() error {
	var p problems
	p.oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file")
	switch s.Adapter {
	case "file":
		p.require(s.File.Path != "", "file config: path cannot be empty")
	case "redis":
		p.require(s.Redis.Addr != "", "redis config: addr cannot be empty")
	case "sql":
		if !slices.Contains([]sqlx.Driver{sqlx.DriverPostgres, sqlx.DriverMySQL, sqlx.DriverSQLite}, s.SQL.Driver) {
			p.addf("sql config: unsupported driver %q", s.SQL.Driver)
		}
		p.require(s.SQL.DSN != "", "sql config: dsn cannot be empty")
	}
	return p.err()
}

func (l *LoggingConfig) Validate() error {
	var p problems
	p.oneOf("level", l.Level, "debug", "info", "warn", "error")
	p.oneOf("format", l.Format, "json", "text")
	p.oneOf("output", l.Output, "stdout", "stderr", "file")
	if l.Output == "file" {
		p.require(l.File.Path != "", "file.path cannot be empty when output is file")
		p.require(l.File.MaxSizeMB >= 0 && l.File.MaxBackups >= 0 && l.File.MaxAgeDays >= 0,
			"file rotation limits must be >= 0")
	}
	return p.err()
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	var p problems
	p.require(m.Address != "", "address cannot be empty when metrics are enabled")
	p.require(strings.HasPrefix(m.Path, "/"), "path must start with / when metrics are enabled")
	return p.err()
}

func (s SecurityConfig) Validate() error {
	var p problems
	if s.EnableRateLimit {
		p.require(s.RateLimit.RequestsPerMinute > 0, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		p.require(s.RateLimit.BurstSize > 0, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			p.addf("api_keys[%d] is empty", i)
		}
	}
	if s.JWTSecret != "" && len(s.JWTSecret) < MinJWTSecretLen {
		p.addf("jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	return p.err()
}

// Validate checks service tuning. The milestone file itself is checked when
// it is loaded.
func (r *RewardsConfig) Validate() error {
	var p problems
	p.require(r.LeaderboardSize > 0, "leaderboard_size must be > 0")
	p.require(r.SaveAttempts > 0, "save_attempts must be > 0")
	if r.MilestonesFile != "" {
		p.require(strings.EqualFold(filepath.Ext(r.MilestonesFile), ".toml"), "milestones_file must have .toml extension")
	}
	return p.err()
}

func (i *IntegrationsConfig) Validate() error {
	var p problems
	for idx, raw := range i.WebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			p.addf("webhook_urls[%d] must be an absolute http(s) url", idx)
		}
	}
	if len(i.WebhookURLs) > 0 {
		p.require(i.WebhookTimeout > 0, "webhook_timeout must be positive")
	}
	p.require(i.WebhookMaxRetries >= 0, "webhook_max_retries must be >= 0")
	for idx, ev := range i.WebhookEvents {
		if !slices.Contains(core.AllEventTypes, core.EventType(ev)) {
			p.addf("webhook_events[%d]: unknown event type %q", idx, ev)
		}
	}
	return p.err()
}
