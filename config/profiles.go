package config

import (
	"fmt"
	"sort"
)

// profiles tune DefaultConfig for a deployment environment. They are applied
// before the TOML file and environment overrides.
var profiles = map[string]func(*Config){
	"development": func(c *Config) {
		c.Environment = EnvDevelopment
		c.Logging.Level = "debug"
		c.Logging.Format = "text"
	},
	"testing": func(c *Config) {
		c.Environment = EnvTesting
		c.Logging.Level = "warn"
		c.Storage.Adapter = "memory"
		c.Rewards.AsyncEvents = false
	},
	"staging": func(c *Config) {
		c.Environment = EnvStaging
		c.Storage.Adapter = "redis"
		c.Metrics.Enabled = true
		c.Security.EnableRateLimit = true
	},
	"production": func(c *Config) {
		c.Environment = EnvProduction
		c.Storage.Adapter = "sql"
		c.Logging.Level = "info"
		c.Logging.Format = "json"
		c.Metrics.Enabled = true
		c.Security.EnableRateLimit = true
		c.Security.RateLimit.RequestsPerMinute = 120
		c.Security.RateLimit.BurstSize = 20
		c.Server.CORSOrigin = ""
	},
}

// Profiles lists the known profile names.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadProfile returns DefaultConfig with the named profile applied. The
// result is not validated: production needs secrets from the environment
// before it is complete.
func LoadProfile(name string) (*Config, error) {
	apply, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown config profile %q (known: %v)", name, Profiles())
	}
	cfg := DefaultConfig()
	cfg.Profile = name
	apply(cfg)
	return cfg, nil
}
