package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

const sampleTOML = `
environment = "testing"

[server]
address = ":9090"
read_timeout = "2s"

[storage]
adapter = "sql"

[storage.sql]
driver = "sqlite"
dsn = "file:progress.db"

[rewards]
leaderboard_size = 50

[logging.attributes]
service = "fitprogress"
`

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "server.toml", sampleTOML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "unset keys keep their defaults")
	assert.Equal(t, "sql", cfg.Storage.Adapter)
	assert.Equal(t, "sqlite", string(cfg.Storage.SQL.Driver))
	assert.Equal(t, 50, cfg.Rewards.LeaderboardSize)
	assert.Equal(t, map[string]string{"service": "fitprogress"}, cfg.Logging.Attributes)
}

func TestLoadFromFileEnvWins(t *testing.T) {
	path := writeFile(t, "server.toml", sampleTOML)
	t.Setenv("FITPROGRESS_SERVER_ADDR", ":7070")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
}

func TestLoadReadsConfigFileEnv(t *testing.T) {
	t.Setenv(FileEnv, writeFile(t, "server.toml", sampleTOML))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadFromFileRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "server.toml", "[server]\nadress = \":1\"\n")

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.adress")
}

func TestLoadFromFileSyntaxError(t *testing.T) {
	path := writeFile(t, "server.toml", "[server\n")

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid environment", mutate: func(c *Config) { c.Environment = "" }, expectError: "environment cannot be empty"},
		{name: "invalid server timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }, expectError: "read_timeout must be positive"},
		{name: "unknown adapter", mutate: func(c *Config) { c.Storage.Adapter = "mongo" }, expectError: "adapter must be one of"},
		{
			name: "sql without dsn",
			mutate: func(c *Config) {
				c.Storage.Adapter = "sql"
				c.Storage.SQL.Driver = "sqlite"
			},
			expectError: "dsn cannot be empty",
		},
		{
			name: "sqlite is accepted",
			mutate: func(c *Config) {
				c.Storage.Adapter = "sql"
				c.Storage.SQL.Driver = "sqlite"
				c.Storage.SQL.DSN = "file:progress.db"
			},
		},
		{name: "unknown sql driver", mutate: func(c *Config) { c.Storage.Adapter = "sql"; c.Storage.SQL.Driver = "oracle" }, expectError: `unsupported driver "oracle"`},
		{name: "file logging needs a path", mutate: func(c *Config) { c.Logging.Output = "file"; c.Logging.File.Path = "" }, expectError: "file.path"},
		{name: "metrics path", mutate: func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, expectError: "path must start with /"},
		{name: "leaderboard size", mutate: func(c *Config) { c.Rewards.LeaderboardSize = 0 }, expectError: "leaderboard_size"},
		{name: "milestones extension", mutate: func(c *Config) { c.Rewards.MilestonesFile = "m.yaml" }, expectError: ".toml"},
		{name: "webhook url", mutate: func(c *Config) { c.Integrations.WebhookURLs = []string{"ftp://x"} }, expectError: "webhook_urls[0]"},
		{name: "webhook event", mutate: func(c *Config) { c.Integrations.WebhookEvents = []string{"points_lost"} }, expectError: "unknown event type"},
		{
			name: "rate limit",
			mutate: func(c *Config) {
				c.Security.EnableRateLimit = true
				c.Security.RateLimit.RequestsPerMinute = 0
			},
			expectError: "requests_per_minute",
		},
		{name: "short jwt secret", mutate: func(c *Config) { c.Security.JWTSecret = "short" }, expectError: "jwt_secret must be at least 32 bytes"},
		{name: "jwt secret", mutate: func(c *Config) { c.Security.JWTSecret = "0123456789abcdef0123456789abcdef" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateReportsEverySection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ""
	cfg.Logging.Level = "loud"
	cfg.Rewards.SaveAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server config: address cannot be empty")
	assert.Contains(t, err.Error(), "logging config: level must be one of")
	assert.Contains(t, err.Error(), "rewards config: save_attempts")
	assert.Len(t, multierr.Errors(err), 3, "one entry per failing section")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FITPROGRESS_SERVER_ADDR", ":7070")
	t.Setenv("FITPROGRESS_STORAGE_ADAPTER", "sql")
	t.Setenv("FITPROGRESS_SQL_DRIVER", "sqlite")
	t.Setenv("FITPROGRESS_SQL_DSN", "file:test.db")
	t.Setenv("FITPROGRESS_SERVER_READ_TIMEOUT", "3s")
	t.Setenv("FITPROGRESS_REWARDS_LEADERBOARD_SIZE", "25")
	t.Setenv("FITPROGRESS_SECURITY_API_KEYS", "k1, k2")
	t.Setenv("FITPROGRESS_LOG_ATTRIBUTES", "service=fitprogress,region=eu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "sql", cfg.Storage.Adapter)
	assert.Equal(t, "sqlite", string(cfg.Storage.SQL.Driver))
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 25, cfg.Rewards.LeaderboardSize)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.APIKeys)
	assert.Equal(t, map[string]string{"service": "fitprogress", "region": "eu"}, cfg.Logging.Attributes)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("FITPROGRESS_SERVER_READ_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ProductionProfileNeedsDSN(t *testing.T) {
	t.Setenv("FITPROGRESS_PROFILE", "production")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FITPROGRESS_SQL_DSN")

	t.Setenv("FITPROGRESS_SQL_DSN", "postgres://u:p@db/fit?sslmode=disable")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, "production", cfg.Profile)
	assert.NotContains(t, cfg.String(), "u:p@db")
}

func TestProfiles(t *testing.T) {
	for _, name := range Profiles() {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadProfile(name)
			require.NoError(t, err)
			assert.Equal(t, Environment(name), cfg.Environment)
			assert.Equal(t, name, cfg.Profile)
		})
	}

	cfg, err := LoadProfile("unknown")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestSecrets(t *testing.T) {
	store := NewEnvironmentSecretStore()
	ctx := context.Background()
	t.Setenv("TEST_SECRET_KEY", "test_secret_value")

	value, err := store.Get(ctx, "TEST_SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "test_secret_value", value)

	assert.Equal(t, "default", store.GetWithDefault(ctx, "NONEXISTENT_KEY", "default"))
	assert.Equal(t, "test_secret_value", store.GetWithDefault(ctx, "TEST_SECRET_KEY", "default"))

	_, err = store.Get(ctx, "NONEXISTENT_KEY")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestSecretsFromFile(t *testing.T) {
	t.Setenv("FITPROGRESS_SQL_DSN_FILE", writeFile(t, "dsn", "postgres://secret\n"))
	t.Setenv("FITPROGRESS_WEBHOOK_SECRET", "hush")
	t.Setenv("FITPROGRESS_SECURITY_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg := DefaultConfig()
	cfg.Storage.Adapter = "sql"
	require.NoError(t, cfg.LoadSecretsFromEnv(context.Background()))
	assert.Equal(t, "postgres://secret", cfg.Storage.SQL.DSN)
	assert.Equal(t, "hush", cfg.Integrations.WebhookSecret)
	assert.Len(t, cfg.Security.JWTSecret, 32)

	out := cfg.String()
	assert.NotContains(t, out, "postgres://secret")
	assert.NotContains(t, out, "hush")
	assert.NotContains(t, out, "0123456789abcdef")
}

func TestStringIsRedactedTOML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Redis.Password = "pw"
	cfg.Security.APIKeys = []string{"k1", "k2"}

	var decoded Config
	_, err := toml.Decode(cfg.String(), &decoded)
	require.NoError(t, err)
	assert.Equal(t, redacted, decoded.Storage.Redis.Password)
	assert.Equal(t, []string{redacted}, decoded.Security.APIKeys)
	assert.Equal(t, cfg.Server.ReadTimeout, decoded.Server.ReadTimeout)
	assert.Equal(t, "pw", cfg.Storage.Redis.Password, "String must not mutate the receiver")
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(good, nil, 0o600))
	wrongExt := filepath.Join(dir, "server.json")
	require.NoError(t, os.WriteFile(wrongExt, nil, 0o600))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"toml file", good, false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"wrong extension", wrongExt, true},
		{"missing file", filepath.Join(dir, "missing.toml"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
