package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret is not set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. When KEY
// is unset, KEY_FILE may name a file holding the value (container secrets).
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		b, err := os.ReadFile(path) // #nosec G304 - operator supplied path
		if err != nil {
			return "", fmt.Errorf("read secret %s from %s: %w", key, path, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credentials from the default secret store.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets fills credentials that should not live in config files. Values
// already present are kept unless the store has a replacement.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	c.Storage.SQL.DSN = store.GetWithDefault(ctx, "FITPROGRESS_SQL_DSN", c.Storage.SQL.DSN)
	c.Storage.Redis.Password = store.GetWithDefault(ctx, "FITPROGRESS_REDIS_PASSWORD", c.Storage.Redis.Password)
	c.Integrations.WebhookSecret = store.GetWithDefault(ctx, "FITPROGRESS_WEBHOOK_SECRET", c.Integrations.WebhookSecret)
	c.Security.JWTSecret = store.GetWithDefault(ctx, "FITPROGRESS_SECURITY_JWT_SECRET", c.Security.JWTSecret)
	if keys := store.GetWithDefault(ctx, "FITPROGRESS_SECURITY_API_KEYS", ""); keys != "" {
		c.Security.APIKeys = nil
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.Security.APIKeys = append(c.Security.APIKeys, k)
			}
		}
	}

	if c.Storage.Adapter == "sql" && c.Storage.SQL.DSN == "" {
		return errors.New("sql storage selected but FITPROGRESS_SQL_DSN is not set")
	}
	return nil
}
