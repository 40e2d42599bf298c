package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "us-east-1", cfg.Storage.AWSRegion)
	assert.Equal(t, 365, cfg.Privacy.TokenMaxAgeDays)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\nstorage:\n  backend: dynamodb\n")

	t.Setenv("PORT", "3000")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("DYNAMODB_TABLE", "override-table")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("UNSUBSCRIBE_TOKEN_SECRET", "s3cret")
	t.Setenv("IP_HASH_SALT", "salty")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "override-table", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled, "REDIS_ADDR implies enabled")
	assert.Equal(t, "s3cret", cfg.Secrets.UnsubscribeTokenSecret)
	assert.Equal(t, "salty", cfg.Secrets.IPHashSalt)
}

func TestSecretsFallBackOutsideProduction(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("UNSUBSCRIBE_TOKEN_SECRET", "")
	t.Setenv("IP_HASH_SALT", "")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Secrets.UnsubscribeTokenSecret)
	assert.NotEmpty(t, cfg.Secrets.IPHashSalt)
}

func TestSecretsRequiredInProduction(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("UNSUBSCRIBE_TOKEN_SECRET", "")
	t.Setenv("IP_HASH_SALT", "")

	_, err := LoadFromEnv(path)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrMissingSecret{})
}

func TestGetHostEnvOverride(t *testing.T) {
	t.Setenv("SERVER_HOST", "10.0.0.5")
	cfg := ServerConfig{Host: "localhost"}
	assert.Equal(t, "10.0.0.5", cfg.GetHost())
}

func TestGetAWSProfileOverride(t *testing.T) {
	cfg := StorageConfig{AWSProfile: "dev"}

	assert.Equal(t, "dev", cfg.GetAWSProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "staging")
	assert.Equal(t, "staging", cfg.GetAWSProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", cfg.GetAWSProfile(), "iam sentinel clears the profile")
}
