package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 26.4, cfg.Valuation.DefaultTaxRate)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.RecordTTL)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.False(t, cfg.Backup.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_TOKEN_MODE", "hmac")
	t.Setenv("AUTH_HMAC_SECRET", "secret")
	t.Setenv("IDEMPOTENCY_TTL", "2h")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DEFAULT_CAPITAL_GAIN_TAX_RATE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "hmac", cfg.Auth.TokenMode)
	assert.Equal(t, 2*time.Hour, cfg.Idempotency.RecordTTL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 25.0, cfg.Valuation.DefaultTaxRate)
}

func TestLoad_InvalidEnvValueKeepsDefault(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
port = 7000
log_level = "debug"

[auth]
token_mode = "emulator"
emulator_host = "localhost:9099"
credential_strategy = "emulator"

[backup]
bucket = "my-bucket"
region = "eu-central-1"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "emulator", cfg.Auth.TokenMode)
	assert.Equal(t, "localhost:9099", cfg.Auth.EmulatorHost)
	assert.True(t, cfg.Backup.Enabled())
	// untouched keys keep defaults
	assert.Equal(t, "backups", cfg.Backup.Prefix)
	assert.Equal(t, 200, cfg.MarketData.BackfillDays)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_Missing(t *testing.T) {
	err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"), Default())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"bad prefix", func(c *Config) { c.APIPrefix = "api" }},
		{"unknown token mode", func(c *Config) { c.Auth.TokenMode = "basic" }},
		{"hmac without secret", func(c *Config) { c.Auth.TokenMode = "hmac" }},
		{"unknown credential strategy", func(c *Config) { c.Auth.CredentialStrategy = "magic" }},
		{"key file without path", func(c *Config) { c.Auth.CredentialStrategy = "key_file" }},
		{"emulator without host", func(c *Config) { c.Auth.TokenMode = "emulator" }},
		{"tax rate over 100", func(c *Config) { c.Valuation.DefaultTaxRate = 101 }},
		{"zero ttl", func(c *Config) { c.Idempotency.RecordTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
