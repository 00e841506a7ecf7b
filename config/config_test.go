package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "./data/mindscreen.db", cfg.Database.DSN)
	assert.Empty(t, cfg.Catalog.Dir)
	assert.Equal(t, 30*time.Minute, cfg.Engine.InactivityTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.AutoSaveInterval)
	assert.Equal(t, "en", cfg.Engine.DefaultLanguage)
	assert.Equal(t, 30, cfg.Engine.DefaultSecondsPerQuestion)
	assert.Equal(t, 8, cfg.Analyzer.MaxRecommendations)
	assert.Equal(t, int64(5*1024*1024), cfg.Storage.QuotaBytes)
	assert.Equal(t, 2, cfg.Storage.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Storage.RetryBackoff)
}

func TestLoad_FileValues(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: "9090"
database:
  dsn: "memory"
catalog:
  dir: "./questionnaires"
engine:
  inactivity_timeout: 10m
  auto_save_interval: 1m
  default_language: es
analyzer:
  max_recommendations: 5
storage:
  quota_bytes: 1024
  max_retries: 0
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.DSN)
	assert.Equal(t, "./questionnaires", cfg.Catalog.Dir)
	assert.Equal(t, 10*time.Minute, cfg.Engine.InactivityTimeout)
	assert.Equal(t, time.Minute, cfg.Engine.AutoSaveInterval)
	assert.Equal(t, "es", cfg.Engine.DefaultLanguage)
	assert.Equal(t, 5, cfg.Analyzer.MaxRecommendations)
	assert.Equal(t, int64(1024), cfg.Storage.QuotaBytes)
	assert.Equal(t, 0, cfg.Storage.MaxRetries)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := writeConfig(t, "server:\n  port: \"9090\"\n")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DATABASE_DSN", "/tmp/override.db")
	t.Setenv("CATALOG_DIR", "/etc/mindscreen")
	t.Setenv("INACTIVITY_TIMEOUT", "45m")
	t.Setenv("MAX_RECOMMENDATIONS", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "/tmp/override.db", cfg.Database.DSN)
	assert.Equal(t, "/etc/mindscreen", cfg.Catalog.Dir)
	assert.Equal(t, 45*time.Minute, cfg.Engine.InactivityTimeout)
	assert.Equal(t, 3, cfg.Analyzer.MaxRecommendations)
}

func TestLoad_InvalidOverridesAreIgnored(t *testing.T) {
	t.Setenv("INACTIVITY_TIMEOUT", "soon")
	t.Setenv("MAX_RECOMMENDATIONS", "many")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Engine.InactivityTimeout)
	assert.Equal(t, 8, cfg.Analyzer.MaxRecommendations)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	dir := writeConfig(t, "engine:\n  inactivity_timeout: 0s\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inactivity_timeout")

	dir = writeConfig(t, "server: [unclosed\n")
	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading configuration file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Server.Port = "8080"
		c.Engine = EngineConfig{InactivityTimeout: time.Minute, AutoSaveInterval: time.Second, DefaultLanguage: "en"}
		c.Analyzer.MaxRecommendations = 4
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"zero auto-save", func(c *Config) { c.Engine.AutoSaveInterval = 0 }, "auto_save_interval"},
		{"no language", func(c *Config) { c.Engine.DefaultLanguage = "" }, "default_language"},
		{"no recommendations", func(c *Config) { c.Analyzer.MaxRecommendations = 0 }, "max_recommendations"},
		{"negative retries", func(c *Config) { c.Storage.MaxRetries = -1 }, "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
