package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"empty data dir", func(c *Config) { c.Data.Dir = "" }},
		{"zero verify timeout", func(c *Config) { c.Verify.Timeout = 0 }},
		{"zero poll interval", func(c *Config) { c.Gates.PollInterval = 0 }},
		{"poll interval too long", func(c *Config) { c.Gates.PollInterval = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader_Defaults(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.Error(t, err, "explicit missing config file must fail")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pytest", cfg.Verify.Command)
	assert.Equal(t, 300*time.Second, cfg.Gates.SelectionTimeout)
}

func TestLoader_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundloop.yaml")
	content := "server:\n  port: 9999\nverify:\n  command: go-test\n  timeout: 90s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "go-test", cfg.Verify.Command)
	assert.Equal(t, 90*time.Second, cfg.Verify.Timeout)
	// Unset keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644))
	t.Setenv("GROUNDLOOP_SERVER_PORT", "7777")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port, "env must override file")
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644))

	_, err := NewLoader().WithConfigFile(path).Load()
	require.Error(t, err, "invalid config must fail validation")
}

func TestExampleYAML_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundloop.yaml")
	require.NoError(t, WriteExample(path))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err, "generated example must load")

	defaults := Default()
	assert.Equal(t, defaults.Server.Port, cfg.Server.Port)
	assert.Equal(t, defaults.Gates.PollInterval, cfg.Gates.PollInterval)
}

func TestWriteExample_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o644))
	assert.Error(t, WriteExample(path), "must refuse to overwrite")
}
