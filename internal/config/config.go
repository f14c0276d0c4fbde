// Package config loads engine configuration from flags, environment,
// and config files.
package config

import (
	"fmt"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Gates     GatesConfig     `mapstructure:"gates"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// DataConfig configures on-disk locations.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// GeneratorConfig configures the generation collaborator.
type GeneratorConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// VerifyConfig configures the verification runner.
type VerifyConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GatesConfig bounds the human gates.
type GatesConfig struct {
	SelectionTimeout time.Duration `mapstructure:"selection_timeout"`
	ApprovalTimeout  time.Duration `mapstructure:"approval_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "localhost",
			Port:       8080,
			EnableCORS: true,
		},
		Data: DataConfig{
			Dir: ".groundloop",
		},
		Generator: GeneratorConfig{
			Model: "gemini-3-pro-preview",
		},
		Verify: VerifyConfig{
			Command: "pytest",
			Timeout: 60 * time.Second,
		},
		Gates: GatesConfig{
			SelectionTimeout: 300 * time.Second,
			ApprovalTimeout:  300 * time.Second,
			PollInterval:     500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Verify.Timeout <= 0 {
		return fmt.Errorf("verify timeout must be positive")
	}
	if c.Gates.PollInterval <= 0 || c.Gates.PollInterval > time.Second/2 {
		return fmt.Errorf("gate poll interval must be in (0, 500ms]")
	}
	return nil
}
