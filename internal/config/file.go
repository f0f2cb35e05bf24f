// Package config loads the domdrive YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Browser     BrowserConfig     `yaml:"browser"`
	Sequence    SequenceConfig    `yaml:"sequence"`
	Screenshots ScreenshotsConfig `yaml:"screenshots"`
	Server      ServerConfig      `yaml:"server"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Bin              string   `yaml:"bin"`
	Stealth          string   `yaml:"stealth"` // off | headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	IgnoreCertErrors *bool    `yaml:"ignore_cert_errors"`
	StartURL         string   `yaml:"start_url"`
}

// SequenceConfig tunes the sequence executor.
type SequenceConfig struct {
	AssertionTimeout time.Duration `yaml:"assertion_timeout"`
	LoadWait         time.Duration `yaml:"load_wait"`
	EventBuffer      int           `yaml:"event_buffer"`
}

// ScreenshotsConfig says where screenshot queries write. Empty means
// os.TempDir()/domdrive-screenshots.
type ScreenshotsConfig struct {
	Dir string `yaml:"dir"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport string `yaml:"transport"` // stdio | http
	Addr      string `yaml:"addr"`
	MaxConns  int    `yaml:"max_conns"`
	// TokenHash is a bcrypt hash of the bearer token HTTP clients must
	// send. Empty disables authentication.
	TokenHash string `yaml:"token_hash"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.IgnoreCertErrors == nil {
		yes := true
		c.Browser.IgnoreCertErrors = &yes
	}
	if c.Browser.StartURL == "" {
		c.Browser.StartURL = "about:blank"
	}
	if c.Sequence.AssertionTimeout <= 0 {
		c.Sequence.AssertionTimeout = 5 * time.Second
	}
	if c.Sequence.LoadWait <= 0 {
		c.Sequence.LoadWait = 5 * time.Second
	}
	if c.Sequence.EventBuffer <= 0 {
		c.Sequence.EventBuffer = 256
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8086"
	}
	if c.Server.MaxConns <= 0 {
		c.Server.MaxConns = 64
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "off", "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be off, headless or headful, got %q", c.Browser.Stealth)
	}
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("config: server.transport must be stdio or http, got %q", c.Server.Transport)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}
