// Package config loads the YAML configuration and builds the shared HTTP
// client. Proxy settings live here as explicit client configuration, never as
// process-wide environment mutation.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	Region  string `yaml:"region"`

	ProxyURL string `yaml:"proxy_url"`

	// RequestTimeoutSec applies to all outbound provider calls.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`

	AutoRefresh struct {
		Enabled     bool `yaml:"enabled"`
		IntervalMin int  `yaml:"interval_min"`
		Concurrency int  `yaml:"concurrency"`
	} `yaml:"auto_refresh"`

	AuditDBPath string `yaml:"audit_db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Listen:            "127.0.0.1:8765",
		DataDir:           "data",
		Region:            "us-east-1",
		RequestTimeoutSec: 30,
	}
	cfg.AutoRefresh.Enabled = true
	cfg.AutoRefresh.IntervalMin = 30
	cfg.AutoRefresh.Concurrency = 10
	return cfg
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if cfg.RequestTimeoutSec <= 0 {
		cfg.RequestTimeoutSec = 30
	}
	if cfg.AutoRefresh.Concurrency <= 0 {
		cfg.AutoRefresh.Concurrency = 10
	}
	return cfg, nil
}

// HTTPClient builds the one outbound client every adapter shares: request
// timeout from config, proxy only when configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	client := &http.Client{Timeout: time.Duration(c.RequestTimeoutSec) * time.Second}
	if c.ProxyURL != "" {
		proxy, err := url.Parse(c.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}
	return client, nil
}
