// CLAUDE:SUMMARY Server configuration: defaults, optional YAML file, environment overrides, fail-fast validation.
// Package config loads the server configuration.
//
// Precedence, lowest first: DefaultConfig, the optional YAML file, then
// environment variables. Load validates the result and fails fast on a
// missing API token, a malformed rate limit or an unknown transport.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/musicaftersex/brightdata-mcp/ratelimit"
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the full server configuration.
type Config struct {
	APIToken     string `yaml:"api_token"`
	APIBaseURL   string `yaml:"api_base_url"`
	ProMode      bool   `yaml:"pro_mode"`
	UnlockerZone string `yaml:"web_unlocker_zone"`
	BrowserZone  string `yaml:"browser_zone"`
	// RateLimit is "<n>/<m><h|m|s>"; empty disables the gate.
	RateLimit string `yaml:"rate_limit"`
	// BrowserCDPEndpoint replaces the computed remote browser endpoint.
	BrowserCDPEndpoint string `yaml:"browser_cdp_endpoint"`
	// BootstrapZones creates missing zones at startup.
	BootstrapZones bool `yaml:"bootstrap_zones"`

	Transport string `yaml:"transport"` // stdio | http
	HTTPAddr  string `yaml:"http_addr"`
	// HTTPAuthHash is a bcrypt hash of the bearer token required on /mcp.
	// Empty leaves the HTTP transport open.
	HTTPAuthHash string `yaml:"http_auth_bcrypt"`

	// ObsDB is the sqlite path for the invocation audit and metrics; empty
	// disables persistence.
	ObsDB            string `yaml:"obs_db"`
	ObsRetentionDays int    `yaml:"obs_retention_days"`

	LogLevel string `yaml:"log_level"`

	BrowserIdleTimeout time.Duration `yaml:"browser_idle_timeout"`
	DatasetPollTimeout time.Duration `yaml:"dataset_poll_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:         "https://api.brightdata.com",
		UnlockerZone:       "mcp_unlocker",
		BrowserZone:        "mcp_browser",
		BootstrapZones:     true,
		Transport:          TransportStdio,
		HTTPAddr:           ":8086",
		ObsRetentionDays:   30,
		LogLevel:           "info",
		BrowserIdleTimeout: 10 * time.Minute,
		DatasetPollTimeout: 600 * time.Second,
		RequestTimeout:     180 * time.Second,
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the environment seen through lookup
// (os.LookupEnv when nil).
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("API_TOKEN", &c.APIToken)
	str("API_BASE_URL", &c.APIBaseURL)
	str("WEB_UNLOCKER_ZONE", &c.UnlockerZone)
	str("BROWSER_ZONE", &c.BrowserZone)
	str("RATE_LIMIT", &c.RateLimit)
	str("BROWSER_CDP_ENDPOINT", &c.BrowserCDPEndpoint)
	str("MCP_TRANSPORT", &c.Transport)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("HTTP_AUTH_BCRYPT", &c.HTTPAuthHash)
	str("OBS_DB", &c.ObsDB)
	str("LOG_LEVEL", &c.LogLevel)

	for key, dst := range map[string]*bool{
		"PRO_MODE":        &c.ProMode,
		"BOOTSTRAP_ZONES": &c.BootstrapZones,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("config: %s: %q is not a boolean", key, v)
			}
			*dst = b
		}
	}
	if v, ok := lookup("OBS_RETENTION_DAYS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: OBS_RETENTION_DAYS: %q is not an integer", v)
		}
		c.ObsRetentionDays = n
	}
	for key, dst := range map[string]*time.Duration{
		"BROWSER_IDLE_TIMEOUT": &c.BrowserIdleTimeout,
		"DATASET_POLL_TIMEOUT": &c.DatasetPollTimeout,
		"REQUEST_TIMEOUT":      &c.RequestTimeout,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("config: API_TOKEN is required")
	}
	if c.UnlockerZone == "" || c.BrowserZone == "" {
		return fmt.Errorf("config: zone names must not be empty")
	}
	if _, err := c.Rate(); err != nil {
		return err
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: unknown transport %q (want stdio or http)", c.Transport)
	}
	if c.Transport == TransportHTTP && c.HTTPAddr == "" {
		return fmt.Errorf("config: http transport needs HTTP_ADDR")
	}
	if c.HTTPAuthHash != "" {
		if _, err := bcrypt.Cost([]byte(c.HTTPAuthHash)); err != nil {
			return fmt.Errorf("config: HTTP_AUTH_BCRYPT: %w", err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.ObsRetentionDays < 0 {
		return fmt.Errorf("config: OBS_RETENTION_DAYS must not be negative")
	}
	if c.BrowserIdleTimeout <= 0 || c.DatasetPollTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}

// Rate parses RateLimit. A zero Spec means no limit.
func (c *Config) Rate() (ratelimit.Spec, error) {
	if c.RateLimit == "" {
		return ratelimit.Spec{}, nil
	}
	spec, err := ratelimit.Parse(c.RateLimit)
	if err != nil {
		return ratelimit.Spec{}, fmt.Errorf("config: RATE_LIMIT: %w", err)
	}
	return spec, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return l, nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	if out.APIToken != "" {
		out.APIToken = "***"
	}
	if out.HTTPAuthHash != "" {
		out.HTTPAuthHash = "***"
	}
	return out
}
