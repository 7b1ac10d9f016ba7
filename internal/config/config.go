// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	tlerrors "github.com/tombee/tracelight/pkg/errors"
	"github.com/tombee/tracelight/pkg/tracing/persist"
	"github.com/tombee/tracelight/pkg/tracing/redact"
	"github.com/tombee/tracelight/pkg/tracing/store"
)

// Config represents the complete tracelight configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Redaction RedactionConfig `yaml:"redaction"`
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Pricing   PricingConfig   `yaml:"pricing"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: TRACELIGHT_LOG_LEVEL, LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// StoreConfig selects and tunes the persistence strategy.
type StoreConfig struct {
	// Mode is one of ephemeral, durable or sqlite.
	// Environment: TRACELIGHT_STORE_MODE
	// Default: ephemeral
	Mode persist.Mode `yaml:"mode"`

	// Path is the snapshot directory (ephemeral), the data directory
	// (durable) or the database file (sqlite). Ephemeral mode with no path
	// never touches disk.
	// Environment: TRACELIGHT_STORE_PATH
	Path string `yaml:"path,omitempty"`

	// SnapshotInterval is the ephemeral snapshot period. Zero writes only a
	// final snapshot on shutdown.
	// Environment: TRACELIGHT_SNAPSHOT_INTERVAL
	SnapshotInterval time.Duration `yaml:"snapshot_interval,omitempty"`

	// MaxSessions bounds resident sessions. Zero selects the default; negative
	// disables the bound.
	// Environment: TRACELIGHT_MAX_SESSIONS
	// Default: 1000
	MaxSessions int `yaml:"max_sessions"`

	// MaxQueuedBytes bounds pending snapshot writes.
	// Default: 64 MiB
	MaxQueuedBytes int64 `yaml:"max_queued_bytes,omitempty"`

	// Encrypt enables encryption of message payloads (sqlite only). The key
	// is read from TRACELIGHT_STORE_KEY.
	Encrypt bool `yaml:"encrypt,omitempty"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	// Mode is the redaction mode: "none", "standard", or "strict".
	// Environment: TRACELIGHT_REDACTION_MODE
	// Default: standard
	Mode redact.RedactionMode `yaml:"mode,omitempty"`

	// Keys are the sensitive key names. Empty selects redact.DefaultKeys.
	Keys []string `yaml:"keys,omitempty"`

	// Patterns are custom redaction patterns applied after the built-in ones.
	Patterns []RedactionPattern `yaml:"patterns,omitempty"`
}

// RedactionPattern defines a sensitive data pattern.
type RedactionPattern struct {
	// Name identifies this pattern.
	Name string `yaml:"name"`

	// Regex is the pattern to match.
	Regex string `yaml:"regex"`

	// Replacement is the string to substitute. Defaults to [REDACTED].
	Replacement string `yaml:"replacement,omitempty"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: TRACELIGHT_SERVER_ADDR
	// Default: 127.0.0.1:9877
	Addr string `yaml:"addr"`

	// APIKeys are the accepted bearer tokens. Empty disables authentication.
	// Environment: TRACELIGHT_SERVER_API_KEYS (comma separated)
	APIKeys []string `yaml:"api_keys,omitempty"`

	// ProjectID, when set, must match the X-Project-ID header.
	ProjectID string `yaml:"project_id,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Environment: TRACELIGHT_SHUTDOWN_TIMEOUT
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RemoteConfig configures the hosted-service client.
type RemoteConfig struct {
	// BaseURL is the service endpoint.
	// Environment: TRACELIGHT_REMOTE_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey is sent as a bearer token.
	// Environment: TRACELIGHT_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// ProjectID is sent as X-Project-ID.
	// Environment: TRACELIGHT_PROJECT_ID
	ProjectID string `yaml:"project_id,omitempty"`

	// Timeout bounds each remote call.
	// Environment: TRACELIGHT_REMOTE_TIMEOUT
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`
}

// PricingConfig points at model price overrides.
type PricingConfig struct {
	// Path is a YAML file of per-model prices merged over the built-ins.
	// Environment: TRACELIGHT_PRICING_PATH
	Path string `yaml:"path,omitempty"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Mode:           persist.ModeEphemeral,
			MaxSessions:    store.DefaultMaxSessions,
			MaxQueuedBytes: persist.DefaultMaxQueuedBytes,
		},
		Redaction: RedactionConfig{
			Mode: redact.ModeStandard,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:9877",
			ShutdownTimeout: 5 * time.Second,
		},
		Remote: RemoteConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &tlerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Minimal files leave zero values behind.
	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &tlerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Store.Mode == "" {
		c.Store.Mode = defaults.Store.Mode
	}
	if c.Store.MaxSessions == 0 {
		c.Store.MaxSessions = defaults.Store.MaxSessions
	}
	if c.Store.MaxQueuedBytes == 0 {
		c.Store.MaxQueuedBytes = defaults.Store.MaxQueuedBytes
	}

	if c.Redaction.Mode == "" {
		c.Redaction.Mode = defaults.Redaction.Mode
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = defaults.Remote.Timeout
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies TRACELIGHT_* overrides. Malformed numeric and
// duration values are reported rather than ignored.
func (c *Config) loadFromEnv() error {
	// Log configuration
	if val := os.Getenv("TRACELIGHT_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	} else if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	// Store configuration
	if val := os.Getenv("TRACELIGHT_STORE_MODE"); val != "" {
		c.Store.Mode = persist.Mode(strings.ToLower(val))
	}
	if val := os.Getenv("TRACELIGHT_STORE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("TRACELIGHT_SNAPSHOT_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("TRACELIGHT_SNAPSHOT_INTERVAL", err)
		}
		c.Store.SnapshotInterval = d
	}
	if val := os.Getenv("TRACELIGHT_MAX_SESSIONS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("TRACELIGHT_MAX_SESSIONS", err)
		}
		c.Store.MaxSessions = n
	}
	if val := os.Getenv("TRACELIGHT_STORE_ENCRYPT"); val != "" {
		c.Store.Encrypt = parseBool(val)
	}

	// Redaction configuration
	if val := os.Getenv("TRACELIGHT_REDACTION_MODE"); val != "" {
		c.Redaction.Mode = redact.RedactionMode(strings.ToLower(val))
	}

	// Server configuration
	if val := os.Getenv("TRACELIGHT_SERVER_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("TRACELIGHT_SERVER_API_KEYS"); val != "" {
		c.Server.APIKeys = splitList(val)
	}
	if val := os.Getenv("TRACELIGHT_SHUTDOWN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("TRACELIGHT_SHUTDOWN_TIMEOUT", err)
		}
		c.Server.ShutdownTimeout = d
	}

	// Remote configuration
	if val := os.Getenv("TRACELIGHT_REMOTE_URL"); val != "" {
		c.Remote.BaseURL = val
	}
	if val := os.Getenv("TRACELIGHT_API_KEY"); val != "" {
		c.Remote.APIKey = val
	}
	if val := os.Getenv("TRACELIGHT_PROJECT_ID"); val != "" {
		c.Remote.ProjectID = val
	}
	if val := os.Getenv("TRACELIGHT_REMOTE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("TRACELIGHT_REMOTE_TIMEOUT", err)
		}
		c.Remote.Timeout = d
	}

	if val := os.Getenv("TRACELIGHT_PRICING_PATH"); val != "" {
		c.Pricing.Path = val
	}

	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if !c.Store.Mode.Valid() {
		errs = append(errs, fmt.Sprintf("store.mode must be one of [ephemeral, durable, sqlite], got %q", c.Store.Mode))
	}
	if (c.Store.Mode == persist.ModeDurable || c.Store.Mode == persist.ModeSQLite) && c.Store.Path == "" {
		errs = append(errs, fmt.Sprintf("store.path is required for store.mode %q", c.Store.Mode))
	}
	if c.Store.SnapshotInterval < 0 {
		errs = append(errs, fmt.Sprintf("store.snapshot_interval must not be negative, got %v", c.Store.SnapshotInterval))
	}
	if c.Store.MaxQueuedBytes < 0 {
		errs = append(errs, fmt.Sprintf("store.max_queued_bytes must not be negative, got %d", c.Store.MaxQueuedBytes))
	}
	if c.Store.Encrypt && c.Store.Mode != persist.ModeSQLite {
		errs = append(errs, "store.encrypt is only supported with store.mode sqlite")
	}

	switch c.Redaction.Mode {
	case redact.ModeNone, redact.ModeStandard, redact.ModeStrict:
	default:
		errs = append(errs, fmt.Sprintf("redaction.mode must be one of [none, standard, strict], got %q", c.Redaction.Mode))
	}
	for i, p := range c.Redaction.Patterns {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("redaction.patterns[%d].name is required", i))
		}
		if _, err := regexp.Compile(p.Regex); err != nil || p.Regex == "" {
			errs = append(errs, fmt.Sprintf("redaction.patterns[%d].regex is not a valid pattern: %q", i, p.Regex))
		}
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	if c.Remote.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("remote.timeout must be positive, got %v", c.Remote.Timeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Redactor builds the redactor described by the redaction section.
func (r RedactionConfig) Redactor() (*redact.Redactor, error) {
	extra := make([]redact.Pattern, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, &tlerrors.ConfigError{
				Key:    "redaction.patterns." + p.Name,
				Reason: "invalid regex",
				Cause:  err,
			}
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = redact.Placeholder
		}
		extra = append(extra, redact.Pattern{Name: p.Name, Regex: re, Replacement: replacement})
	}
	return redact.NewRedactorWithPatterns(r.Mode, r.Keys, extra), nil
}

// RemoteEnabled reports whether enough is configured to talk to a hosted
// service.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.BaseURL != ""
}

func envError(key string, err error) error {
	return &tlerrors.ConfigError{
		Key:    key,
		Reason: "invalid environment value",
		Cause:  err,
	}
}

func parseBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
