package httpclient

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.AllowNonIdempotentRetry {
		t.Errorf("non-idempotent retry should be off by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be > 0"},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }, "retry_attempts must be >= 0"},
		{"zero backoff", func(c *Config) { c.RetryBackoff = 0 }, "retry_backoff must be > 0"},
		{"max below base", func(c *Config) { c.MaxBackoff = time.Millisecond }, "max_backoff"},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, "user_agent is required"},
		{"no retries ignores backoff", func(c *Config) { c.RetryAttempts = 0; c.RetryBackoff = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errText == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error containing %q, got %v", tt.errText, err)
			}
		})
	}
}
