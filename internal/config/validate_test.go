package config

import (
	"strings"
	"testing"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func validConfig() *Config {
	cfg := Default()
	cfg.AuthToken = "bot-token"
	cfg.ServerAddress = "mc.example.com"
	cfg.ServerPort = 25565
	cfg.TOTPSecret = testSecret
	cfg.AlertSubscribers = []string{"123456789012345678"}
	return cfg
}

func hasFatal(result ValidationResult, substr string) bool {
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}

func TestValidateTieredAcceptsValidConfig(t *testing.T) {
	result := validConfig().ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unexpected fatals: %v", result.Fatals)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestValidateTieredRequiredFieldsAreFatal(t *testing.T) {
	result := Default().ValidateTiered()
	for _, want := range []string{"auth_token is required", "server_address is required", "server_port", "totp_secret is required"} {
		if !hasFatal(result, want) {
			t.Errorf("expected fatal containing %q, got %v", want, result.Fatals)
		}
	}
}

func TestValidateTieredFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"control chars in token", func(c *Config) { c.AuthToken = "tok\x00en" }, "control characters"},
		{"address with path", func(c *Config) { c.ServerAddress = "mc.example.com/x" }, "not a host name"},
		{"port too high", func(c *Config) { c.ServerPort = 70000 }, "server_port"},
		{"bad base32 secret", func(c *Config) { c.TOTPSecret = "not base32!" }, "not valid base32"},
		{"non numeric subscriber", func(c *Config) { c.AlertSubscribers = []string{"alice"} }, "alert_subscribers"},
		{"zero interval", func(c *Config) { c.CheckIntervalSeconds = 0 }, "check_interval_seconds"},
		{"probe timeout too long", func(c *Config) { c.ProbeTimeoutSeconds = 120 }, "probe_timeout_seconds"},
		{"negative error ttl", func(c *Config) { c.ErrorMessageTTLSeconds = -1 }, "error_message_ttl_seconds"},
		{"empty admin command", func(c *Config) { c.AdminCommand = "" }, "admin_command"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			result := cfg.ValidateTiered()
			if !hasFatal(result, tt.want) {
				t.Fatalf("expected fatal containing %q, got %v", tt.want, result.Fatals)
			}
			if len(cfg.Validate()) == 0 {
				t.Fatal("Validate() should report the same fatal")
			}
		})
	}
}

func TestValidateTieredClampsWorkersAsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.MaxWorkers = 0
	cfg.EventQueueSize = 50000

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamping should not be fatal: %v", result.Fatals)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", result.Warnings)
	}
	if cfg.MaxWorkers != 1 {
		t.Fatalf("MaxWorkers = %d, want 1", cfg.MaxWorkers)
	}
	if cfg.EventQueueSize != 10000 {
		t.Fatalf("EventQueueSize = %d, want 10000", cfg.EventQueueSize)
	}
}
