package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pquerna/otp/totp"

	"github.com/breeze-rmm/gatewatch/internal/logging"
)

// ValidationResult separates problems that must stop startup from values
// that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// Validate returns only the fatal errors; see ValidateTiered.
func (c *Config) Validate() []error {
	return c.ValidateTiered().Fatals
}

// ValidateTiered checks the config. Missing or malformed required settings
// are fatal. Worker and queue sizes are clamped to a safe range and reported
// as warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var errs []error

	if c.AuthToken == "" {
		errs = append(errs, fmt.Errorf("auth_token is required"))
	} else if hasControl(c.AuthToken) {
		errs = append(errs, fmt.Errorf("auth_token contains control characters"))
	}

	if c.ServerAddress == "" {
		errs = append(errs, fmt.Errorf("server_address is required"))
	} else if strings.ContainsAny(c.ServerAddress, " /") {
		errs = append(errs, fmt.Errorf("server_address %q is not a host name or IP", c.ServerAddress))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port %d must be between 1 and 65535", c.ServerPort))
	}

	if c.TOTPSecret == "" {
		errs = append(errs, fmt.Errorf("totp_secret is required"))
	} else if _, err := totp.GenerateCode(c.TOTPSecret, time.Now()); err != nil {
		errs = append(errs, fmt.Errorf("totp_secret is not valid base32: %w", err))
	}

	for _, id := range c.AlertSubscribers {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("alert_subscribers entry %q is not a user ID", id))
		}
	}

	if c.CheckIntervalSeconds < 1 || c.CheckIntervalSeconds > 86400 {
		errs = append(errs, fmt.Errorf("check_interval_seconds %d must be between 1 and 86400", c.CheckIntervalSeconds))
	}
	if c.ProbeTimeoutSeconds < 1 || c.ProbeTimeoutSeconds > 60 {
		errs = append(errs, fmt.Errorf("probe_timeout_seconds %d must be between 1 and 60", c.ProbeTimeoutSeconds))
	}
	if c.ErrorMessageTTLSeconds < 0 || c.ErrorMessageTTLSeconds > 300 {
		errs = append(errs, fmt.Errorf("error_message_ttl_seconds %d must be between 0 and 300", c.ErrorMessageTTLSeconds))
	}

	if c.AdminCommand == "" {
		errs = append(errs, fmt.Errorf("admin_command must not be empty"))
	}

	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	var warnings []error
	c.MaxWorkers = clamp(&warnings, "max_workers", c.MaxWorkers, 1, 64)
	c.EventQueueSize = clamp(&warnings, "event_queue_size", c.EventQueueSize, 1, 10000)

	for _, w := range warnings {
		slog.Warn("config validation", "error", w)
	}
	return ValidationResult{Fatals: errs, Warnings: warnings}
}

func clamp(warnings *[]error, key string, v, lo, hi int) int {
	switch {
	case v < lo:
		*warnings = append(*warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	case v > hi:
		*warnings = append(*warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
