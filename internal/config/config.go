package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// DotenvFile is read from the working directory on Load when present.
// Variables already set in the environment win over the file.
const DotenvFile = ".env"

type Config struct {
	AuthToken              string   `mapstructure:"auth_token" yaml:"-"`
	ServerAddress          string   `mapstructure:"server_address" yaml:"server_address"`
	ServerPort             int      `mapstructure:"server_port" yaml:"server_port"`
	TOTPSecret             string   `mapstructure:"totp_secret" yaml:"-"`
	TOTPIssuer             string   `mapstructure:"totp_issuer" yaml:"totp_issuer"`
	AlertSubscribers       []string `mapstructure:"alert_subscribers" yaml:"alert_subscribers"`
	CheckIntervalSeconds   int      `mapstructure:"check_interval_seconds" yaml:"check_interval_seconds"`
	ProbeTimeoutSeconds    int      `mapstructure:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	ErrorMessageTTLSeconds int      `mapstructure:"error_message_ttl_seconds" yaml:"error_message_ttl_seconds"`
	AdminCommand           string   `mapstructure:"admin_command" yaml:"admin_command"`
	AdminGreeting          string   `mapstructure:"admin_greeting" yaml:"admin_greeting"`
	MaxWorkers             int      `mapstructure:"max_workers" yaml:"max_workers"`
	EventQueueSize         int      `mapstructure:"event_queue_size" yaml:"event_queue_size"`
	LogLevel               string   `mapstructure:"log_level" yaml:"log_level"`
	LogFormat              string   `mapstructure:"log_format" yaml:"log_format"`
	LogFile                string   `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogMaxSizeMB           int      `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups          int      `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	AuditFile              string   `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
	AuditMaxSizeMB         int      `mapstructure:"audit_max_size_mb" yaml:"audit_max_size_mb"`
	AuditMaxBackups        int      `mapstructure:"audit_max_backups" yaml:"audit_max_backups"`
}

func Default() *Config {
	return &Config{
		TOTPIssuer:             "gatewatch",
		CheckIntervalSeconds:   60,
		ProbeTimeoutSeconds:    5,
		ErrorMessageTTLSeconds: 5,
		AdminCommand:           "/admin",
		AdminGreeting:          "Welcome back.",
		MaxWorkers:             8,
		EventQueueSize:         64,
		LogLevel:               "info",
		LogFormat:              "text",
		LogMaxSizeMB:           20,
		LogMaxBackups:          3,
		AuditMaxSizeMB:         20,
		AuditMaxBackups:        5,
	}
}

// legacyEnv maps config keys to the environment names used by the older
// .env layout, so an existing deployment keeps working unchanged.
var legacyEnv = map[string]string{
	"auth_token":             "DISCORD_TOKEN",
	"server_address":         "SERVER_IP",
	"server_port":            "SERVER_PORT",
	"totp_secret":            "TOTP_SECRET",
	"alert_subscribers":      "ALERT_USERS",
	"check_interval_seconds": "CHECK_INTERVAL",
}

// Load reads configuration from the environment, an optional .env file in
// the working directory and an optional YAML file.
func Load(cfgFile string) (*Config, error) {
	return LoadWithDotenv(cfgFile, DotenvFile)
}

// LoadWithDotenv is Load with an explicit dotenv path ("" disables it).
func LoadWithDotenv(cfgFile, dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := gotenv.Load(dotenvPath); err != nil {
				return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
			}
		}
	}

	v := viper.New()
	v.SetEnvPrefix("GATEWATCH")
	v.AutomaticEnv()

	cfg := Default()
	for key, val := range defaultsMap(cfg) {
		v.SetDefault(key, val)
	}
	for _, key := range keys() {
		names := []string{key, "GATEWATCH_" + strings.ToUpper(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AlertSubscribers = splitList(cfg.AlertSubscribers)
	cfg.AdminCommand = strings.TrimSpace(cfg.AdminCommand)
	cfg.ServerAddress = strings.TrimSpace(cfg.ServerAddress)
	cfg.TOTPSecret = strings.TrimSpace(cfg.TOTPSecret)
	return cfg, nil
}

// Address returns the monitored endpoint as host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

func (c *Config) ErrorMessageTTL() time.Duration {
	return time.Duration(c.ErrorMessageTTLSeconds) * time.Second
}

func keys() []string {
	return []string{
		"auth_token", "server_address", "server_port", "totp_secret", "totp_issuer",
		"alert_subscribers", "check_interval_seconds", "probe_timeout_seconds",
		"error_message_ttl_seconds", "admin_command", "admin_greeting",
		"max_workers", "event_queue_size",
		"log_level", "log_format", "log_file", "log_max_size_mb", "log_max_backups",
		"audit_file", "audit_max_size_mb", "audit_max_backups",
	}
}

func defaultsMap(cfg *Config) map[string]any {
	return map[string]any{
		"totp_issuer":               cfg.TOTPIssuer,
		"check_interval_seconds":    cfg.CheckIntervalSeconds,
		"probe_timeout_seconds":     cfg.ProbeTimeoutSeconds,
		"error_message_ttl_seconds": cfg.ErrorMessageTTLSeconds,
		"admin_command":             cfg.AdminCommand,
		"admin_greeting":            cfg.AdminGreeting,
		"max_workers":               cfg.MaxWorkers,
		"event_queue_size":          cfg.EventQueueSize,
		"log_level":                 cfg.LogLevel,
		"log_format":                cfg.LogFormat,
		"log_max_size_mb":           cfg.LogMaxSizeMB,
		"log_max_backups":           cfg.LogMaxBackups,
		"audit_max_size_mb":         cfg.AuditMaxSizeMB,
		"audit_max_backups":         cfg.AuditMaxBackups,
	}
}

// splitList accepts both YAML lists and comma-separated strings and drops
// blank entries.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
