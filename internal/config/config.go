// Package config holds the typed service configuration. It is loaded
// from one YAML file and validated once at startup; components receive
// the sub-struct they need, never the raw file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Intake      IntakeConfig      `mapstructure:"intake"`
	Store       StoreConfig       `mapstructure:"store"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Webrecorder WebrecorderConfig `mapstructure:"webrecorder"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Runner      RunnerConfig      `mapstructure:"runner"`
}

// IntakeConfig locates the descriptor drop directory.
type IntakeConfig struct {
	Dir string `mapstructure:"dir"`
}

// StoreConfig selects the record store driver and connection string.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ArchiveConfig locates the artifact spool and permanent storage.
type ArchiveConfig struct {
	SpoolDir   string `mapstructure:"spool_dir"`
	StorageDir string `mapstructure:"storage_dir"`
}

// CaptureConfig bounds the web capture engine.
type CaptureConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// SMTPConfig configures outbound notification delivery.
type SMTPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	AuthType   string `mapstructure:"auth_type"`
	TLSMode    string `mapstructure:"tls_mode"`
	SkipVerify bool   `mapstructure:"skip_verify"`
	From       string `mapstructure:"from"`
	ReplyTo    string `mapstructure:"reply_to"`
}

// EffectiveTLSMode normalizes the TLS mode for outbound SMTP connections.
// Supported values: "none", "starttls", "smtps" (implicit TLS).
func (c *SMTPConfig) EffectiveTLSMode() string {
	switch strings.ToLower(strings.TrimSpace(c.TLSMode)) {
	case "starttls", "tls":
		return "starttls"
	case "smtps", "implicit":
		return "smtps"
	default:
		return "none"
	}
}

// WebrecorderConfig points at the external archival-hosting system.
// An empty endpoint disables the trigger.
type WebrecorderConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuditConfig locates the audit dump directory.
type AuditConfig struct {
	Dir string `mapstructure:"dir"`
}

// RunnerConfig controls batch scheduling and per-ticket bounds.
type RunnerConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	TicketTimeout time.Duration `mapstructure:"ticket_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("archive.spool_dir", "spool")
	v.SetDefault("archive.storage_dir", "storage")
	v.SetDefault("audit.dir", "audit")
	v.SetDefault("capture.timeout", time.Minute)
	v.SetDefault("capture.user_agent", "ticketd/1.0")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.auth_type", "plain")
	v.SetDefault("webrecorder.timeout", 30*time.Second)
	v.SetDefault("runner.schedule", "@every 15m")
	v.SetDefault("runner.ticket_timeout", 5*time.Minute)
	v.SetDefault("runner.retention", 72*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields every run needs.
func (c *Config) Validate() error {
	if c.Intake.Dir == "" {
		return fmt.Errorf("intake.dir is required")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required when smtp is enabled")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required when smtp is enabled")
		}
	}
	if c.Runner.Retention <= 0 {
		return fmt.Errorf("runner.retention must be positive")
	}
	return nil
}
