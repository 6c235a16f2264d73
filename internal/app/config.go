package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the PayDesk backend.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Security      SecurityConfig      `mapstructure:"security"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Auth          AuthConfig          `mapstructure:"auth"`
	StepUp        StepUpConfig        `mapstructure:"step_up"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Impersonation ImpersonationConfig `mapstructure:"impersonation"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SecurityConfig documents encryption requirements for stored TOTP secrets.
// Either a raw key is supplied, or a passphrase plus salt from which the key
// is derived with Argon2id.
type SecurityConfig struct {
	EncryptionKey        string `mapstructure:"encryption_key"`
	EncryptionPassphrase string `mapstructure:"encryption_passphrase"`
	EncryptionSalt       string `mapstructure:"encryption_salt"`
	Algorithm            string `mapstructure:"algorithm"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Session SessionSettings `mapstructure:"session"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
}

// StepUpConfig controls verification freshness windows and challenge limits.
type StepUpConfig struct {
	Window           time.Duration `mapstructure:"window"`
	SuperAdminWindow time.Duration `mapstructure:"super_admin_window"`
	ChallengeTTL     time.Duration `mapstructure:"challenge_ttl"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
}

// AuditConfig controls ledger retention.
type AuditConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// ImpersonationConfig bounds support-access sessions.
type ImpersonationConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// AlertsConfig controls the background alert evaluator.
type AlertsConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// Step-up windows are clamped so a tenant cannot configure a window short
// enough to be useless or long enough to defeat re-verification.
const (
	MinStepUpWindow = 2 * time.Minute
	MaxStepUpWindow = 15 * time.Minute
)

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints that defaults alone cannot enforce.
func (c *Config) Validate() error {
	if c.StepUp.Window < MinStepUpWindow || c.StepUp.Window > MaxStepUpWindow {
		return fmt.Errorf("config: step_up.window %s outside [%s, %s]", c.StepUp.Window, MinStepUpWindow, MaxStepUpWindow)
	}
	if c.StepUp.SuperAdminWindow < MinStepUpWindow || c.StepUp.SuperAdminWindow > MaxStepUpWindow {
		return fmt.Errorf("config: step_up.super_admin_window %s outside [%s, %s]", c.StepUp.SuperAdminWindow, MinStepUpWindow, MaxStepUpWindow)
	}
	if c.StepUp.SuperAdminWindow > c.StepUp.Window {
		return fmt.Errorf("config: step_up.super_admin_window must not exceed step_up.window")
	}
	if c.StepUp.MaxAttempts <= 0 {
		return fmt.Errorf("config: step_up.max_attempts must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("config: audit.retention_days must be positive")
	}
	if c.Impersonation.MaxDuration <= 0 {
		return fmt.Errorf("config: impersonation.max_duration must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/paydesk.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("security.algorithm", "aes-256-gcm")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.jwt.issuer", "paydesk")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.session.refresh_token_ttl", "720h") // 30 days
	v.SetDefault("auth.session.refresh_token_length", 48)

	v.SetDefault("step_up.window", "5m")
	v.SetDefault("step_up.super_admin_window", "5m")
	v.SetDefault("step_up.challenge_ttl", "2m")
	v.SetDefault("step_up.max_attempts", 5)

	v.SetDefault("audit.retention_days", 365)

	v.SetDefault("impersonation.max_duration", "30m")

	v.SetDefault("alerts.schedule", "@every 1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
