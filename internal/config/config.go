// Package config loads application configuration from a YAML file and
// CONDOFLOW_* environment variables, with sane defaults for local runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for all binaries.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Server      ServerConfig      `mapstructure:"server"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Auth        AuthConfig        `mapstructure:"auth"`
	MagicCode   MagicCodeConfig   `mapstructure:"magic_code"`
	FollowUp    FollowUpConfig    `mapstructure:"follow_up"`
	Log         LogConfig         `mapstructure:"log"`
}

type ApplicationConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// PostgresConfig describes the database connection. An empty Host selects
// the in-memory store, which is useful for local development and tests.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN renders the connection string for the stdlib pgx driver.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

type AuthConfig struct {
	// AdminJWTSecret signs and verifies admin bearer tokens (HS256).
	AdminJWTSecret string        `mapstructure:"admin_jwt_secret"`
	AdminTokenTTL  time.Duration `mapstructure:"admin_token_ttl"`
}

type MagicCodeConfig struct {
	CodeTTL        time.Duration `mapstructure:"code_ttl"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	MaxFailures    int           `mapstructure:"max_failures"`
	UsageThreshold int           `mapstructure:"usage_threshold"`
	// RevokeOnIssue revokes a supplier's previous codes when issuing a new one.
	RevokeOnIssue bool `mapstructure:"revoke_on_issue"`
}

type FollowUpConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	AdminEmail    string        `mapstructure:"admin_email"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads condoflow.yaml if present, then overlays CONDOFLOW_* environment
// variables (dots become underscores, e.g. CONDOFLOW_SERVER_ADDR).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("condoflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("configs")
	v.AddConfigPath("/etc/condoflow")

	v.SetEnvPrefix("condoflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.name", "condoflow")
	v.SetDefault("application.version", "dev")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)

	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "condoflow")
	v.SetDefault("postgres.dbname", "condoflow")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", "1h")
	v.SetDefault("postgres.conn_max_idle_time", "5m")

	v.SetDefault("auth.admin_token_ttl", "12h")

	v.SetDefault("magic_code.code_ttl", "336h")
	v.SetDefault("magic_code.session_ttl", "30m")
	v.SetDefault("magic_code.grace_period", "5m")
	v.SetDefault("magic_code.rate_window", "1m")
	v.SetDefault("magic_code.max_failures", 5)
	v.SetDefault("magic_code.usage_threshold", 100)
	v.SetDefault("magic_code.revoke_on_issue", false)

	v.SetDefault("follow_up.sweep_interval", "1m")
	v.SetDefault("follow_up.batch_size", 100)
	v.SetDefault("follow_up.admin_email", "ops@condoflow.io")

	v.SetDefault("log.level", "info")
}

func (c *Config) validate() error {
	if c.Auth.AdminJWTSecret == "" {
		return errors.New("config: auth.admin_jwt_secret is required")
	}
	if c.Postgres.Host != "" && c.Postgres.Password == "" {
		return errors.New("config: postgres.password is required when postgres.host is set")
	}
	return nil
}
