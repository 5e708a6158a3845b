// Package config loads server configuration.
//
// Values come from defaults, then an optional YAML file, then command line
// flags and their environment variables (applied by the cli package).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DevJWTSecret is used when no secret is configured. Validate rejects it
// unless AllowInsecureSecret is set.
const DevJWTSecret = "recipebox-dev-secret-change-in-production"

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Media    MediaConfig    `yaml:"media"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// TrustedProxies lists peers whose X-Forwarded-For header is believed.
	// Empty means the client IP is always the connection's remote address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	DSN          string        `yaml:"dsn"`
	WaitAttempts int           `yaml:"wait_attempts"`
	WaitDelay    time.Duration `yaml:"wait_delay"`
}

type AuthConfig struct {
	JWTSecret           string        `yaml:"jwt_secret"`
	TokenTTL            time.Duration `yaml:"token_ttl"`
	AllowInsecureSecret bool          `yaml:"allow_insecure_secret"`
	// Requests per minute per client IP on the token endpoint.
	TokenRateLimit int `yaml:"token_rate_limit"`
	TokenBurst     int `yaml:"token_burst"`
}

type MediaConfig struct {
	Root           string        `yaml:"root"`
	URLPrefix      string        `yaml:"url_prefix"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	SweepSchedule  string        `yaml:"sweep_schedule"`
	SweepGrace     time.Duration `yaml:"sweep_grace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			DSN:          "recipebox.db",
			WaitAttempts: 30,
			WaitDelay:    time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:      DevJWTSecret,
			TokenTTL:       24 * time.Hour,
			TokenRateLimit: 20,
			TokenBurst:     5,
		},
		Media: MediaConfig{
			Root:           "media",
			URLPrefix:      "/media",
			MaxUploadBytes: 10 << 20,
			SweepSchedule:  "@every 1h",
			SweepGrace:     time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if c.Auth.JWTSecret == DevJWTSecret && !c.Auth.AllowInsecureSecret {
		errs = append(errs, errors.New("auth.jwt_secret must be changed from the development default"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Media.Root == "" {
		errs = append(errs, errors.New("media.root is required"))
	}
	if c.Media.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("media.max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}
