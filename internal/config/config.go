// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Store struct {
	Path string `env:"DB_PATH" envDefault:"studio-brain.db"`
}

type HTTP struct {
	Addr       string `env:"HTTP_ADDR" envDefault:":8787"`
	AdminToken string `env:"ADMIN_TOKEN"`
}

type Jobs struct {
	Interval          time.Duration `env:"JOB_INTERVAL" envDefault:"15m"`
	Jitter            time.Duration `env:"JOB_JITTER" envDefault:"2m"`
	SourceTimeout     time.Duration `env:"SOURCE_TIMEOUT" envDefault:"10s"`
	RetentionDays     int           `env:"RETENTION_DAYS" envDefault:"90"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"24h"`
}

type Connectors struct {
	HubitatURL   string        `env:"HUBITAT_URL"`
	HubitatToken string        `env:"HUBITAT_TOKEN"`
	BackendURL   string        `env:"BACKEND_URL"`
	BackendToken string        `env:"BACKEND_TOKEN"`
	StaleAfter   time.Duration `env:"DEVICE_STALE_AFTER" envDefault:"30m"`
	CallTimeout  time.Duration `env:"CONNECTOR_TIMEOUT" envDefault:"5s"`
}

// Export configures audit export signing and the optional S3 mirror.
// The mirror is enabled when S3Bucket is set.
type Export struct {
	SigningKey  string `env:"EXPORT_SIGNING_KEY"`
	S3Bucket    string `env:"EXPORT_S3_BUCKET"`
	S3Region    string `env:"EXPORT_S3_REGION"`
	S3Endpoint  string `env:"EXPORT_S3_ENDPOINT"`
	S3PathStyle bool   `env:"EXPORT_S3_PATH_STYLE" envDefault:"false"`
	S3Prefix    string `env:"EXPORT_S3_PREFIX" envDefault:"audit-exports/"`
}

type Config struct {
	Store      Store
	HTTP       HTTP
	Jobs       Jobs
	Connectors Connectors
	Export     Export
	PolicyFile string `env:"POLICY_FILE"`
}

// Prefix is prepended to every variable name.
const Prefix = "STUDIO_BRAIN_"

// Load reads envFile (if it exists) into the process environment and
// parses the configuration. An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parse(env.Options{Prefix: Prefix})
}

// FromMap parses the configuration from environ instead of the process
// environment.
func FromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Jobs.Interval <= 0 {
		return fmt.Errorf("%sJOB_INTERVAL must be positive", Prefix)
	}
	if c.Jobs.Jitter < 0 {
		return fmt.Errorf("%sJOB_JITTER must not be negative", Prefix)
	}
	if c.Jobs.RetentionDays <= 0 {
		return fmt.Errorf("%sRETENTION_DAYS must be positive", Prefix)
	}
	return nil
}

// RequireAdminToken fails when the admin surface would be unauthenticated.
func (c *Config) RequireAdminToken() error {
	if c.HTTP.AdminToken == "" {
		return fmt.Errorf("%sADMIN_TOKEN is required", Prefix)
	}
	return nil
}

// S3Enabled reports whether export bundles are mirrored to S3.
func (c *Config) S3Enabled() bool {
	return c.Export.S3Bucket != ""
}
