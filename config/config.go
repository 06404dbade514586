// Package config loads application configuration from an optional YAML file
// plus environment variables. Environment values win, so deployments can
// override a checked-in config file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Operator is one provisioned operator login.
type Operator struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

// Config holds all application configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "json" or "text"
	DatabaseURL string `yaml:"database_url"`

	FeePercent       float64       `yaml:"fee_percent"`
	TokenTTL         time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`
	DispatchInterval time.Duration `yaml:"-"`

	Brand string `yaml:"brand"`
	UPIID string `yaml:"upi_id"`

	JWTSecret string     `yaml:"jwt_secret"`
	Operators []Operator `yaml:"operators"`
}

// durations shadows the duration fields with their YAML string forms, since
// yaml.v3 does not decode "12h" into a time.Duration.
type durations struct {
	TokenTTL         string `yaml:"token_ttl"`
	SweepInterval    string `yaml:"sweep_interval"`
	DispatchInterval string `yaml:"dispatch_interval"`
}

const (
	DefaultListenAddr       = ":8080"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultFeePercent       = 6.0
	DefaultTokenTTL         = 48 * time.Hour
	DefaultSweepInterval    = time.Minute
	DefaultDispatchInterval = time.Second
	DefaultBrand            = "EscrowFlow"
)

// Load reads the YAML file at path (skipped when path is empty or the file is
// absent), then applies environment overrides. A .env file is loaded first
// for local development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       DefaultListenAddr,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		FeePercent:       DefaultFeePercent,
		TokenTTL:         DefaultTokenTTL,
		SweepInterval:    DefaultSweepInterval,
		DispatchInterval: DefaultDispatchInterval,
		Brand:            DefaultBrand,
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			var d durations
			if err := yaml.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			if err := d.apply(cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (d durations) apply(cfg *Config) error {
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{d.TokenTTL, &cfg.TokenTTL},
		{d.SweepInterval, &cfg.SweepInterval},
		{d.DispatchInterval, &cfg.DispatchInterval},
	} {
		if f.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(f.raw)
		if err != nil {
			return err
		}
		*f.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Brand, "BRAND")
	setString(&c.UPIID, "UPI_ID")
	setString(&c.JWTSecret, "JWT_SECRET")
	setFloat(&c.FeePercent, "FEE_PERCENT")
	setDuration(&c.TokenTTL, "TOKEN_TTL")
	setDuration(&c.SweepInterval, "SWEEP_INTERVAL")
	setDuration(&c.DispatchInterval, "DISPATCH_INTERVAL")

	// A single operator can be provisioned entirely from the environment.
	if name := os.Getenv("OPERATOR_NAME"); name != "" {
		if hash := os.Getenv("OPERATOR_PASSWORD_HASH"); hash != "" {
			c.Operators = append(c.Operators, Operator{Name: name, PasswordHash: hash})
		}
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.FeePercent < 0 || c.FeePercent > 100 {
		return fmt.Errorf("config: fee_percent %v out of range", c.FeePercent)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token_ttl must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
