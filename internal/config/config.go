package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"piggysaving/internal/core"
)

// EnvConfigFile names an optional YAML file whose values sit between the
// built-in defaults and the environment.
const EnvConfigFile = "PIGGY_CONFIG_FILE"

// CronParser accepts six-field specs with a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	// HTTP Server
	Port string `yaml:"port"`

	// Source of truth
	UsingRemote   bool          `yaml:"using_remote"`
	RemoteBaseURL string        `yaml:"remote_base_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	// Feature flags
	WithdrawalsEnabled bool `yaml:"withdrawals_enabled"`
	Initialized        bool `yaml:"initialized"`

	// Database
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	// AMQP, optional
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`

	// Worker
	RefreshCron   string `yaml:"refresh_cron"`
	SeedCron      string `yaml:"seed_cron"`
	SeedMinAmount string `yaml:"seed_min_amount"`
	SeedMaxAmount string `yaml:"seed_max_amount"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Port:               "8081",
		RemoteTimeout:      10 * time.Second,
		WithdrawalsEnabled: true,
		Initialized:        true,
		SQLiteDBPath:       "./data/piggy.db",
		AMQPExchange:       "piggysaving",
		AMQPQueue:          "model_changed",
		RefreshCron:        "0 */15 * * * *",
		SeedCron:           "0 5 0 * * *",
		SeedMinAmount:      "0.50",
		SeedMaxAmount:      "10.00",
		LogLevel:           "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// PIGGY_CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)

	c.UsingRemote = getEnvBool("USING_REMOTE", c.UsingRemote)
	c.RemoteBaseURL = getEnv("REMOTE_BASE_URL", c.RemoteBaseURL)
	c.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", c.RemoteTimeout)

	c.WithdrawalsEnabled = getEnvBool("WITHDRAWALS_ENABLED", c.WithdrawalsEnabled)
	c.Initialized = getEnvBool("INITIALIZED", c.Initialized)

	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.RefreshCron = getEnv("REFRESH_CRON", c.RefreshCron)
	c.SeedCron = getEnv("SEED_CRON", c.SeedCron)
	c.SeedMinAmount = getEnv("SEED_MIN_AMOUNT", c.SeedMinAmount)
	c.SeedMaxAmount = getEnv("SEED_MAX_AMOUNT", c.SeedMaxAmount)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Core projects the part of the configuration the data store reads.
func (c *Config) Core() core.Config {
	return core.Config{
		UsingRemote:        c.UsingRemote,
		RemoteBaseURL:      c.RemoteBaseURL,
		WithdrawalsEnabled: c.WithdrawalsEnabled,
		Initialized:        c.Initialized,
	}
}

// SeedRange returns the bounds for the daily proposal. Call after Validate.
func (c *Config) SeedRange() (decimal.Decimal, decimal.Decimal) {
	lo, _ := decimal.NewFromString(c.SeedMinAmount)
	hi, _ := decimal.NewFromString(c.SeedMaxAmount)
	return lo, hi
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Source of truth
	if c.UsingRemote {
		if c.RemoteBaseURL == "" {
			errors = append(errors, "REMOTE_BASE_URL is required when USING_REMOTE is true")
		} else if u, err := url.Parse(c.RemoteBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid remote base URL '%s': %v", c.RemoteBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid remote base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		} else if u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid remote base URL '%s': missing host", c.RemoteBaseURL))
		}
	} else if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty in local mode")
	}

	if c.RemoteTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at least 100ms", c.RemoteTimeout))
	} else if c.RemoteTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at most 5 minutes", c.RemoteTimeout))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Schedules
	if _, err := CronParser.Parse(c.RefreshCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid refresh cron '%s': %v", c.RefreshCron, err))
	}
	if _, err := CronParser.Parse(c.SeedCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid seed cron '%s': %v", c.SeedCron, err))
	}

	// Proposal range
	lo, errLo := decimal.NewFromString(c.SeedMinAmount)
	hi, errHi := decimal.NewFromString(c.SeedMaxAmount)
	if errLo != nil {
		errors = append(errors, fmt.Sprintf("invalid seed min amount '%s'", c.SeedMinAmount))
	}
	if errHi != nil {
		errors = append(errors, fmt.Sprintf("invalid seed max amount '%s'", c.SeedMaxAmount))
	}
	if errLo == nil && errHi == nil {
		if lo.IsNegative() {
			errors = append(errors, fmt.Sprintf("invalid seed min amount %s: must not be negative", lo))
		}
		if hi.LessThan(lo) {
			errors = append(errors, fmt.Sprintf("invalid seed range %s-%s: max below min", lo, hi))
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
