package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var (
	validBackends     = []string{BackendMemory, BackendSQLite}
	validPlaidEnvs    = []string{"sandbox", "development", "production"}
	validLogLevels    = []string{"debug", "info", "warn", "warning", "error"}
	minRecurringEvery = time.Minute
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Database
	DataBackend  string
	SQLiteDBPath string

	// AMQP (optional; webhooks sync inline without it)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Plaid
	PlaidClientID   string
	PlaidSecret     string
	PlaidEnv        string
	PlaidWebhookURL string

	// Scheduling
	Timezone          string
	RecurringInterval time.Duration
	LogLevel          string
}

var defaults = map[string]any{
	"PORT":                         "8081",
	"RATE_LIMIT_PER_MINUTE":        60,
	"DATA_BACKEND":                 BackendSQLite,
	"SQLITE_DB_PATH":               "./data/bizxpense.db",
	"AMQP_URL":                     "",
	"AMQP_EXCHANGE":                "bizxpense",
	"AMQP_QUEUE":                   "plaid_sync",
	"PLAID_CLIENT_ID":              "",
	"PLAID_SECRET":                 "",
	"PLAID_ENV":                    "sandbox",
	"PLAID_WEBHOOK_URL":            "",
	"APP_TIMEZONE":                 "Local",
	"RECURRING_PROCESSOR_INTERVAL": "1h",
	"LOG_LEVEL":                    "info",
}

// Load reads configuration from the environment, layered over an optional
// config file named by CONFIG_FILE. Unparseable numbers and durations fall
// back to their defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:               v.GetString("PORT"),
		RateLimitPerMinute: getInt(v, "RATE_LIMIT_PER_MINUTE"),

		DataBackend:  strings.ToLower(v.GetString("DATA_BACKEND")),
		SQLiteDBPath: v.GetString("SQLITE_DB_PATH"),

		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),
		AMQPQueue:    v.GetString("AMQP_QUEUE"),

		PlaidClientID:   v.GetString("PLAID_CLIENT_ID"),
		PlaidSecret:     v.GetString("PLAID_SECRET"),
		PlaidEnv:        strings.ToLower(v.GetString("PLAID_ENV")),
		PlaidWebhookURL: v.GetString("PLAID_WEBHOOK_URL"),

		Timezone:          v.GetString("APP_TIMEZONE"),
		RecurringInterval: getDuration(v, "RECURRING_PROCESSOR_INTERVAL"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
	}
	return cfg, nil
}

func getInt(v *viper.Viper, key string) int {
	if i, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
		return i
	}
	return defaults[key].(int)
}

func getDuration(v *viper.Viper, key string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

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

	if !slices.Contains(validPlaidEnvs, c.PlaidEnv) {
		errors = append(errors, fmt.Sprintf("invalid Plaid environment '%s': must be one of %v", c.PlaidEnv, validPlaidEnvs))
	}
	if c.PlaidWebhookURL != "" {
		if u, err := url.Parse(c.PlaidWebhookURL); err != nil || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid Plaid webhook URL '%s'", c.PlaidWebhookURL))
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.RecurringInterval < minRecurringEvery {
		errors = append(errors, fmt.Sprintf("invalid recurring processor interval %v: must be at least 1 minute", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring processor interval %v: must be at most 24 hours", c.RecurringInterval))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// RequirePlaid reports missing aggregator credentials for commands that talk to Plaid.
func (c *Config) RequirePlaid() error {
	var missing []string
	if c.PlaidClientID == "" {
		missing = append(missing, "PLAID_CLIENT_ID")
	}
	if c.PlaidSecret == "" {
		missing = append(missing, "PLAID_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing Plaid credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the timezone used to decide "today". Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
