// Package config provides Viper-based hierarchical configuration management
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	IMAP struct {
		Server        string `mapstructure:"server" yaml:"server"`
		Port          int    `mapstructure:"port" yaml:"port"`
		Username      string `mapstructure:"username" yaml:"username"`
		Password      string `mapstructure:"password" yaml:"-"` // Never serialize credentials
		Mailbox       string `mapstructure:"mailbox" yaml:"mailbox"`
		UseSSL        bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
		SubjectFilter string `mapstructure:"subject_filter" yaml:"subject_filter"`
		FetchLimit    int    `mapstructure:"fetch_limit" yaml:"fetch_limit"`
	} `mapstructure:"imap" yaml:"imap"`

	Processing struct {
		ScratchDir      string            `mapstructure:"scratch_dir" yaml:"scratch_dir"`
		FilterColumn    string            `mapstructure:"filter_column" yaml:"filter_column"`
		FilterValue     string            `mapstructure:"filter_value" yaml:"filter_value"`
		Columns         map[string]string `mapstructure:"columns" yaml:"columns"`
		DefaultCurrency string            `mapstructure:"default_currency" yaml:"default_currency"`
	} `mapstructure:"processing" yaml:"processing"`

	Browser struct {
		Headless        bool `mapstructure:"headless" yaml:"headless"`
		PageTimeout     int  `mapstructure:"page_timeout" yaml:"page_timeout"`
		DownloadTimeout int  `mapstructure:"download_timeout" yaml:"download_timeout"`
		MaxAttempts     int  `mapstructure:"max_attempts" yaml:"max_attempts"`
	} `mapstructure:"browser" yaml:"browser"`

	Webhook struct {
		URL         string `mapstructure:"url" yaml:"url"`
		Token       string `mapstructure:"token" yaml:"-"` // Never serialize credentials
		Timeout     int    `mapstructure:"timeout" yaml:"timeout"`
		MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	} `mapstructure:"webhook" yaml:"webhook"`

	Schedule struct {
		Timezone   string `mapstructure:"timezone" yaml:"timezone"`
		Hour       int    `mapstructure:"hour" yaml:"hour"`
		Minute     int    `mapstructure:"minute" yaml:"minute"`
		RunOnStart bool   `mapstructure:"run_on_start" yaml:"run_on_start"`
	} `mapstructure:"schedule" yaml:"schedule"`

	Tracking struct {
		File string `mapstructure:"file" yaml:"file"`
	} `mapstructure:"tracking" yaml:"tracking"`
}

// PageTimeout returns the browser page-load timeout as a duration.
func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.Browser.PageTimeout) * time.Second
}

// DownloadTimeout returns the download-completion timeout as a duration.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Browser.DownloadTimeout) * time.Second
}

// WebhookTimeout returns the per-request webhook timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.Timeout) * time.Second
}

// InitializeConfig initializes Viper configuration with hierarchical loading
func InitializeConfig() (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.email-processor")
	v.AddConfigPath(".email-processor")
	v.AddConfigPath(".")

	// 3. Environment variables
	v.SetEnvPrefix("EPP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 4. Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Log the error but don't fail - continue with defaults and env vars
			fmt.Printf("Warning: error reading config file %s: %v\n", v.ConfigFileUsed(), err)
		}
		// Config file not found or invalid is OK, we'll use defaults and env vars
	}

	// 5. Credentials are commonly passed unprefixed in deployments
	for key, env := range map[string]string{
		"imap.password": "IMAP_PASSWORD",
		"webhook.token": "WEBHOOK_TOKEN",
	} {
		if err := v.BindEnv(key, env); err != nil {
			fmt.Printf("Warning: failed to bind %s environment variable: %v\n", env, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 6. Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// IMAP defaults. Required keys default to empty so environment
	// overrides are visible to Unmarshal.
	v.SetDefault("imap.server", "")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.use_ssl", true)
	v.SetDefault("imap.subject_filter", "")
	v.SetDefault("imap.fetch_limit", 10)

	// Processing defaults
	v.SetDefault("processing.filter_column", "")
	v.SetDefault("processing.filter_value", "")
	v.SetDefault("processing.scratch_dir", "")
	v.SetDefault("processing.default_currency", "RUB")
	v.SetDefault("processing.columns", map[string]string{})

	// Browser defaults
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.page_timeout", 30)
	v.SetDefault("browser.download_timeout", 60)
	v.SetDefault("browser.max_attempts", 3)

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.token", "")
	v.SetDefault("webhook.timeout", 30)
	v.SetDefault("webhook.max_attempts", 3)

	// Schedule defaults
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.hour", 9)
	v.SetDefault("schedule.minute", 0)
	v.SetDefault("schedule.run_on_start", false)

	// Tracking defaults
	v.SetDefault("tracking.file", "data/processed.jsonl")
}

// requiredColumns are the payment fields a column mapping must cover.
var requiredColumns = []string{"transaction_id", "customer_id", "amount", "date"}

// validateConfig validates the configuration values
func validateConfig(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	// Validate log format
	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", config.Log.Format)
	}

	// Connection settings have no usable defaults
	if config.IMAP.Server == "" {
		return fmt.Errorf("imap.server is required")
	}
	if config.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if config.IMAP.Password == "" {
		return fmt.Errorf("imap.password is required (set IMAP_PASSWORD)")
	}
	if config.IMAP.Port < 1 || config.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port must be between 1 and 65535, got: %d", config.IMAP.Port)
	}

	if config.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required")
	}
	if config.Webhook.Token == "" {
		return fmt.Errorf("webhook.token is required (set WEBHOOK_TOKEN)")
	}
	if config.Webhook.MaxAttempts < 1 {
		return fmt.Errorf("webhook.max_attempts must be at least 1, got: %d", config.Webhook.MaxAttempts)
	}

	if config.Processing.FilterColumn == "" {
		return fmt.Errorf("processing.filter_column is required")
	}
	if config.Processing.FilterValue == "" {
		return fmt.Errorf("processing.filter_value is required")
	}
	for _, field := range requiredColumns {
		if config.Processing.Columns[field] == "" {
			return fmt.Errorf("processing.columns.%s is required", field)
		}
	}

	if config.Browser.MaxAttempts < 1 {
		return fmt.Errorf("browser.max_attempts must be at least 1, got: %d", config.Browser.MaxAttempts)
	}

	if config.Schedule.Hour < 0 || config.Schedule.Hour > 23 {
		return fmt.Errorf("schedule.hour must be between 0 and 23, got: %d", config.Schedule.Hour)
	}
	if config.Schedule.Minute < 0 || config.Schedule.Minute > 59 {
		return fmt.Errorf("schedule.minute must be between 0 and 59, got: %d", config.Schedule.Minute)
	}
	if _, err := time.LoadLocation(config.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid schedule.timezone: %s", config.Schedule.Timezone)
	}

	return nil
}

// ConfigureLoggingFromConfig configures logging based on the Config struct
func ConfigureLoggingFromConfig(config *Config) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(config.Log.Level))
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", config.Log.Level)
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if config.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
