// Package config loads application configuration from a YAML file,
// environment variables, and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database Database `mapstructure:"database"`
	AI       AI       `mapstructure:"ai"`
	Fetch    Fetch    `mapstructure:"fetch"`
	Cache    Cache    `mapstructure:"cache"`
	Logging  Logging  `mapstructure:"logging"`
}

// Database holds relational store configuration.
type Database struct {
	URL            string `mapstructure:"url"`
	CommandTimeout string `mapstructure:"command_timeout"`
}

// AI holds LLM configuration for the classifiers and the entity normalizer.
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration.
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     string  `mapstructure:"timeout"`
	Temperature float32 `mapstructure:"temperature"`
}

// Fetch holds HTTP fetcher configuration.
type Fetch struct {
	UserAgent   string `mapstructure:"user_agent"`
	Timeout     string `mapstructure:"timeout"`
	MaxRetries  int    `mapstructure:"max_retries"`
	BackoffBase string `mapstructure:"backoff_base"`
}

// Cache holds entity-cache configuration.
type Cache struct {
	TTL     string `mapstructure:"ttl"`
	MaxSize int    `mapstructure:"max_size"`
}

// Logging holds logging configuration.
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load loads the configuration from various sources.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".watchdog")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("database.command_timeout", "60s")

	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.temperature", 0.1)

	viper.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	viper.SetDefault("fetch.timeout", "30s")
	viper.SetDefault("fetch.max_retries", 3)
	viper.SetDefault("fetch.backoff_base", "2s")

	viper.SetDefault("cache.ttl", "336h") // 14 days
	viper.SetDefault("cache.max_size", 100000)

	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables sets up flexible environment variable binding.
func bindEnvironmentVariables() {
	bindEnvKeys("database.url", []string{
		"DATABASE_URL",
		"POSTGRES_URL",
	})

	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("logging.level", []string{
		"LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key.
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// validateConfig ensures required configuration is present and well-formed.
func validateConfig(config *Config) error {
	var errs []string

	if config.Database.URL == "" {
		errs = append(errs, "database URL is required. Set DATABASE_URL or database.url in the config file")
	}
	if config.AI.Gemini.APIKey == "" {
		errs = append(errs, "Gemini API key is required. Set GEMINI_API_KEY or ai.gemini.api_key in the config file")
	}

	durations := map[string]string{
		"database.command_timeout": config.Database.CommandTimeout,
		"ai.gemini.timeout":        config.AI.Gemini.Timeout,
		"fetch.timeout":            config.Fetch.Timeout,
		"fetch.backoff_base":       config.Fetch.BackoffBase,
		"cache.ttl":                config.Cache.TTL,
	}
	for key, d := range durations {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, fmt.Sprintf("invalid duration for %s: %s", key, d))
		}
	}

	if config.Fetch.MaxRetries < 0 {
		errs = append(errs, "fetch.max_retries must not be negative")
	}
	if config.Cache.MaxSize <= 0 {
		errs = append(errs, "cache.max_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// Duration parses a duration field that has already been validated,
// falling back to the given default when unset.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Reset clears the global configuration (useful for testing).
func Reset() {
	globalConfig = nil
	viper.Reset()
}
