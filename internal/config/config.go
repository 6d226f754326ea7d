package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config represents the application configuration
type Config struct {
	// Server configuration
	LogLevel         string `mapstructure:"log_level"`
	BindAddress      string `mapstructure:"bind_address"`
	RequestBodyLimit int64  `mapstructure:"request_body_limit"`

	// Evaluation limits
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	CompileTimeout    time.Duration `mapstructure:"compile_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	MaxCallStackSize  int           `mapstructure:"max_call_stack_size"`
	OutputMaxSize     int           `mapstructure:"output_max_size"`
	MaxTestCases      int           `mapstructure:"max_test_cases"`
	MaxSourceSize     int           `mapstructure:"max_source_size"`

	// Submission contract
	DefaultEntryPoint string `mapstructure:"default_entry_point"`

	// Challenge catalog (URL or local JSON file)
	CatalogURL string `mapstructure:"catalog_url"`
}

// Load loads configuration from .env, environment variables and config files
func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	// Set default values
	v.SetDefault("log_level", "INFO")
	v.SetDefault("bind_address", getEnvOrDefault("PORT", "2000"))
	v.SetDefault("request_body_limit", 1<<20) // 1MB
	v.SetDefault("max_concurrent_jobs", 64)
	v.SetDefault("compile_timeout", "10s")
	v.SetDefault("run_timeout", "3s")
	v.SetDefault("max_call_stack_size", 1024)
	v.SetDefault("output_max_size", 1024)
	v.SetDefault("max_test_cases", 256)
	v.SetDefault("max_source_size", 64*1024)
	v.SetDefault("default_entry_point", "solution")
	v.SetDefault("catalog_url", "")

	// Set environment variable prefix
	v.SetEnvPrefix("CODERUNR")
	v.AutomaticEnv()

	// Try to read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coderunr/")
	v.AddConfigPath("$HOME/.coderunr/")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the built-in defaults without reading the environment
func Default() *Config {
	return &Config{
		LogLevel:          "INFO",
		BindAddress:       "0.0.0.0:2000",
		RequestBodyLimit:  1 << 20,
		MaxConcurrentJobs: 64,
		CompileTimeout:    10 * time.Second,
		RunTimeout:        3 * time.Second,
		MaxCallStackSize:  1024,
		OutputMaxSize:     1024,
		MaxTestCases:      256,
		MaxSourceSize:     64 * 1024,
		DefaultEntryPoint: "solution",
	}
}

// validate validates the configuration
func validate(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	// Validate numeric ranges
	if config.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive")
	}

	if config.CompileTimeout <= 0 {
		return fmt.Errorf("compile_timeout must be positive")
	}

	if config.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be positive")
	}

	if config.MaxCallStackSize <= 0 {
		return fmt.Errorf("max_call_stack_size must be positive")
	}

	if !identifierPattern.MatchString(config.DefaultEntryPoint) {
		return fmt.Errorf("default_entry_point is not a valid identifier: %q", config.DefaultEntryPoint)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(env, defaultValue string) string {
	if value := os.Getenv(env); value != "" {
		return "0.0.0.0:" + value
	}
	return "0.0.0.0:" + defaultValue
}

// GetBindAddress returns the complete bind address
func (c *Config) GetBindAddress() string {
	if c.BindAddress == "" {
		return "0.0.0.0:2000"
	}
	return c.BindAddress
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// IsIdentifier reports whether name can be used as an entry point
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}
