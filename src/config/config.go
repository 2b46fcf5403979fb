package config

import (
	"fmt"
	"os"
	"regexp"

	"aggr-server/src/models"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in the storage list.
var knownStorages = map[string]bool{
	"sqlite":   true,
	"postgres": true,
}

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	modelConfig := defaults()
	if err := yaml.Unmarshal(data, modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: modelConfig}

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// defaults returns an MConfig pre-populated with the standing defaults;
// YAML unmarshalling overrides whatever the file sets.
func defaults() *models.MConfig {
	return &models.MConfig{
		Name:                  "aggr-server",
		Host:                  "0.0.0.0",
		LogLevel:              "INFO",
		BackupInterval:        10000,
		RateLimitTimeWindow:   15000,
		RateLimitMax:          30,
		MaxFetchLength:        100000,
		MonitorInterval:       10000,
		ReconnectionThreshold: 30000,
		Origin:                ".*",
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// The HTTP API cannot start without a listen port
	if c.API {
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid server port number: %d", c.Port)
		}
		if c.Host == "" {
			return fmt.Errorf("server host cannot be empty")
		}
	}

	// Validate storage list
	for _, name := range c.Storage {
		if !knownStorages[name] {
			return fmt.Errorf("unknown storage backend '%s'", name)
		}
	}
	if len(c.Storage) > 0 {
		if contains(c.Storage, "sqlite") && c.DB.SQLitePath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
		if contains(c.Storage, "postgres") && c.DB.PostgresDSN == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
		if c.BackupInterval <= 0 {
			return fmt.Errorf("backup interval must be greater than 0")
		}
	}

	// Validate broadcast configuration
	if c.Broadcast {
		if c.BroadcastAggr && c.BroadcastDebounce > 0 {
			return fmt.Errorf("broadcast_aggr and broadcast_debounce are mutually exclusive")
		}
		if c.BroadcastDebounce < 0 {
			return fmt.Errorf("broadcast debounce cannot be negative")
		}
	}

	// Validate monitored pairs
	if c.Collect && len(c.Pairs) == 0 {
		return fmt.Errorf("at least one pair must be configured")
	}
	for i, pair := range c.Pairs {
		if _, _, ok := models.SplitMarket(pair); !ok {
			return fmt.Errorf("pair %d ('%s') is not of the form EXCHANGE:pair", i, pair)
		}
	}

	// Validate policy options
	if c.Origin != "" {
		if _, err := regexp.Compile(c.Origin); err != nil {
			return fmt.Errorf("invalid origin pattern: %w", err)
		}
	}
	if c.EnableRateLimit {
		if c.RateLimitTimeWindow <= 0 {
			return fmt.Errorf("rate limit time window must be greater than 0")
		}
		if c.RateLimitMax <= 0 {
			return fmt.Errorf("rate limit max must be greater than 0")
		}
	}

	// Validate supervision options
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be greater than 0")
	}
	if c.ReconnectionThreshold <= 0 {
		return fmt.Errorf("reconnection threshold must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
