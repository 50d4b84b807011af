package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file and applies environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if exists
	if configPath != "" {
		if err := loadFromYAML(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}

	// Bot endpoints
	if v := os.Getenv("BOT_BASE_URL"); v != "" {
		cfg.Bot.BaseURL = v
	}
	if v := os.Getenv("BOT_WS_PATH"); v != "" {
		cfg.Bot.WSPath = v
	}
	if v := os.Getenv("BOT_REQUEST_TIMEOUT"); v != "" {
		cfg.Bot.RequestTimeout = v
	}

	// Realtime channel
	if v := os.Getenv("RECONNECT_POLICY"); v != "" {
		cfg.Realtime.ReconnectPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("RECONNECT_DELAY"); v != "" {
		cfg.Realtime.ReconnectDelay = v
	}
	if v := os.Getenv("MAX_RECONNECT_WAIT"); v != "" {
		cfg.Realtime.MaxReconnectWait = v
	}

	// Poller
	if v := os.Getenv("POLLER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Poller.Enabled = b
		}
	}
	if v := os.Getenv("STATUS_POLL_INTERVAL"); v != "" {
		cfg.Poller.StatusInterval = v
	}
	if v := os.Getenv("STATS_POLL_INTERVAL"); v != "" {
		cfg.Poller.StatsInterval = v
	}

	// Database
	if v := os.Getenv("DB_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Enabled = b
		}
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}

	// RabbitMQ
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}
	if v := os.Getenv("RABBITMQ_EXCHANGE"); v != "" {
		cfg.RabbitMQ.Exchange = v
	}

	// Scheduler
	if v, ok := os.LookupEnv("SNAPSHOT_CRON"); ok {
		cfg.Scheduler.SnapshotCron = v
	}
	if v, ok := os.LookupEnv("RESET_CRON"); ok {
		cfg.Scheduler.ResetCron = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logging.OutputPath = v
	}
}

// MustLoad loads configuration and panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
