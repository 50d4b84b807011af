// Package config provides configuration management for the dashboard backend.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Poller    PollerConfig    `yaml:"poller"`
	State     StateConfig     `yaml:"state"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the local HTTP server settings.
type ServerConfig struct {
	HTTPPort        int    `yaml:"http_port"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// BotConfig locates the trading bot's REST and push endpoints.
type BotConfig struct {
	BaseURL              string  `yaml:"base_url"`
	WSPath               string  `yaml:"ws_path"`
	RequestTimeout       string  `yaml:"request_timeout"`
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`
}

// RealtimeConfig tunes the push-event channel.
type RealtimeConfig struct {
	ReconnectPolicy  string `yaml:"reconnect_policy"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	MaxReconnectWait string `yaml:"max_reconnect_wait"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	WriteTimeout     string `yaml:"write_timeout"`
	PongWait         string `yaml:"pong_wait"`
}

// PollerConfig tunes the REST polling path.
type PollerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	StatusInterval string `yaml:"status_interval"`
	StatsInterval  string `yaml:"stats_interval"`
}

// StateConfig tunes the baseline state store.
type StateConfig struct {
	StaleAfter    string `yaml:"stale_after"`
	LogBufferSize int    `yaml:"log_buffer_size"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Name               string `yaml:"name"`
	SSLMode            string `yaml:"sslmode"`
	MaxConnections     int    `yaml:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections"`
	ConnMaxLifetime    string `yaml:"conn_max_lifetime"`
}

// ConnectionString returns the PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" +
		strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=" + d.SSLMode
}

// RabbitMQConfig contains RabbitMQ connection settings. An empty URL disables
// the event relay and the command subscriber.
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	Exchange         string `yaml:"exchange"`
	CommandQueue     string `yaml:"command_queue"`
	PrefetchCount    int    `yaml:"prefetch_count"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	MaxReconnectWait string `yaml:"max_reconnect_wait"`
}

// SchedulerConfig contains cron schedules. Empty specs disable the job.
type SchedulerConfig struct {
	SnapshotCron string `yaml:"snapshot_cron"`
	ResetCron    string `yaml:"reset_cron"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Duration parses s, returning fallback when s is empty or invalid.
// Validate rejects invalid values before this is reached in practice.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			HTTPPort:        8082,
			ShutdownTimeout: "30s",
		},
		Bot: BotConfig{
			BaseURL:              "http://localhost:3000",
			WSPath:               "/ws",
			RequestTimeout:       "10s",
			MaxRequestsPerSecond: 10,
		},
		Realtime: RealtimeConfig{
			ReconnectPolicy:  "fixed",
			ReconnectDelay:   "5s",
			MaxReconnectWait: "60s",
			HandshakeTimeout: "10s",
			WriteTimeout:     "5s",
			PongWait:         "60s",
		},
		Poller: PollerConfig{
			Enabled:        true,
			StatusInterval: "2s",
			StatsInterval:  "5s",
		},
		State: StateConfig{
			StaleAfter:    "30s",
			LogBufferSize: 100,
		},
		Database: DatabaseConfig{
			Enabled:            false,
			Host:               "localhost",
			Port:               5432,
			User:               "postgres",
			Password:           "postgres",
			Name:               "tradebot_dash",
			SSLMode:            "disable",
			MaxConnections:     10,
			MaxIdleConnections: 2,
			ConnMaxLifetime:    "1h",
		},
		RabbitMQ: RabbitMQConfig{
			URL:              "",
			Exchange:         "tradebot.events",
			CommandQueue:     "tradebot-dash-commands",
			PrefetchCount:    10,
			ReconnectDelay:   "5s",
			MaxReconnectWait: "30s",
		},
		Scheduler: SchedulerConfig{
			SnapshotCron: "*/15 * * * *",
			ResetCron:    "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}
