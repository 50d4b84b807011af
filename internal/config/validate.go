package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// CronParser is the parser used for scheduler specs. The scheduler uses the
// same one so a spec that validates here always schedules there.
var CronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate validates the configuration and returns any errors.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	// Validate environment
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[cfg.Env] {
		errs = append(errs, ValidationError{
			Field:   "env",
			Message: "must be one of: development, staging, production, test",
		})
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.http_port",
			Message: "must be a valid port number (1-65535)",
		})
	}
	errs = append(errs, validateDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout)...)

	errs = append(errs, validateBot(&cfg.Bot)...)
	errs = append(errs, validateRealtime(&cfg.Realtime)...)
	errs = append(errs, validatePoller(&cfg.Poller)...)

	errs = append(errs, validateDuration("state.stale_after", cfg.State.StaleAfter)...)
	if cfg.State.LogBufferSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "state.log_buffer_size",
			Message: "must be greater than 0",
		})
	}

	if cfg.Database.Enabled {
		errs = append(errs, validateDatabase(&cfg.Database)...)
	}
	if cfg.RabbitMQ.URL != "" {
		errs = append(errs, validateRabbitMQ(&cfg.RabbitMQ)...)
	}
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) ValidationErrors {
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration %q", value)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be greater than 0"}}
	}
	return nil
}

func validateBot(b *BotConfig) ValidationErrors {
	var errs ValidationErrors

	u, err := url.Parse(b.BaseURL)
	if b.BaseURL == "" || err != nil || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "bot.base_url",
			Message: "must be an absolute URL",
		})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{
			Field:   "bot.base_url",
			Message: "must start with http:// or https://",
		})
	}

	if b.WSPath != "" && !strings.HasPrefix(b.WSPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "bot.ws_path",
			Message: "must start with /",
		})
	}

	errs = append(errs, validateDuration("bot.request_timeout", b.RequestTimeout)...)

	if b.MaxRequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "bot.max_requests_per_second",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateRealtime(r *RealtimeConfig) ValidationErrors {
	var errs ValidationErrors

	switch r.ReconnectPolicy {
	case "fixed", "exponential":
	default:
		errs = append(errs, ValidationError{
			Field:   "realtime.reconnect_policy",
			Message: "must be one of: fixed, exponential",
		})
	}

	errs = append(errs, validateDuration("realtime.reconnect_delay", r.ReconnectDelay)...)
	errs = append(errs, validateDuration("realtime.max_reconnect_wait", r.MaxReconnectWait)...)
	errs = append(errs, validateDuration("realtime.handshake_timeout", r.HandshakeTimeout)...)
	errs = append(errs, validateDuration("realtime.write_timeout", r.WriteTimeout)...)
	errs = append(errs, validateDuration("realtime.pong_wait", r.PongWait)...)

	if len(errs) == 0 && Duration(r.MaxReconnectWait, 0) < Duration(r.ReconnectDelay, 0) {
		errs = append(errs, ValidationError{
			Field:   "realtime.max_reconnect_wait",
			Message: "must not be less than reconnect_delay",
		})
	}

	return errs
}

func validatePoller(p *PollerConfig) ValidationErrors {
	if !p.Enabled {
		return nil
	}
	var errs ValidationErrors
	errs = append(errs, validateDuration("poller.status_interval", p.StatusInterval)...)
	errs = append(errs, validateDuration("poller.stats_interval", p.StatsInterval)...)
	return errs
}

func validateDatabase(db *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if db.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "database.host",
			Message: "is required",
		})
	}
	if db.Port <= 0 || db.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "database.port",
			Message: "must be a valid port number (1-65535)",
		})
	}
	if db.User == "" {
		errs = append(errs, ValidationError{
			Field:   "database.user",
			Message: "is required",
		})
	}
	if db.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "database.name",
			Message: "is required",
		})
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[db.SSLMode] {
		errs = append(errs, ValidationError{
			Field:   "database.sslmode",
			Message: "must be one of: disable, require, verify-ca, verify-full",
		})
	}

	if db.MaxConnections <= 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_connections",
			Message: "must be greater than 0",
		})
	}
	if db.MaxIdleConnections < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_idle_connections",
			Message: "must be non-negative",
		})
	}
	if db.MaxIdleConnections > db.MaxConnections {
		errs = append(errs, ValidationError{
			Field:   "database.max_idle_connections",
			Message: "must not exceed max_connections",
		})
	}
	errs = append(errs, validateDuration("database.conn_max_lifetime", db.ConnMaxLifetime)...)

	return errs
}

func validateRabbitMQ(mq *RabbitMQConfig) ValidationErrors {
	var errs ValidationErrors

	if !strings.HasPrefix(mq.URL, "amqp://") && !strings.HasPrefix(mq.URL, "amqps://") {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.url",
			Message: "must start with amqp:// or amqps://",
		})
	}

	if mq.Exchange == "" {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.exchange",
			Message: "is required",
		})
	}

	if mq.PrefetchCount <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.prefetch_count",
			Message: "must be greater than 0",
		})
	}

	errs = append(errs, validateDuration("rabbitmq.reconnect_delay", mq.ReconnectDelay)...)
	errs = append(errs, validateDuration("rabbitmq.max_reconnect_wait", mq.MaxReconnectWait)...)

	return errs
}

func validateScheduler(s *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.SnapshotCron != "" {
		if _, err := CronParser.Parse(s.SnapshotCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "scheduler.snapshot_cron",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if s.ResetCron != "" {
		if _, err := CronParser.Parse(s.ResetCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "scheduler.reset_cron",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validFormats[l.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, console",
		})
	}

	return errs
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
