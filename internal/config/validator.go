package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.staleness_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateReaper()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Store.Backend) {
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Value:   c.Store.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if strings.TrimSpace(c.Store.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dir",
			Value:   c.Store.Dir,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.HeartbeatInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.heartbeat_interval",
			Value:   c.Session.HeartbeatInterval,
			Message: "must be positive",
		})
	}

	// A threshold at or below the interval marks healthy sessions dead
	// between two heartbeats.
	if c.Session.StalenessThreshold <= c.Session.HeartbeatInterval {
		errors = append(errors, ValidationError{
			Field:   "session.staleness_threshold",
			Value:   c.Session.StalenessThreshold,
			Message: fmt.Sprintf("must exceed session.heartbeat_interval (%s)", c.Session.HeartbeatInterval),
		})
	}

	return errors
}

// validateLock validates the LockConfig
func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "lock.max_attempts",
			Value:   c.Lock.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	if c.Lock.RetryBackoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.retry_backoff",
			Value:   c.Lock.RetryBackoff,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	const minPollInterval = 10 * time.Millisecond
	if c.Watch.PollInterval < minPollInterval {
		errors = append(errors, ValidationError{
			Field:   "watch.poll_interval",
			Value:   c.Watch.PollInterval,
			Message: fmt.Sprintf("must be at least %s", minPollInterval),
		})
	}

	return errors
}

// validateReaper validates the ReaperConfig
func (c *Config) validateReaper() []ValidationError {
	var errors []ValidationError

	if _, err := cron.ParseStandard(c.Reaper.Schedule); err != nil {
		errors = append(errors, ValidationError{
			Field:   "reaper.schedule",
			Value:   c.Reaper.Schedule,
			Message: fmt.Sprintf("invalid cron schedule: %v", err),
		})
	}

	if c.Reaper.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "reaper.concurrency",
			Value:   c.Reaper.Concurrency,
			Message: "must be at least 1",
		})
	}

	if c.Reaper.PruneAfter < 0 {
		errors = append(errors, ValidationError{
			Field:   "reaper.prune_after",
			Value:   c.Reaper.PruneAfter,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Zero disables rotation
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
