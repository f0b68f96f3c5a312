package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shehryarbajwa/renderpool/internal/blocking"
	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/credits"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// ValidationError names the offending field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate reports every problem found, joined
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Server.Addr == "" {
		add(invalid("server.addr", "is required"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add(invalid("logging.level", "must be one of: debug, info, warn, error"))
	}

	switch c.Browser.Driver {
	case DriverLocal, DriverDocker:
	default:
		add(invalid("browser.driver", "must be %q or %q", DriverLocal, DriverDocker))
	}
	if c.Browser.Driver == DriverDocker && c.Browser.DockerImage == "" {
		add(invalid("browser.docker_image", "is required for the docker driver"))
	}

	add(c.Pool.validate())

	if c.Navigation.Retries < 0 {
		add(invalid("navigation.retries", "must not be negative"))
	}
	for name, op := range c.Navigation.Operations {
		add(validateOperation(name, op))
	}

	if c.Extraction.JobTimeout <= 0 {
		add(invalid("extraction.job_timeout", "must be positive"))
	}
	if c.Extraction.MaxWaitTime < 0 || c.Extraction.MaxWaitTime > c.Extraction.JobTimeout {
		add(invalid("extraction.max_wait_time", "must be between 0 and job_timeout"))
	}

	switch c.Storage.Driver {
	case StorageNone, "":
	case StorageFilesystem:
		if c.Storage.Path == "" {
			add(invalid("storage.path", "is required for the filesystem driver"))
		}
	case StorageMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			add(invalid("storage.minio", "endpoint and bucket are required"))
		}
	default:
		add(invalid("storage.driver", "must be one of: none, filesystem, minio"))
	}

	if _, err := credits.NewTable(c.Credits); err != nil {
		add(invalid("credits", "%v", err))
	}

	if c.RateLimit.Burst < 0 || c.RateLimit.RequestsPerHour < 0 || c.RateLimit.Concurrency < 0 {
		add(invalid("rate_limit", "values must not be negative"))
	}

	return errors.Join(errs...)
}

func (p PoolConfig) validate() error {
	var errs []error
	if p.MaxSessions < 1 {
		errs = append(errs, invalid("pool.max_sessions", "must be at least 1"))
	}
	if p.WarmSessions < 0 || p.WarmSessions > p.MaxSessions {
		errs = append(errs, invalid("pool.warm_sessions", "must be between 0 and max_sessions"))
	}
	if p.LaunchRetries < 0 {
		errs = append(errs, invalid("pool.launch_retries", "must not be negative"))
	}
	for field, d := range map[string]int64{
		"pool.session_lifetime": int64(p.SessionLifetime),
		"pool.max_idle":         int64(p.MaxIdle),
		"pool.reclaim_interval": int64(p.ReclaimInterval),
		"pool.health_interval":  int64(p.HealthInterval),
		"pool.queue_timeout":    int64(p.QueueTimeout),
		"pool.launch_timeout":   int64(p.LaunchTimeout),
	} {
		if d <= 0 {
			errs = append(errs, invalid(field, "must be positive"))
		}
	}
	return errors.Join(errs...)
}

func validateOperation(name string, op OperationNavigation) error {
	field := "navigation.operations." + name
	if !models.OperationType(name).Valid() {
		return invalid(field, "unknown operation")
	}
	if op.Timeout < 0 {
		return invalid(field+".timeout", "must not be negative")
	}
	if _, err := browser.ParseWaitCondition(op.WaitUntil); err != nil {
		return invalid(field+".wait_until", "%v", err)
	}
	if _, err := blocking.ParsePolicy(op.Block); err != nil {
		return invalid(field+".block", "%v", err)
	}
	return nil
}
