package config

import (
	"github.com/shehryarbajwa/renderpool/internal/blocking"
	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/extract"
	"github.com/shehryarbajwa/renderpool/internal/pool"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// PoolConfig maps the pool section onto the coordinator's config
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MaxSessions:     c.Pool.MaxSessions,
		SessionLifetime: c.Pool.SessionLifetime,
		MaxIdle:         c.Pool.MaxIdle,
		ReclaimInterval: c.Pool.ReclaimInterval,
		HealthInterval:  c.Pool.HealthInterval,
		QueueTimeout:    c.Pool.QueueTimeout,
		LaunchTimeout:   c.Pool.LaunchTimeout,
		LaunchRetries:   c.Pool.LaunchRetries,
		WarmSessions:    c.Pool.WarmSessions,
	}
}

// ExtractConfig merges per-operation overrides onto the extraction defaults.
// It assumes Validate has passed.
func (c *Config) ExtractConfig() extract.Config {
	out := extract.DefaultConfig()
	out.Retries = c.Navigation.Retries
	out.JobTimeout = c.Extraction.JobTimeout
	out.MaxWaitTime = c.Extraction.MaxWaitTime

	for name, override := range c.Navigation.Operations {
		op := models.OperationType(name)
		oc := out.Operations[op]
		if override.Timeout > 0 {
			oc.Timeout = override.Timeout
		}
		if override.WaitUntil != "" {
			if w, err := browser.ParseWaitCondition(override.WaitUntil); err == nil {
				oc.WaitUntil = w
			}
		}
		if override.Block != nil {
			if p, err := blocking.ParsePolicy(override.Block); err == nil {
				oc.Block = p
			}
		}
		out.Operations[op] = oc
	}
	return out
}
