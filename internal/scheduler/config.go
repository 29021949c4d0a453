package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// RetryAfter is how long a failed delivery rests before the sweep picks it up.
	RetryAfter  time.Duration
	MaxAttempts int
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		RetryAfter:  2 * time.Minute,
		MaxAttempts: 5,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		RetryAfter:  cfg.Scheduler.RetryAfter,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = defaults.RetryAfter
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func (c Config) isJobEnabled(job string) bool {
	// An empty list enables every job.
	if len(c.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range c.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), job) {
			return true
		}
	}
	return false
}
