package scheduler

import (
	"time"

	"github.com/smallbiznis/appointly/internal/config"
)

// Config controls the scheduler interval and batch size.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: 15 * time.Minute,
		BatchSize:   50,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.RunInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
