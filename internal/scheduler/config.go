package scheduler

import (
	"time"

	"github.com/smallbiznis/tumblebus/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	// NewFlagSweep is the minimum spacing between expire_new_flags runs.
	NewFlagSweep time.Duration
	NewFlagTTL   time.Duration
	EnabledJobs  []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Hour,
		JobTimeout:   2 * time.Minute,
		BatchSize:    200,
		NewFlagSweep: 15 * time.Minute,
		NewFlagTTL:   72 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.Reminder.Interval,
		JobTimeout:   cfg.Reminder.JobTimeout,
		BatchSize:    cfg.Reminder.MaxPerBatch,
		NewFlagSweep: cfg.Reminder.NewFlagSweep,
		NewFlagTTL:   cfg.NewFlagTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.NewFlagSweep <= 0 {
		c.NewFlagSweep = defaults.NewFlagSweep
	}
	if c.NewFlagTTL <= 0 {
		c.NewFlagTTL = defaults.NewFlagTTL
	}
	return c
}
