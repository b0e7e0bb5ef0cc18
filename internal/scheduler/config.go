package scheduler

import (
	"time"

	"github.com/shortyai/creditdesk/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	BatchSize        int
	SessionRetention time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      10 * time.Minute,
		BatchSize:        500,
		SessionRetention: 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		SessionRetention: cfg.Scheduler.SessionRetention,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
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
	if c.SessionRetention < 0 {
		c.SessionRetention = defaults.SessionRetention
	}
	return c
}
