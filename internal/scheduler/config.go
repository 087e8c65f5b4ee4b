package scheduler

import (
	"time"
)

// Config controls sweep intervals, batch sizes and reminder leads.
type Config struct {
	RunInterval time.Duration
	BatchSize   int

	// ChunkSize bounds per-chunk concurrency: a claimed batch is processed
	// in chunks of this many items, each item in its own transaction.
	ChunkSize int

	JobTimeout time.Duration

	// ReminderLeads are the distances before expiry at which a reminder
	// notification fires.
	ReminderLeads []time.Duration

	// EnabledJobs, when set, restricts the run to the named jobs.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		ChunkSize:   5,
		JobTimeout:  30 * time.Second,
		ReminderLeads: []time.Duration{
			30 * 24 * time.Hour,
			7 * 24 * time.Hour,
			24 * time.Hour,
		},
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
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaults.ChunkSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if len(c.ReminderLeads) == 0 {
		c.ReminderLeads = defaults.ReminderLeads
	}
	return c
}
