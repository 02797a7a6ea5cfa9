// Package model defines the configuration, queue states and check results
// shared by the validator's components.
package model

import "time"

// PromptVersion is mixed into every cache key; bump it whenever the prompt
// layout changes so stale verdicts are not reused.
const PromptVersion = "3"

type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
	Stream    StreamConfig    `yaml:"stream"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type OracleConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Model      string   `yaml:"model"`
	TimeoutSec int      `yaml:"timeout_sec"`
	RatePerSec float64  `yaml:"rate_per_sec"` // 0 disables rate limiting
	Burst      int      `yaml:"burst"`
}

type SchedulerConfig struct {
	MaxWorkers          int `yaml:"max_workers"`
	HookDeadlineSec     int `yaml:"hook_deadline_sec"`
	FullScanDeadlineSec int `yaml:"full_scan_deadline_sec"`
	StreamDeadlineSec   int `yaml:"stream_deadline_sec"`
	MinFutureTimeoutSec int `yaml:"min_future_timeout_sec"`
}

type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

type QueueConfig struct {
	DefaultLeaseTTLSec int `yaml:"default_lease_ttl_sec"`
	LeaseGraceSec      int `yaml:"lease_grace_sec"`
}

type StreamConfig struct {
	MaxResultsDirs int `yaml:"max_results_dirs"`
}

type WatchConfig struct {
	IntervalSec float64 `yaml:"interval_sec"`
	DebounceSec float64 `yaml:"debounce_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills every zero value with the built-in default.
func (c Config) ApplyDefaults() Config {
	if c.Oracle.Command == "" {
		c.Oracle.Command = "claude"
		if len(c.Oracle.Args) == 0 {
			c.Oracle.Args = []string{"-p"}
		}
	}
	if c.Oracle.TimeoutSec <= 0 {
		c.Oracle.TimeoutSec = 580
	}
	if c.Oracle.Burst <= 0 {
		c.Oracle.Burst = 1
	}
	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = 16
	}
	// 10 seconds short of the 600 second hook timeout leaves room for output.
	if c.Scheduler.HookDeadlineSec <= 0 {
		c.Scheduler.HookDeadlineSec = 590
	}
	if c.Scheduler.FullScanDeadlineSec <= 0 {
		c.Scheduler.FullScanDeadlineSec = 3600
	}
	if c.Scheduler.StreamDeadlineSec <= 0 {
		c.Scheduler.StreamDeadlineSec = 3600
	}
	if c.Scheduler.MinFutureTimeoutSec <= 0 {
		c.Scheduler.MinFutureTimeoutSec = 10
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = 7 * 24
	}
	if c.Queue.DefaultLeaseTTLSec <= 0 {
		c.Queue.DefaultLeaseTTLSec = 600
	}
	// A negative grace disables it; zero means unset.
	if c.Queue.LeaseGraceSec == 0 {
		c.Queue.LeaseGraceSec = 5
	}
	if c.Stream.MaxResultsDirs <= 0 {
		c.Stream.MaxResultsDirs = 5
	}
	if c.Watch.IntervalSec <= 0 {
		c.Watch.IntervalSec = 2
	}
	if c.Watch.DebounceSec < 0 {
		c.Watch.DebounceSec = 0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return c
}

func (c OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c QueueConfig) DefaultLeaseTTL() time.Duration {
	return time.Duration(c.DefaultLeaseTTLSec) * time.Second
}

func (c QueueConfig) LeaseGrace() time.Duration {
	if c.LeaseGraceSec < 0 {
		return 0
	}
	return time.Duration(c.LeaseGraceSec) * time.Second
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func (c WatchConfig) Interval() time.Duration {
	return secondsToDuration(c.IntervalSec)
}

func (c WatchConfig) Debounce() time.Duration {
	return secondsToDuration(c.DebounceSec)
}
