package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MatchOptions are the product-level tuning parameters of the matching
// engine. They are configuration, not constants: the attribution window,
// tier thresholds, and score weights all vary per deployment.
type MatchOptions struct {
	// WindowDays is the attribution window half-width: a line qualifies as a
	// candidate when |line_date - appointment_date| <= WindowDays.
	WindowDays int `yaml:"window_days"`
	// Tier2Threshold is the minimum score for a high-confidence fuzzy match.
	Tier2Threshold float64 `yaml:"tier2_threshold"`
	// Tier3Floor is the minimum score for a low-confidence candidate.
	Tier3Floor float64 `yaml:"tier3_floor"`
	// NameWeight and AmountWeight blend textual similarity and amount
	// plausibility into the final score. They must sum to 1.
	NameWeight   float64 `yaml:"name_weight"`
	AmountWeight float64 `yaml:"amount_weight"`
}

// SchedulerOptions tune the batch scheduler and task runner.
type SchedulerOptions struct {
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	BatchBudget        time.Duration `yaml:"batch_budget"`
	CancelGrace        time.Duration `yaml:"cancel_grace"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	DefaultMaxParallel int           `yaml:"default_max_parallel"`
}

// Config holds all runtime configuration for a vetbatch run.
type Config struct {
	DSN       string
	LogFormat string // "text" or "json"

	// Ingest flags
	FilePath    string
	ClinicID    int64
	Force       bool
	KeepStaging bool

	// Batch flags
	Date     string
	Source   string
	PlanPath string

	// Daemon flags
	Cron    string
	PlanDir string

	// Reconcile flags
	AppointmentID int64

	// TuningFile is an optional YAML file overriding Match and Scheduler.
	TuningFile string

	Match     MatchOptions     `yaml:"match"`
	Scheduler SchedulerOptions `yaml:"scheduler"`
}

// yamlConfig is the on-disk YAML structure.
type yamlConfig struct {
	Match     MatchOptions     `yaml:"match"`
	Scheduler SchedulerOptions `yaml:"scheduler"`
}

// DefaultMatchOptions returns the shipped matching defaults.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		WindowDays:     7,
		Tier2Threshold: 0.75,
		Tier3Floor:     0.40,
		NameWeight:     0.8,
		AmountWeight:   0.2,
	}
}

// DefaultSchedulerOptions returns the shipped scheduler defaults.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		MaxRetries:         3,
		RetryBackoff:       2 * time.Second,
		BatchBudget:        2 * time.Hour,
		CancelGrace:        30 * time.Second,
		StaleAfter:         6 * time.Hour,
		HeartbeatInterval:  30 * time.Second,
		DefaultMaxParallel: 4,
	}
}

// ApplyDefaults fills any zero-valued tuning field with its default.
func (c *Config) ApplyDefaults() {
	dm := DefaultMatchOptions()
	if c.Match.WindowDays == 0 {
		c.Match.WindowDays = dm.WindowDays
	}
	if c.Match.Tier2Threshold == 0 {
		c.Match.Tier2Threshold = dm.Tier2Threshold
	}
	if c.Match.Tier3Floor == 0 {
		c.Match.Tier3Floor = dm.Tier3Floor
	}
	if c.Match.NameWeight == 0 && c.Match.AmountWeight == 0 {
		c.Match.NameWeight = dm.NameWeight
		c.Match.AmountWeight = dm.AmountWeight
	}

	ds := DefaultSchedulerOptions()
	if c.Scheduler.MaxRetries == 0 {
		c.Scheduler.MaxRetries = ds.MaxRetries
	}
	if c.Scheduler.RetryBackoff == 0 {
		c.Scheduler.RetryBackoff = ds.RetryBackoff
	}
	if c.Scheduler.BatchBudget == 0 {
		c.Scheduler.BatchBudget = ds.BatchBudget
	}
	if c.Scheduler.CancelGrace == 0 {
		c.Scheduler.CancelGrace = ds.CancelGrace
	}
	if c.Scheduler.StaleAfter == 0 {
		c.Scheduler.StaleAfter = ds.StaleAfter
	}
	if c.Scheduler.HeartbeatInterval == 0 {
		c.Scheduler.HeartbeatInterval = ds.HeartbeatInterval
	}
	if c.Scheduler.DefaultMaxParallel == 0 {
		c.Scheduler.DefaultMaxParallel = ds.DefaultMaxParallel
	}
}

// LoadFromFile reads a YAML tuning file and merges its values into Config.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	c.Match = yc.Match
	c.Scheduler = yc.Scheduler
	c.ApplyDefaults()
	return c.ValidateTuning()
}

// ValidateTuning checks the tuning parameters for internal consistency.
func (c *Config) ValidateTuning() error {
	m := c.Match
	if m.WindowDays < 0 {
		return fmt.Errorf("match.window_days must be >= 0, got %d", m.WindowDays)
	}
	if m.Tier2Threshold <= 0 || m.Tier2Threshold > 1 {
		return fmt.Errorf("match.tier2_threshold must be in (0,1], got %v", m.Tier2Threshold)
	}
	if m.Tier3Floor < 0 || m.Tier3Floor >= m.Tier2Threshold {
		return fmt.Errorf("match.tier3_floor must be in [0, tier2_threshold), got %v", m.Tier3Floor)
	}
	if sum := m.NameWeight + m.AmountWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("match.name_weight + match.amount_weight must sum to 1, got %v", sum)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0, got %d", c.Scheduler.MaxRetries)
	}
	return nil
}

// ValidateWithDSN checks that a database connection string is configured.
func (c *Config) ValidateWithDSN() error {
	if c.DSN == "" {
		return fmt.Errorf("--dsn or DATABASE_URL is required")
	}
	return nil
}

// ValidateIngest checks the flags required by the ingest and plan commands.
func (c *Config) ValidateIngest() error {
	if c.FilePath == "" {
		return fmt.Errorf("--file is required")
	}
	if c.ClinicID == 0 {
		return fmt.Errorf("--clinic is required")
	}
	if _, err := os.Stat(c.FilePath); err != nil {
		return fmt.Errorf("file not accessible: %w", err)
	}
	return nil
}
