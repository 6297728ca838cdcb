package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_Empty(t *testing.T) {
	var c Config
	c.ApplyDefaults()

	if c.Match.WindowDays != 7 {
		t.Errorf("window days: got %d, want 7", c.Match.WindowDays)
	}
	if c.Match.Tier2Threshold != 0.75 || c.Match.Tier3Floor != 0.40 {
		t.Errorf("thresholds: %+v", c.Match)
	}
	if c.Scheduler.MaxRetries != 3 {
		t.Errorf("max retries: got %d, want 3", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat: got %v", c.Scheduler.HeartbeatInterval)
	}
}

func TestApplyDefaults_KeepsExplicit(t *testing.T) {
	c := Config{}
	c.Match.WindowDays = 14
	c.Scheduler.MaxRetries = 1
	c.ApplyDefaults()

	if c.Match.WindowDays != 14 {
		t.Errorf("window days overridden: got %d", c.Match.WindowDays)
	}
	if c.Scheduler.MaxRetries != 1 {
		t.Errorf("max retries overridden: got %d", c.Scheduler.MaxRetries)
	}
}

func TestLoadFromFile_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(
		"match:\n  window_days: 10\n  tier2_threshold: 0.8\nscheduler:\n  max_retries: 5\n"), 0644)

	var c Config
	if err := c.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.Match.WindowDays != 10 {
		t.Errorf("window days: got %d, want 10", c.Match.WindowDays)
	}
	if c.Match.Tier2Threshold != 0.8 {
		t.Errorf("tier2: got %v", c.Match.Tier2Threshold)
	}
	if c.Match.Tier3Floor != 0.40 {
		t.Errorf("tier3 floor should default: got %v", c.Match.Tier3Floor)
	}
	if c.Scheduler.MaxRetries != 5 {
		t.Errorf("max retries: got %d, want 5", c.Scheduler.MaxRetries)
	}
}

func TestLoadFromFile_InvalidTuning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	// Floor above threshold is inconsistent.
	os.WriteFile(path, []byte("match:\n  tier2_threshold: 0.5\n  tier3_floor: 0.9\n"), 0644)

	var c Config
	if err := c.LoadFromFile(path); err == nil {
		t.Fatal("expected error for tier3_floor >= tier2_threshold")
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	var c Config
	if err := c.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateTuning_Weights(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	c.Match.NameWeight = 0.9
	c.Match.AmountWeight = 0.9
	if err := c.ValidateTuning(); err == nil {
		t.Error("expected error when weights do not sum to 1")
	}
}

func TestValidateTuning_NegativeWindow(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	c.Match.WindowDays = -1
	if err := c.ValidateTuning(); err == nil {
		t.Error("expected error for negative window")
	}
}

func TestValidateWithDSN(t *testing.T) {
	var c Config
	if err := c.ValidateWithDSN(); err == nil {
		t.Error("expected error for empty DSN")
	}
	c.DSN = "postgres://localhost/vet"
	if err := c.ValidateWithDSN(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
