package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DeleteDelay != 300*time.Second {
		t.Errorf("DeleteDelay = %v, want 5m", cfg.DeleteDelay)
	}
	if cfg.SweepInterval != 15*time.Minute {
		t.Errorf("SweepInterval = %v, want 15m", cfg.SweepInterval)
	}
	if cfg.SweepMaxAge != 30*time.Minute {
		t.Errorf("SweepMaxAge = %v, want 30m", cfg.SweepMaxAge)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if !cfg.TurnstileSkip {
		t.Error("TurnstileSkip should default to true")
	}
	if len(cfg.AllowedOrigins) != 3 {
		t.Errorf("AllowedOrigins = %v, want 3 entries", cfg.AllowedOrigins)
	}
	if cfg.AllowedDomains != nil {
		t.Errorf("AllowedDomains = %v, want nil", cfg.AllowedDomains)
	}
	if cfg.R2Enabled() {
		t.Error("R2 should be disabled without credentials")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENV", "production")
	t.Setenv("DELETE_DELAY", "10")
	t.Setenv("SWEEP_INTERVAL", "20")
	t.Setenv("SWEEP_MAX_AGE", "30")
	t.Setenv("ALLOWED_DOMAINS", " youtube.com, vimeo.com ,")
	t.Setenv("MAX_WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DeleteDelay != 10*time.Second || cfg.SweepInterval != 20*time.Second || cfg.SweepMaxAge != 30*time.Second {
		t.Errorf("lifecycle durations not overridden: %v %v %v", cfg.DeleteDelay, cfg.SweepInterval, cfg.SweepMaxAge)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json in production", cfg.LogFormat)
	}
	if len(cfg.AllowedDomains) != 2 || cfg.AllowedDomains[1] != "vimeo.com" {
		t.Errorf("AllowedDomains = %v", cfg.AllowedDomains)
	}
	if cfg.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want fallback 3", cfg.MaxWorkers)
	}
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SWEEP_INTERVAL", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero sweep interval")
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q): %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			t.Fatalf("restore Chdir(%q): %v", oldwd, err)
		}
	})
}
