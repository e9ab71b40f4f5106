package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Load from an empty directory exercises the defaults for every
// recognized option.
func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Bus.MaxDeliver != 5 {
		t.Errorf("max_deliver default = %d, want 5", cfg.Bus.MaxDeliver)
	}
	wantBackoff := []int{1000, 5000, 15000, 30000}
	if len(cfg.Bus.BackoffMS) != len(wantBackoff) {
		t.Fatalf("backoff schedule = %v, want %v", cfg.Bus.BackoffMS, wantBackoff)
	}
	for i, ms := range wantBackoff {
		if cfg.Bus.BackoffMS[i] != ms {
			t.Errorf("backoff[%d] = %d, want %d", i, cfg.Bus.BackoffMS[i], ms)
		}
	}
	if cfg.Intent.TTLMs != 60_000 {
		t.Errorf("intent_ttl_ms default = %d, want 60000", cfg.Intent.TTLMs)
	}
	if cfg.Intent.ClockSkewToleranceMS != 5_000 {
		t.Errorf("clock_skew_tolerance_ms default = %d, want 5000", cfg.Intent.ClockSkewToleranceMS)
	}
	if cfg.Leader.LeaseTTLMs != 10_000 || cfg.Leader.HeartbeatIntervalMS != 3_000 {
		t.Errorf("leader defaults = %d/%d, want 10000/3000", cfg.Leader.LeaseTTLMs, cfg.Leader.HeartbeatIntervalMS)
	}
	if cfg.Reconcile.PeriodMS != 5_000 {
		t.Errorf("reconcile_period_ms default = %d, want 5000", cfg.Reconcile.PeriodMS)
	}
	if cfg.Reconcile.SentinelTimeoutMS != 10_000 {
		t.Errorf("sentinel_timeout_ms default = %d, want 10000", cfg.Reconcile.SentinelTimeoutMS)
	}
	if cfg.Venue.CallDeadlineMS != 3_000 {
		t.Errorf("venue_call_deadline_ms default = %d, want 3000", cfg.Venue.CallDeadlineMS)
	}
	if cfg.Market.VolumeWindowMS != 100 {
		t.Errorf("volume_window_ms default = %d, want 100", cfg.Market.VolumeWindowMS)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := []byte("intent:\n  intent_ttl_ms: 30000\nrisk:\n  max_leverage: 3\n")
	if err := os.WriteFile(filepath.Join(cfgDir, "default.yaml"), content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Intent.TTLMs != 30_000 {
		t.Errorf("file override lost: intent_ttl_ms = %d, want 30000", cfg.Intent.TTLMs)
	}
	if cfg.Risk.MaxLeverage != 3 {
		t.Errorf("file override lost: max_leverage = %v, want 3", cfg.Risk.MaxLeverage)
	}
	if cfg.Bus.MaxDeliver != 5 {
		t.Errorf("untouched default lost: max_deliver = %d", cfg.Bus.MaxDeliver)
	}
}
