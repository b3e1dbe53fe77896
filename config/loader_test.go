package config

import (
	"os"
	"testing"
)

// TestParse_Defaults checks a minimal document gets defaults filled in
func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
static:
  feedURL: "https://example.com/gtfs.zip"
realtime:
  feedURL: "https://example.com/rt.pb"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Port != 16180 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Static.RefreshHours != 6 || cfg.Static.RetainedVersions != 8 {
		t.Errorf("static defaults = %+v", cfg.Static)
	}
	if cfg.Realtime.IntervalSeconds != 60 || cfg.Realtime.StaleAfterSeconds != 300 {
		t.Errorf("realtime defaults = %+v", cfg.Realtime)
	}
	if cfg.Boards.DefaultWindowMinutes != 30 || cfg.Boards.MaxWatches != 30 {
		t.Errorf("boards defaults = %+v", cfg.Boards)
	}
}

// TestParse_Overrides checks explicit values survive
func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9090
static:
  feedURL: "https://example.com/gtfs.zip"
  static_refresh_hours: 12
boards:
  update_interval: 15
  notifications_enabled: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Static.RefreshHours != 12 {
		t.Errorf("overrides lost: %+v", cfg)
	}
	if cfg.Boards.UpdateIntervalSeconds != 15 || !cfg.Boards.NotificationsEnabled {
		t.Errorf("boards overrides lost: %+v", cfg.Boards)
	}
}

// TestParse_InvalidRejected checks validation failures surface
func TestParse_InvalidRejected(t *testing.T) {
	if _, err := Parse([]byte("static:\n  feedURL: \"not a url\"\n")); err == nil {
		t.Error("invalid feed URL should be rejected")
	}
	if _, err := Parse([]byte("server: [broken")); err == nil {
		t.Error("malformed yaml should be rejected")
	}
}

// TestLoadAppConfig_MissingFile checks the error path
func TestLoadAppConfig_MissingFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if err := LoadAppConfig(); err == nil {
		t.Error("missing config should return an error")
	}
}
