package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.API.BaseURL() != "https://anathema.cs.uni-saarland.de/mieaa_tool/api/v1/" {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL())
	}
	if cfg.API.MinInterval != time.Second || cfg.API.SafetyMargin != 100*time.Millisecond {
		t.Fatalf("unexpected throttle defaults: %+v", cfg.API)
	}
	if cfg.Jobs.PollInterval != 5*time.Second || cfg.Jobs.MaxRetries != 5 {
		t.Fatalf("unexpected job defaults: %+v", cfg.Jobs)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mieaa.json")
	body := `{"api": {"root_url": "http://localhost:9000/api", "min_interval": "250ms"}, "jobs": {"poll_interval": "1s"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIEAA_JOBS_MAX_RETRIES", "9")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.BaseURL() != "http://localhost:9000/api/v1/" {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL())
	}
	if cfg.API.MinInterval != 250*time.Millisecond {
		t.Fatalf("unexpected min interval %v", cfg.API.MinInterval)
	}
	if cfg.Jobs.PollInterval != time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.Jobs.PollInterval)
	}
	if cfg.Jobs.MaxRetries != 9 {
		t.Fatalf("env override not applied: %d", cfg.Jobs.MaxRetries)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestAPIValidate(t *testing.T) {
	if err := (APIConfig{RootURL: "not a url", Version: "v1"}).Validate(); err == nil {
		t.Fatalf("expected invalid root url")
	}
	if err := (APIConfig{RootURL: "https://x/api/", Version: "v1", MinInterval: -time.Second}).Validate(); err == nil {
		t.Fatalf("expected negative interval error")
	}
}

func TestTelemetryValidate(t *testing.T) {
	if err := (TelemetryConfig{Enabled: true}).Validate(); err == nil {
		t.Fatalf("expected otlp endpoint requirement")
	}
	if err := (TelemetryConfig{PushgatewayURL: "http://pgw:9091"}).Validate(); err == nil {
		t.Fatalf("expected job name requirement")
	}
}

func TestJobsNormalize(t *testing.T) {
	j := JobsConfig{}.Normalize()
	if j.PollInterval != 5*time.Second || j.MaxRetries != 5 || j.CategoryTTL != 0 {
		t.Fatalf("unexpected defaults %+v", j)
	}
}
