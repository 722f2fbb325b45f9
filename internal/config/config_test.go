package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.AnthropicModel != "claude-sonnet-4-20250514" {
		t.Errorf("unexpected default model %s", cfg.AnthropicModel)
	}
	if cfg.DiagnoseTimeout != 60 {
		t.Errorf("expected default diagnose timeout 60, got %d", cfg.DiagnoseTimeout)
	}
	if cfg.RateLimit != 100 || cfg.RateLimitWindow != 60 {
		t.Errorf("unexpected rate limit defaults %d/%d", cfg.RateLimit, cfg.RateLimitWindow)
	}
	if cfg.SweepInterval != 30 || cfg.SweepCutoff != 300 {
		t.Errorf("unexpected sweeper defaults %d/%d", cfg.SweepInterval, cfg.SweepCutoff)
	}
	if cfg.AlertsEnabled {
		t.Error("alerts should be disabled without SES_FROM_EMAIL")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_MODEL", "claude-test")
	t.Setenv("SES_FROM_EMAIL", "alerts@example.com")
	t.Setenv("SWEEP_CUTOFF", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("expected db host db.internal, got %s", cfg.DBHost)
	}
	if cfg.AnthropicAPIKey != "test-key" {
		t.Errorf("API key not picked up")
	}
	if cfg.AnthropicModel != "claude-test" {
		t.Errorf("model override not picked up, got %s", cfg.AnthropicModel)
	}
	if !cfg.AlertsEnabled || cfg.SESFromEmail != "alerts@example.com" {
		t.Error("configuring SES_FROM_EMAIL should enable alerts")
	}
	if cfg.SweepCutoff != 120 {
		t.Errorf("expected sweep cutoff 120, got %d", cfg.SweepCutoff)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":             "not-a-number",
		"DB_PORT":          "abc",
		"RATE_LIMIT":       "many",
		"DIAGNOSE_TIMEOUT": "soon",
		"SWEEP_INTERVAL":   "x",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", key, value)
			}
		})
	}
}
