package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RealtimeProvider != "xai" {
		t.Fatalf("RealtimeProvider = %q, want %q", cfg.RealtimeProvider, "xai")
	}
	if cfg.RealtimeTurnMode != "server_vad" {
		t.Fatalf("RealtimeTurnMode = %q, want %q", cfg.RealtimeTurnMode, "server_vad")
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Fatalf("ToolTimeout = %v, want 30s", cfg.ToolTimeout)
	}
	if cfg.VADSilenceDebounce != time.Second {
		t.Fatalf("VADSilenceDebounce = %v, want 1s", cfg.VADSilenceDebounce)
	}
	if cfg.BillingMode != "memory" {
		t.Fatalf("BillingMode = %q, want %q", cfg.BillingMode, "memory")
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_PROVIDER", "OpenAI")
	t.Setenv("REALTIME_TURN_MODE", "manual")
	t.Setenv("VAD_SILENCE_DEBOUNCE", "750ms")
	t.Setenv("BILLING_STARTING_CREDITS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RealtimeProvider != "openai" {
		t.Fatalf("RealtimeProvider = %q, want %q", cfg.RealtimeProvider, "openai")
	}
	if cfg.RealtimeTurnMode != "manual" {
		t.Fatalf("RealtimeTurnMode = %q, want manual", cfg.RealtimeTurnMode)
	}
	if cfg.VADSilenceDebounce != 750*time.Millisecond {
		t.Fatalf("VADSilenceDebounce = %v, want 750ms", cfg.VADSilenceDebounce)
	}
	if cfg.BillingStartingCredits != 2.5 {
		t.Fatalf("BillingStartingCredits = %v, want 2.5", cfg.BillingStartingCredits)
	}
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_PROVIDER", "carrier-pigeon")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "REALTIME_PROVIDER") {
		t.Fatalf("Load() error = %v, want REALTIME_PROVIDER error", err)
	}
}

func TestLoadPostgresBillingRequiresDatabase(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BILLING_MODE", "postgres")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("Load() error = %v, want DATABASE_URL error", err)
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected parse error for APP_ALLOW_ANY_ORIGIN")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_ALLOW_ANY_ORIGIN",
		"REALTIME_PROVIDER",
		"XAI_REALTIME_URL",
		"OPENAI_REALTIME_URL",
		"OPENAI_REALTIME_MODEL",
		"REALTIME_API_KEY",
		"REALTIME_VOICE",
		"REALTIME_SAMPLE_RATE",
		"REALTIME_TURN_MODE",
		"REALTIME_INSTRUCTIONS",
		"CREDENTIAL_PROXY_URL",
		"CREDENTIAL_APP_SECRET",
		"XAPI_BASE_URL",
		"XAPI_TOKEN",
		"TOOL_TIMEOUT",
		"BILLING_MODE",
		"BILLING_URL",
		"BILLING_STARTING_CREDITS",
		"BILLING_MINUTE_COST",
		"VAD_SILENCE_DEBOUNCE",
		"VAD_ENERGY_THRESHOLD",
		"POLICY_REGO_PATH",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
