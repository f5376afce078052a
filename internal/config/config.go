package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice session service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string
	LogFormat                string

	AllowAnyOrigin bool

	RealtimeProvider     string
	XAIRealtimeURL       string
	OpenAIRealtimeURL    string
	OpenAIRealtimeModel  string
	RealtimeAPIKey       string
	RealtimeVoice        string
	RealtimeSampleRate   int
	RealtimeTurnMode     string
	RealtimeInstructions string

	CredentialProxyURL  string
	CredentialAppSecret string

	XAPIBaseURL string
	XAPIToken   string
	ToolTimeout time.Duration

	BillingMode            string
	BillingURL             string
	BillingStartingCredits float64
	BillingMinuteCost      float64

	VADSilenceDebounce time.Duration
	VADEnergyThreshold float64

	PolicyRegoPath string
	DatabaseURL    string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "voiced"),
		LogLevel:             strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		AllowAnyOrigin:       false,
		RealtimeProvider:     strings.ToLower(envOrDefault("REALTIME_PROVIDER", "xai")),
		XAIRealtimeURL:       envOrDefault("XAI_REALTIME_URL", "wss://api.x.ai/v1/realtime"),
		OpenAIRealtimeURL:    envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel:  envOrDefault("OPENAI_REALTIME_MODEL", "gpt-realtime"),
		RealtimeAPIKey:       stringsTrimSpace("REALTIME_API_KEY"),
		RealtimeVoice:        envOrDefault("REALTIME_VOICE", "Ara"),
		RealtimeSampleRate:   24000,
		RealtimeTurnMode:     strings.ToLower(envOrDefault("REALTIME_TURN_MODE", "server_vad")),
		RealtimeInstructions: stringsTrimSpace("REALTIME_INSTRUCTIONS"),
		CredentialProxyURL:   stringsTrimSpace("CREDENTIAL_PROXY_URL"),
		CredentialAppSecret:  stringsTrimSpace("CREDENTIAL_APP_SECRET"),
		XAPIBaseURL:          stringsTrimSpace("XAPI_BASE_URL"),
		XAPIToken:            stringsTrimSpace("XAPI_TOKEN"),
		BillingMode:          strings.ToLower(envOrDefault("BILLING_MODE", "memory")),
		BillingURL:           stringsTrimSpace("BILLING_URL"),
		PolicyRegoPath:       stringsTrimSpace("POLICY_REGO_PATH"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		ToolTimeout:              30 * time.Second,
		BillingStartingCredits:   10,
		BillingMinuteCost:        1,
		VADSilenceDebounce:       time.Second,
		VADEnergyThreshold:       0.02,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeSampleRate, err = intFromEnv("REALTIME_SAMPLE_RATE", cfg.RealtimeSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolTimeout, err = durationFromEnv("TOOL_TIMEOUT", cfg.ToolTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BillingStartingCredits, err = floatFromEnv("BILLING_STARTING_CREDITS", cfg.BillingStartingCredits)
	if err != nil {
		return Config{}, err
	}
	cfg.BillingMinuteCost, err = floatFromEnv("BILLING_MINUTE_COST", cfg.BillingMinuteCost)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceDebounce, err = durationFromEnv("VAD_SILENCE_DEBOUNCE", cfg.VADSilenceDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.VADEnergyThreshold, err = floatFromEnv("VAD_ENERGY_THRESHOLD", cfg.VADEnergyThreshold)
	if err != nil {
		return Config{}, err
	}

	switch cfg.RealtimeProvider {
	case "xai", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("REALTIME_PROVIDER must be one of xai|openai|mock, got %q", cfg.RealtimeProvider)
	}
	switch cfg.RealtimeTurnMode {
	case "server_vad", "manual":
	default:
		return Config{}, fmt.Errorf("REALTIME_TURN_MODE must be server_vad or manual, got %q", cfg.RealtimeTurnMode)
	}
	switch cfg.BillingMode {
	case "memory":
	case "http":
		if cfg.BillingURL == "" {
			return Config{}, fmt.Errorf("BILLING_URL is required when BILLING_MODE=http")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when BILLING_MODE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("BILLING_MODE must be one of memory|http|postgres, got %q", cfg.BillingMode)
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.RealtimeSampleRate <= 0 {
		return Config{}, fmt.Errorf("REALTIME_SAMPLE_RATE must be positive")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("TOOL_TIMEOUT must be positive")
	}
	if cfg.VADSilenceDebounce <= 0 {
		return Config{}, fmt.Errorf("VAD_SILENCE_DEBOUNCE must be positive")
	}
	if cfg.VADEnergyThreshold <= 0 || cfg.VADEnergyThreshold >= 1 {
		return Config{}, fmt.Errorf("VAD_ENERGY_THRESHOLD must be within (0, 1)")
	}
	if cfg.BillingMinuteCost <= 0 {
		return Config{}, fmt.Errorf("BILLING_MINUTE_COST must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
