package config

import (
	"log/slog"
	"testing"
	"time"
)

// envVars lists every variable Load reads; each test starts with all of them cleared.
var envVars = []string{
	"FLEETBUS_ENDPOINT", "FLEETBUS_SETTLE", "FLEETBUS_SETTLE_MAX", "FLEETBUS_MIN_SUBSCRIBERS",
	"FLEETBUS_CYCLE_INTERVAL", "FLEETBUS_LINGER", "FLEETBUS_RATE_LIMIT", "FLEETBUS_BIND_ATTEMPTS",
	"FLEETBUS_BIND_RETRY_WAIT", "FLEETBUS_DEDUPE_WINDOW", "FLEETBUS_S3_REGION", "FLEETBUS_S3_ENDPOINT",
	"FLEETBUS_LOG_LEVEL", "FLEETBUS_LOG_FORMAT",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Config{
		Endpoint:      "tcp://127.0.0.1:3000",
		Settle:        time.Second,
		CycleInterval: time.Second,
		Linger:        2 * time.Second,
		BindAttempts:  1,
		BindRetryWait: 5 * time.Second,
		DedupeWindow:  10 * time.Second,
		S3Region:      "us-east-1",
		LogLevel:      slog.LevelInfo,
		LogFormat:     "text",
	}
	if *cfg != want {
		t.Errorf("Load() = %+v\nwant     %+v", *cfg, want)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearAllEnv(t)
	for k, v := range map[string]string{
		"FLEETBUS_ENDPOINT":        "tcp://0.0.0.0:3001",
		"FLEETBUS_SETTLE":          "250ms",
		"FLEETBUS_SETTLE_MAX":      "5s",
		"FLEETBUS_MIN_SUBSCRIBERS": "2",
		"FLEETBUS_CYCLE_INTERVAL":  "3s",
		"FLEETBUS_LINGER":          "0s",
		"FLEETBUS_RATE_LIMIT":      "12.5",
		"FLEETBUS_BIND_ATTEMPTS":   "10",
		"FLEETBUS_BIND_RETRY_WAIT": "1s",
		"FLEETBUS_S3_ENDPOINT":     "http://localhost:9000",
		"FLEETBUS_LOG_LEVEL":       "debug",
		"FLEETBUS_LOG_FORMAT":      "JSON",
	} {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != "tcp://0.0.0.0:3001" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Settle != 250*time.Millisecond || cfg.SettleMax != 5*time.Second || cfg.MinSubscribers != 2 {
		t.Errorf("settle = %v/%v/%d", cfg.Settle, cfg.SettleMax, cfg.MinSubscribers)
	}
	if cfg.CycleInterval != 3*time.Second || cfg.Linger != 0 {
		t.Errorf("CycleInterval = %v, Linger = %v", cfg.CycleInterval, cfg.Linger)
	}
	if cfg.RateLimit != 12.5 {
		t.Errorf("RateLimit = %v", cfg.RateLimit)
	}
	if cfg.BindAttempts != 10 || cfg.BindRetryWait != time.Second {
		t.Errorf("bind = %d/%v", cfg.BindAttempts, cfg.BindRetryWait)
	}
	if cfg.S3Endpoint != "http://localhost:9000" {
		t.Errorf("S3Endpoint = %q", cfg.S3Endpoint)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "json" {
		t.Errorf("log = %v/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		key  string
		val  string
	}{
		{"BadSettle", "FLEETBUS_SETTLE", "soon"},
		{"NegativeLinger", "FLEETBUS_LINGER", "-1s"},
		{"BadMinSubscribers", "FLEETBUS_MIN_SUBSCRIBERS", "many"},
		{"ZeroBindAttempts", "FLEETBUS_BIND_ATTEMPTS", "0"},
		{"NegativeRate", "FLEETBUS_RATE_LIMIT", "-3"},
		{"BadLevel", "FLEETBUS_LOG_LEVEL", "loud"},
		{"BadFormat", "FLEETBUS_LOG_FORMAT", "xml"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestConfig_Logger(t *testing.T) {
	cfg := &Config{LogLevel: slog.LevelWarn, LogFormat: "json"}
	l := cfg.Logger()
	if l.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !l.Enabled(t.Context(), slog.LevelError) {
		t.Error("error disabled at warn level")
	}
}
