package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Endpoint string // FLEETBUS_ENDPOINT (default "tcp://127.0.0.1:3000")

	// Pacing
	Settle         time.Duration // FLEETBUS_SETTLE (default 1s)
	SettleMax      time.Duration // FLEETBUS_SETTLE_MAX (default 0 = interest gate off)
	MinSubscribers int           // FLEETBUS_MIN_SUBSCRIBERS (default 0)
	CycleInterval  time.Duration // FLEETBUS_CYCLE_INTERVAL (default 1s)
	Linger         time.Duration // FLEETBUS_LINGER (default 2s)
	RateLimit      float64       // FLEETBUS_RATE_LIMIT (sends/second, default 0 = unlimited)

	// Binding
	BindAttempts  int           // FLEETBUS_BIND_ATTEMPTS (default 1)
	BindRetryWait time.Duration // FLEETBUS_BIND_RETRY_WAIT (default 5s)

	DedupeWindow time.Duration // FLEETBUS_DEDUPE_WINDOW (default 10s)

	// Remote plans
	S3Region   string // FLEETBUS_S3_REGION (default "us-east-1")
	S3Endpoint string // FLEETBUS_S3_ENDPOINT (custom endpoint for MinIO)

	LogLevel  slog.Level // FLEETBUS_LOG_LEVEL (default info)
	LogFormat string     // FLEETBUS_LOG_FORMAT (text or json, default text)
}

func Load() (*Config, error) {
	c := &Config{
		Endpoint:   envOrDefault("FLEETBUS_ENDPOINT", "tcp://127.0.0.1:3000"),
		S3Region:   envOrDefault("FLEETBUS_S3_REGION", "us-east-1"),
		S3Endpoint: os.Getenv("FLEETBUS_S3_ENDPOINT"),
		LogFormat:  strings.ToLower(envOrDefault("FLEETBUS_LOG_FORMAT", "text")),
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"FLEETBUS_SETTLE", "1s", &c.Settle},
		{"FLEETBUS_SETTLE_MAX", "0", &c.SettleMax},
		{"FLEETBUS_CYCLE_INTERVAL", "1s", &c.CycleInterval},
		{"FLEETBUS_LINGER", "2s", &c.Linger},
		{"FLEETBUS_BIND_RETRY_WAIT", "5s", &c.BindRetryWait},
		{"FLEETBUS_DEDUPE_WINDOW", "10s", &c.DedupeWindow},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}

	var err error
	if c.MinSubscribers, err = envInt("FLEETBUS_MIN_SUBSCRIBERS", 0); err != nil {
		return nil, err
	}
	if c.BindAttempts, err = envInt("FLEETBUS_BIND_ATTEMPTS", 1); err != nil {
		return nil, err
	}
	if c.BindAttempts < 1 {
		return nil, fmt.Errorf("FLEETBUS_BIND_ATTEMPTS: must be at least 1")
	}

	rateStr := envOrDefault("FLEETBUS_RATE_LIMIT", "0")
	c.RateLimit, err = strconv.ParseFloat(rateStr, 64)
	if err != nil || c.RateLimit < 0 {
		return nil, fmt.Errorf("FLEETBUS_RATE_LIMIT: invalid rate %q", rateStr)
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("FLEETBUS_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("FLEETBUS_LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("FLEETBUS_LOG_FORMAT: want text or json, got %q", c.LogFormat)
	}

	return c, nil
}

// Logger builds the process logger described by the log settings.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid count %q", key, v)
	}
	return n, nil
}
