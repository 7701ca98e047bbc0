package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "APIPULSE_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Addr     string `koanf:"addr"`      // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir   string `koanf:"log_dir"`   // logs directory
	LogLevel string `koanf:"log_level"` // debug, info, warn, error

	AssetsSource string `koanf:"assets_source"` // endpoint document: http(s) URL or file path
	BaseURL      string `koanf:"base_url"`      // resolves proxy-style targets such as "/qa-api/..."

	ProbeTimeoutMS  int `koanf:"probe_timeout_ms"`
	Concurrency     int `koanf:"concurrency"`
	SweepIntervalMS int `koanf:"sweep_interval_ms"` // 0 = sweep once at startup
	RetryAttempts   int `koanf:"retry_attempts"`    // 1 = no retry
	RetryBackoffMS  int `koanf:"retry_backoff_ms"`

	OffloadEnabled bool `koanf:"offload_enabled"`
	OffloadBuffer  int  `koanf:"offload_buffer"`

	AllowedOrigins []string `koanf:"allowed_origins"` // empty = allow all
	RatePerMin     int      `koanf:"rate_per_min"`    // per client IP, POST routes
	RateBurst      int      `koanf:"rate_burst"`
}

func Defaults() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		LogDir:          "logs",
		LogLevel:        "info",
		AssetsSource:    "assets/endpoints.json",
		ProbeTimeoutMS:  15000,
		Concurrency:     6,
		SweepIntervalMS: 0,
		RetryAttempts:   1,
		RetryBackoffMS:  300,
		OffloadEnabled:  true,
		OffloadBuffer:   64,
		RatePerMin:      30,
		RateBurst:       10,
	}
}

// Load layers defaults, an optional YAML file named by APIPULSE_CONFIG,
// and APIPULSE_* environment variables, in that order.
func Load(_ context.Context) (Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// APIPULSE_PROBE_TIMEOUT_MS -> probe_timeout_ms; list keys are comma separated
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var listKeys = map[string]struct{}{
	"allowed_origins": {},
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.AssetsSource) == "":
		return fmt.Errorf("%w: assets_source must not be empty", ErrInvalidConfig)
	case c.ProbeTimeoutMS <= 0:
		return fmt.Errorf("%w: probe_timeout_ms must be positive", ErrInvalidConfig)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	case c.SweepIntervalMS < 0:
		return fmt.Errorf("%w: sweep_interval_ms must not be negative", ErrInvalidConfig)
	case c.RetryAttempts < 1:
		return fmt.Errorf("%w: retry_attempts must be at least 1", ErrInvalidConfig)
	case c.RetryBackoffMS < 0:
		return fmt.Errorf("%w: retry_backoff_ms must not be negative", ErrInvalidConfig)
	case c.RatePerMin < 0 || c.RateBurst < 0:
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) ProbeTimeout() time.Duration { return ms(c.ProbeTimeoutMS) }
func (c Config) SweepInterval() time.Duration { return ms(c.SweepIntervalMS) }
func (c Config) RetryBackoff() time.Duration  { return ms(c.RetryBackoffMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
