package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file, applies defaults and environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment alone form a runnable configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing configuration file %q: %w", path, err)
		}
	case os.IsNotExist(err):
		// Run on defaults and environment.
	default:
		return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variables on top of the file.
// Variables use the RELAY_ prefix; USAGE_STRATEGY is also honored bare.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("USAGE_STRATEGY"); v != "" {
		cfg.Usage.Strategy = v
	}
	if v := os.Getenv("RELAY_USAGE_STRATEGY"); v != "" {
		cfg.Usage.Strategy = v
	}
	if v := os.Getenv("RELAY_USAGE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Usage.FlushInterval = d
		}
	}
	if v := os.Getenv("RELAY_USAGE_SQLITE_PATH"); v != "" {
		cfg.Usage.SQLitePath = v
	}

	if v := os.Getenv("RELAY_RECORD_URL"); v != "" {
		cfg.Usage.Record.URL = v
	}
	if v := os.Getenv("RELAY_RECORD_IDENTITY"); v != "" {
		cfg.Usage.Record.Identity = v
	}
	if v := os.Getenv("RELAY_RECORD_PASSWORD"); v != "" {
		cfg.Usage.Record.Password = v
	}
	if v := os.Getenv("RELAY_RECORD_USAGE_COLLECTION"); v != "" {
		cfg.Usage.Record.UsageCollection = v
	}

	if v := os.Getenv("RELAY_KEYS_STRATEGY"); v != "" {
		cfg.Keys.Strategy = v
	}
	if v := os.Getenv("RELAY_KEYS_URL"); v != "" {
		cfg.Keys.URL = v
	}
	if v := os.Getenv("RELAY_KEYS_COLLECTION"); v != "" {
		cfg.Keys.Collection = v
	}
	if v := os.Getenv("RELAY_FALLBACK_DELAY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Keys.FallbackDelayMS = n
		}
	}
	if v := os.Getenv("RELAY_KEYS_WATCH"); v != "" {
		cfg.Keys.WatchPath = v
	}

	if v := os.Getenv("RELAY_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Telemetry.Logging.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Telemetry.Logging.Format = v
	}
	if v := os.Getenv("RELAY_TRACING_ENDPOINT"); v != "" {
		cfg.Telemetry.Tracing.Enabled = true
		cfg.Telemetry.Tracing.Endpoint = v
	}
}
