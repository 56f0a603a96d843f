package config

import (
	"errors"
	"fmt"
)

// ErrConfigInvalid is the sentinel every validation failure matches with
// errors.Is().
var ErrConfigInvalid = errors.New("invalid configuration")

// Validate checks cross-field consistency after defaults and overrides.
func Validate(cfg *Config) error {
	switch cfg.Usage.Strategy {
	case "memory", "sqlite":
	case "remote":
		if cfg.Usage.Record.URL == "" {
			return fmt.Errorf("%w: usage strategy %q requires record.url", ErrConfigInvalid, cfg.Usage.Strategy)
		}
	default:
		return fmt.Errorf("%w: unknown usage strategy %q (memory, remote, sqlite)", ErrConfigInvalid, cfg.Usage.Strategy)
	}

	switch cfg.Keys.Strategy {
	case "env":
	case "record":
		if cfg.Usage.Record.URL == "" {
			return fmt.Errorf("%w: keys strategy %q requires record.url", ErrConfigInvalid, cfg.Keys.Strategy)
		}
	case "http":
		if cfg.Keys.URL == "" {
			return fmt.Errorf("%w: keys strategy %q requires keys.url", ErrConfigInvalid, cfg.Keys.Strategy)
		}
	default:
		return fmt.Errorf("%w: unknown keys strategy %q (env, record, http)", ErrConfigInvalid, cfg.Keys.Strategy)
	}

	if cfg.Keys.FallbackDelayMS < 0 {
		return fmt.Errorf("%w: fallback_delay_ms cannot be negative", ErrConfigInvalid)
	}

	switch cfg.Tokens.Estimator {
	case "simple", "tiktoken":
	default:
		return fmt.Errorf("%w: unknown token estimator %q (simple, tiktoken)", ErrConfigInvalid, cfg.Tokens.Estimator)
	}

	defaultEnabled := false
	for _, p := range cfg.Providers.Enabled {
		if p == cfg.Providers.Default {
			defaultEnabled = true
		}
		switch p {
		case "mistral", "gemini":
		default:
			return fmt.Errorf("%w: unknown provider %q (mistral, gemini)", ErrConfigInvalid, p)
		}
	}
	if !defaultEnabled {
		return fmt.Errorf("%w: default provider %q is not enabled", ErrConfigInvalid, cfg.Providers.Default)
	}

	if cfg.Telemetry.Tracing.Enabled && cfg.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("%w: tracing requires an endpoint", ErrConfigInvalid)
	}

	return nil
}
