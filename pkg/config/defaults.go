package config

import "time"

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "mistral"
	}
	if len(cfg.Providers.Enabled) == 0 {
		cfg.Providers.Enabled = []string{"mistral", "gemini"}
	}
	if cfg.Providers.Mistral.Timeout == 0 {
		cfg.Providers.Mistral.Timeout = 120 * time.Second
	}
	if cfg.Providers.Gemini.Timeout == 0 {
		cfg.Providers.Gemini.Timeout = 120 * time.Second
	}

	if cfg.Keys.Strategy == "" {
		cfg.Keys.Strategy = "env"
	}
	if cfg.Keys.Collection == "" {
		cfg.Keys.Collection = "api_keys"
	}
	if cfg.Keys.FallbackDelayMS == 0 {
		cfg.Keys.FallbackDelayMS = 1000
	}

	if cfg.Usage.Strategy == "" {
		cfg.Usage.Strategy = "memory"
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 15 * time.Second
	}
	if cfg.Usage.SQLitePath == "" {
		cfg.Usage.SQLitePath = "relay-usage.db"
	}
	if cfg.Usage.Record.UsageCollection == "" {
		cfg.Usage.Record.UsageCollection = "usage"
	}

	if cfg.Tokens.Estimator == "" {
		cfg.Tokens.Estimator = "simple"
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = "relay"
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = 1.0
	}
}
