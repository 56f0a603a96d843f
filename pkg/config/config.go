package config

import "time"

// Config is the root configuration.
type Config struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Providers configures the upstream LLM APIs.
	Providers ProvidersConfig `yaml:"providers"`

	// Keys configures API key resolution.
	Keys KeysConfig `yaml:"keys"`

	// Usage configures usage-counter persistence.
	Usage UsageConfig `yaml:"usage"`

	// Tokens configures token estimation.
	Tokens TokensConfig `yaml:"tokens"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// ListenAddress is "host:port". Default: "127.0.0.1:8080".
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading one request. Default: 30s.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing one response. Requests wait in queues
	// for their limits, so this defaults generously to 10m.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout bounds idle keep-alive connections. Default: 120s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ProvidersConfig configures the upstream providers.
type ProvidersConfig struct {
	// Default receives bare model names. Default: "mistral".
	Default string `yaml:"default"`

	// Enabled lists the providers to bootstrap. Default: mistral, gemini.
	Enabled []string `yaml:"enabled"`

	// Mistral and Gemini override endpoint and timeout per provider.
	Mistral ProviderConfig `yaml:"mistral"`
	Gemini  ProviderConfig `yaml:"gemini"`
}

// ProviderConfig is one provider's endpoint settings.
type ProviderConfig struct {
	// BaseURL overrides the API root. Empty selects the public API.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each provider call. Default: 120s.
	Timeout time.Duration `yaml:"timeout"`
}

// KeysConfig configures key resolution.
type KeysConfig struct {
	// Strategy is env, record or http. Default: env.
	Strategy string `yaml:"strategy"`

	// URL is the endpoint for the http strategy.
	URL string `yaml:"url"`

	// Collection is the record collection for the record strategy.
	// Default: "api_keys".
	Collection string `yaml:"collection"`

	// FallbackDelayMS is the inter-request delay for keys without
	// structured limits. Default: 1000.
	FallbackDelayMS int64 `yaml:"fallback_delay_ms"`

	// WatchPath, when set, is a file watched for changes; a write
	// triggers a key reload for every provider.
	WatchPath string `yaml:"watch_path"`
}

// UsageConfig configures usage persistence.
type UsageConfig struct {
	// Strategy is memory, remote or sqlite. Default: memory.
	Strategy string `yaml:"strategy"`

	// FlushInterval is how often dirty buckets flush. Default: 15s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// SQLitePath is the database file for the sqlite strategy.
	// Default: "relay-usage.db".
	SQLitePath string `yaml:"sqlite_path"`

	// Record configures the record store for the remote strategy and the
	// record key resolver.
	Record RecordConfig `yaml:"record"`
}

// RecordConfig is the external record store connection.
type RecordConfig struct {
	// URL is the store root, e.g. "http://127.0.0.1:8090".
	URL string `yaml:"url"`

	// Identity and Password authenticate the client.
	Identity string `yaml:"identity"`
	Password string `yaml:"password"`

	// UsageCollection holds usage buckets. Default: "usage".
	UsageCollection string `yaml:"usage_collection"`
}

// TokensConfig configures token estimation.
type TokensConfig struct {
	// Estimator is simple or tiktoken. Default: simple.
	Estimator string `yaml:"estimator"`

	// CharsPerToken maps model-name prefixes to character ratios for the
	// simple estimator.
	CharsPerToken map[string]float64 `yaml:"chars_per_token"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level"`

	// Format is json or text. Default: json.
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	// Enabled serves /metrics. Default: true.
	Enabled *bool `yaml:"enabled"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Enabled turns span export on. Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	// ServiceName identifies this process. Default: "relay".
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the sampled fraction. Default: 1.0.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsEnabled resolves the tri-state metrics flag.
func (c *Config) MetricsEnabled() bool {
	return c.Telemetry.Metrics.Enabled == nil || *c.Telemetry.Metrics.Enabled
}
