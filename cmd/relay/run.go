package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/queue"
	"mercator-hq/relay/pkg/recordstore"
	"mercator-hq/relay/pkg/routing"
	"mercator-hq/relay/pkg/server"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/tokens"
	"mercator-hq/relay/pkg/usage"
)

var runFlags struct {
	listenAddress string
	logLevel      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay broker",
	Long: `Start the relay broker with the specified configuration.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/config.yaml

  # Override listen address
  relay run --listen 0.0.0.0:8080`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tracer, err := tracing.New(tracing.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		ServiceName: cfg.Telemetry.Tracing.ServiceName,
		SampleRatio: cfg.Telemetry.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	var collectors *metrics.Metrics
	if cfg.MetricsEnabled() {
		collectors = metrics.Default()
	}

	// One record store client serves both the remote usage store and the
	// record key resolver.
	var records *recordstore.Client
	if cfg.Usage.Strategy == "remote" || cfg.Keys.Strategy == keys.StrategyRecord {
		records, err = recordstore.New(recordstore.Config{
			BaseURL:  cfg.Usage.Record.URL,
			Identity: cfg.Usage.Record.Identity,
			Password: cfg.Usage.Record.Password,
		})
		if err != nil {
			return err
		}
	}

	resolver, err := buildResolver(cfg, records, logger)
	if err != nil {
		return err
	}

	estimator := buildEstimator(cfg)

	build := func(ctx context.Context, provider string, kc keys.KeyConfig) (*queue.Queuer, providers.Client, error) {
		store, err := buildStore(cfg, records, kc.Label, logger)
		if err != nil {
			return nil, nil, err
		}

		client, err := buildClient(cfg, provider, kc.Key)
		if err != nil {
			store.Dispose()
			return nil, nil, err
		}

		q := queue.New(queue.Config{
			Label:           kc.Label,
			DefaultLimits:   kc.DefaultLimits,
			ModelLimits:     kc.ModelLimits,
			FallbackDelayMS: kc.FallbackDelayMS,
			Store:           store,
			Estimator:       estimator,
			Metrics:         collectors,
			Logger:          logger,
		})
		return q, client, nil
	}

	ctx := context.Background()
	router, err := routing.NewRouter(ctx, routing.Config{
		DefaultProvider: cfg.Providers.Default,
		Providers:       cfg.Providers.Enabled,
		Resolver:        resolver,
		Build:           build,
		Estimator:       estimator,
		Tracer:          tracer,
		Metrics:         collectors,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer router.Close()

	srv, err := server.New(server.Config{
		Server:         cfg.Server,
		Router:         router,
		Estimator:      estimator,
		MetricsEnabled: cfg.MetricsEnabled(),
		WatchPath:      cfg.Keys.WatchPath,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// buildResolver constructs the configured key resolver.
func buildResolver(cfg *config.Config, records *recordstore.Client, logger *slog.Logger) (keys.Resolver, error) {
	switch cfg.Keys.Strategy {
	case keys.StrategyEnv:
		return &keys.EnvResolver{FallbackDelayMS: cfg.Keys.FallbackDelayMS}, nil
	case keys.StrategyRecord:
		return keys.NewRecordResolver(records, cfg.Keys.Collection, logger)
	case keys.StrategyHTTP:
		return keys.NewHTTPResolver(cfg.Keys.URL, 0, logger)
	}
	return nil, fmt.Errorf("unknown keys strategy %q", cfg.Keys.Strategy)
}

// buildEstimator constructs the configured token estimator.
func buildEstimator(cfg *config.Config) tokens.Estimator {
	simple := tokens.NewSimple(tokens.SimpleConfig{CharsPerToken: cfg.Tokens.CharsPerToken})
	if cfg.Tokens.Estimator == "tiktoken" {
		return tokens.NewTiktoken(simple)
	}
	return simple
}

// buildStore constructs one queue's usage store per the configured
// strategy.
func buildStore(cfg *config.Config, records *recordstore.Client, label string, logger *slog.Logger) (usage.Store, error) {
	switch cfg.Usage.Strategy {
	case "memory":
		return usage.NewMemoryStore(), nil
	case "remote":
		return usage.NewRemoteStore(usage.RemoteStoreConfig{
			Client:        records,
			Collection:    cfg.Usage.Record.UsageCollection,
			Label:         label,
			FlushInterval: cfg.Usage.FlushInterval,
			Logger:        logger,
		})
	case "sqlite":
		return usage.NewSQLiteStore(usage.SQLiteStoreConfig{
			Path:          sqlitePathFor(cfg.Usage.SQLitePath, label),
			FlushInterval: cfg.Usage.FlushInterval,
			Logger:        logger,
		})
	}
	return nil, fmt.Errorf("unknown usage strategy %q", cfg.Usage.Strategy)
}

// sqlitePathFor gives each queue its own database file so model keys from
// different queues cannot collide.
func sqlitePathFor(base, label string) string {
	if label == "" {
		return base
	}
	ext := filepath.Ext(base)
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, label)
	return strings.TrimSuffix(base, ext) + "-" + safe + ext
}

// buildClient constructs the provider adapter for one key.
func buildClient(cfg *config.Config, provider, apiKey string) (providers.Client, error) {
	switch provider {
	case "mistral":
		return providers.NewMistral(providers.MistralConfig{
			APIKey:  apiKey,
			BaseURL: cfg.Providers.Mistral.BaseURL,
			Timeout: cfg.Providers.Mistral.Timeout,
		})
	case "gemini":
		return providers.NewGemini(providers.GeminiConfig{
			APIKey:  apiKey,
			BaseURL: cfg.Providers.Gemini.BaseURL,
			Timeout: cfg.Providers.Gemini.Timeout,
		})
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}
