package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/routing"
	"mercator-hq/relay/pkg/tokens"
)

// Server is the HTTP front of the broker.
type Server struct {
	router    *routing.Router
	estimator tokens.Estimator
	cfg       config.ServerConfig
	logger    *slog.Logger

	httpServer *http.Server
	watcher    *fsnotify.Watcher
	watchPath  string
	watchDone  chan struct{}
}

// Config configures the server.
type Config struct {
	// Server holds the listen address and timeouts.
	Server config.ServerConfig

	// Router handles all routed work. Required.
	Router *routing.Router

	// Estimator serves /estimate-tokens. Required.
	Estimator tokens.Estimator

	// MetricsEnabled serves /metrics when true.
	MetricsEnabled bool

	// WatchPath, when set, is watched for writes; each write triggers a
	// key reload for every provider.
	WatchPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New builds the server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("server: router cannot be nil")
	}
	if cfg.Estimator == nil {
		return nil, fmt.Errorf("server: estimator cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		router:    cfg.Router,
		estimator: cfg.Estimator,
		cfg:       cfg.Server,
		logger:    cfg.Logger,
		watchPath: cfg.WatchPath,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /analyze-image", s.handleAnalyzeImage)
	mux.HandleFunc("GET /queue/status", s.handleQueueStatus)
	mux.HandleFunc("GET /usage", s.handleUsage)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /estimate-tokens", s.handleEstimateTokens)
	mux.HandleFunc("POST /admin/reload-keys", s.handleReloadKeys)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// ListenAndServe starts the key watcher (when configured) and serves until
// Shutdown.
func (s *Server) ListenAndServe() error {
	if s.watchPath != "" {
		if err := s.startWatcher(); err != nil {
			s.logger.Warn("key watcher unavailable", "path", s.watchPath, "error", err)
		}
	}

	s.logger.Info("listening", "address", s.cfg.ListenAddress)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the watcher and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Close()
		<-s.watchDone
	}
	return s.httpServer.Shutdown(ctx)
}

// startWatcher reloads keys whenever the watched file is written. The
// parent directory is watched so editors that replace the file atomically
// still trigger.
func (s *Server) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.watchPath)); err != nil {
		w.Close()
		return err
	}

	s.watcher = w
	s.watchDone = make(chan struct{})

	go func() {
		defer close(s.watchDone)
		target := filepath.Clean(s.watchPath)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				s.logger.Info("key file changed, reloading", "path", s.watchPath)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.router.ReloadKeys(ctx, routing.ReloadAll); err != nil {
					s.logger.Warn("key reload failed", "error", err)
				}
				cancel()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("key watcher error", "error", err)
			}
		}
	}()

	s.logger.Info("watching key file", "path", s.watchPath)
	return nil
}
