package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPResolver fetches key configurations from a plain JSON endpoint
// returning an array of entries in the same shape the record store uses.
type HTTPResolver struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPResolver creates a resolver for a key endpoint.
func NewHTTPResolver(url string, timeout time.Duration, logger *slog.Logger) (*HTTPResolver, error) {
	if url == "" {
		return nil, fmt.Errorf("keys: endpoint URL cannot be empty")
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPResolver{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Resolve fetches the endpoint and returns the entries for a provider.
func (r *HTTPResolver) Resolve(ctx context.Context, provider string) ([]KeyConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keys: fetching %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("keys: fetching %s: status %d", r.url, resp.StatusCode)
	}

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("keys: decoding response: %w", err)
	}

	var configs []KeyConfig
	for i, e := range entries {
		if !e.matches(provider) {
			continue
		}
		kc, err := e.toKeyConfig(fmt.Sprintf("%s-%d", provider, i))
		if err != nil {
			r.logger.Warn("skipping key entry with bad limits", "index", i, "error", err)
			continue
		}
		configs = append(configs, kc)
	}

	configs = dedupe(configs)
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w for provider %q at %s", ErrNoKeys, provider, r.url)
	}
	return configs, nil
}

// Strategy returns "http".
func (r *HTTPResolver) Strategy() string {
	return StrategyHTTP
}
