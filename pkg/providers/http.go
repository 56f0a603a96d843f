package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody caps how much of a provider error body is kept.
const maxErrorBody = 2048

// httpClient is the shared base for HTTP provider adapters: pooled
// transport, a request timeout, and a JSON round-trip helper.
type httpClient struct {
	name   string
	client *http.Client
}

// newHTTPClient builds the base with connection pooling.
func newHTTPClient(name string, timeout time.Duration) *httpClient {
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &httpClient{
		name: name,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// postJSON sends body as JSON and decodes the 2xx response into out.
// Non-2xx answers become *APIError with the provider's message.
func (h *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", h.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Transport failures are provider failures too: the caller maps
		// the sentinel to a 502 regardless of how the call died.
		return fmt.Errorf("%s: %w: %w", h.name, ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w: %w", h.name, ErrProviderFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &APIError{Provider: h.name, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w: %w", h.name, ErrProviderFailure, err)
	}
	return nil
}

// close releases idle connections.
func (h *httpClient) close() {
	h.client.CloseIdleConnections()
}
