package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrUnauthorized is returned when the store rejects the cached auth token.
// The client drops the token so the next call re-authenticates.
var ErrUnauthorized = fmt.Errorf("record store: unauthorized")

// Record is a single stored record. Fields beyond the id are kept raw so
// each caller can decode the shape its collection uses.
type Record struct {
	// ID is the store-assigned record identifier.
	ID string `json:"id"`

	// Data is the full record body, including the id.
	Data json.RawMessage `json:"-"`
}

// Config configures a record store client.
type Config struct {
	// BaseURL is the root of the record store, e.g. "http://127.0.0.1:8090".
	BaseURL string

	// Identity and Password authenticate against the admin auth endpoint.
	Identity string
	Password string

	// Timeout bounds each HTTP call. Default: 10s.
	Timeout time.Duration
}

// Client talks to one record store instance. It is safe for concurrent use;
// the auth token is shared across goroutines.
type Client struct {
	baseURL  string
	identity string
	password string
	http     *http.Client

	mu    sync.Mutex
	token string
}

// New creates a record store client. The client does not contact the store
// until the first request.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("record store base URL cannot be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		identity: cfg.Identity,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// List returns up to perPage records from a collection.
func (c *Client) List(ctx context.Context, collection string, perPage int) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/api/collections/%s/records?perPage=%d",
		c.baseURL, url.PathEscape(collection), perPage)

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("record store: decoding list response: %w", err)
	}

	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		var meta struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &meta); err != nil {
			continue
		}
		records = append(records, Record{ID: meta.ID, Data: item})
	}
	return records, nil
}

// Create inserts a record and returns its store-assigned id.
func (c *Client) Create(ctx context.Context, collection string, fields any) (string, error) {
	endpoint := fmt.Sprintf("%s/api/collections/%s/records",
		c.baseURL, url.PathEscape(collection))

	body, err := c.do(ctx, http.MethodPost, endpoint, fields)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("record store: decoding create response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("record store: create returned no id")
	}
	return created.ID, nil
}

// Update overwrites the fields of an existing record.
func (c *Client) Update(ctx context.Context, collection, id string, fields any) error {
	endpoint := fmt.Sprintf("%s/api/collections/%s/records/%s",
		c.baseURL, url.PathEscape(collection), url.PathEscape(id))

	_, err := c.do(ctx, http.MethodPatch, endpoint, fields)
	return err
}

// do performs an authenticated request, marshalling fields when present.
func (c *Client) do(ctx context.Context, method, endpoint string, fields any) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if fields != nil {
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("record store: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)
	if fields != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record store: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("record store: reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Token expired or revoked; drop it and re-authenticate next time.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return nil, ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("record store: %s %s: status %d: %s",
			method, endpoint, resp.StatusCode, string(body))
	}

	return body, nil
}

// ensureToken returns the cached auth token, acquiring one if needed.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	creds, err := json.Marshal(map[string]string{
		"identity": c.identity,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/api/collections/_superusers/auth-with-password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(creds))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("record store: authenticating: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("record store: authentication failed: status %d", resp.StatusCode)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("record store: decoding auth response: %w", err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("record store: authentication returned no token")
	}

	c.token = auth.Token
	return c.token, nil
}
