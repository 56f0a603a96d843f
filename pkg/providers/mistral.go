package providers

import (
	"context"
	"fmt"
	"time"
)

// defaultMistralBaseURL is the public Mistral API root.
const defaultMistralBaseURL = "https://api.mistral.ai"

// Mistral is a chat-completions adapter for the Mistral API. Vision models
// take the image as a data-URL content part.
type Mistral struct {
	*httpClient
	apiKey  string
	baseURL string
}

// MistralConfig configures a Mistral client.
type MistralConfig struct {
	// APIKey authenticates every request.
	APIKey string

	// BaseURL overrides the API root; empty selects the public API.
	BaseURL string

	// Timeout bounds each call. Default: 120s.
	Timeout time.Duration
}

// NewMistral creates a Mistral client.
func NewMistral(cfg MistralConfig) (*Mistral, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mistral: API key cannot be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMistralBaseURL
	}
	return &Mistral{
		httpClient: newHTTPClient("mistral", cfg.Timeout),
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}, nil
}

// mistralMessage carries either plain text content or content parts.
type mistralMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type mistralContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type mistralResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends a conversation and returns the first choice's text.
func (m *Mistral) Chat(ctx context.Context, model string, history []Message) (string, error) {
	msgs := make([]mistralMessage, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, mistralMessage{Role: h.Role, Content: h.Content})
	}
	return m.complete(ctx, model, msgs)
}

// AnalyzeImage sends a prompt plus a base64 image as a data URL.
func (m *Mistral) AnalyzeImage(ctx context.Context, model, imageB64, prompt string) (string, error) {
	msgs := []mistralMessage{{
		Role: RoleUser,
		Content: []mistralContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: "data:image/jpeg;base64," + imageB64},
		},
	}}
	return m.complete(ctx, model, msgs)
}

func (m *Mistral) complete(ctx context.Context, model string, msgs []mistralMessage) (string, error) {
	body := map[string]any{
		"model":    model,
		"messages": msgs,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + m.apiKey,
	}

	var resp mistralResponse
	if err := m.postJSON(ctx, m.baseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("mistral: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Name returns "mistral".
func (m *Mistral) Name() string {
	return "mistral"
}

// Close releases idle connections.
func (m *Mistral) Close() error {
	m.close()
	return nil
}
