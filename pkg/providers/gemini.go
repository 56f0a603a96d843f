package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// defaultGeminiBaseURL is the public Generative Language API root.
const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini is a generateContent adapter for the Google Generative Language
// API. System messages are folded into the system instruction; assistant
// turns map to the "model" role.
type Gemini struct {
	*httpClient
	apiKey  string
	baseURL string
}

// GeminiConfig configures a Gemini client.
type GeminiConfig struct {
	// APIKey authenticates every request.
	APIKey string

	// BaseURL overrides the API root; empty selects the public API.
	BaseURL string

	// Timeout bounds each call. Default: 120s.
	Timeout time.Duration
}

// NewGemini creates a Gemini client.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key cannot be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	return &Gemini{
		httpClient: newHTTPClient("gemini", cfg.Timeout),
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Chat sends a conversation and returns the first candidate's text.
func (g *Gemini) Chat(ctx context.Context, model string, history []Message) (string, error) {
	req := geminiRequest{}
	for _, h := range history {
		switch h.Role {
		case RoleSystem:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts,
				geminiPart{Text: h.Content})
		case RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: h.Content}},
			})
		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: h.Content}},
			})
		}
	}
	return g.generate(ctx, model, req)
}

// AnalyzeImage sends a prompt plus a base64 image as inline data.
func (g *Gemini) AnalyzeImage(ctx context.Context, model, imageB64, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{MimeType: "image/jpeg", Data: imageB64}},
			},
		}},
	}
	return g.generate(ctx, model, req)
}

func (g *Gemini) generate(ctx context.Context, model string, req geminiRequest) (string, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))

	var resp geminiResponse
	if err := g.postJSON(ctx, endpoint, nil, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		text += p.Text
	}
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return text, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string {
	return "gemini"
}

// Close releases idle connections.
func (g *Gemini) Close() error {
	g.close()
	return nil
}
