package server

import (
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/routing"
)

// askRequest is the POST /ask body.
type askRequest struct {
	History []providers.Message `json:"history"`
	Model   *routing.TargetSpec `json:"model"`
}

// askResponse is the POST /ask reply.
type askResponse struct {
	Response  string                   `json:"response"`
	Provider  string                   `json:"provider"`
	Model     string                   `json:"model"`
	Providers map[string]providerState `json:"providers"`
}

// providerState is the per-provider queue summary attached to replies.
type providerState struct {
	TotalQueueLength int `json:"totalQueueLength"`
}

// analyzeRequest is the POST /analyze-image body.
type analyzeRequest struct {
	Image  string              `json:"image"`
	Prompt string              `json:"prompt"`
	Model  *routing.TargetSpec `json:"model"`
}

// analyzeResponse is the POST /analyze-image reply.
type analyzeResponse struct {
	Analysis  string                   `json:"analysis"`
	Provider  string                   `json:"provider"`
	Model     string                   `json:"model"`
	Providers map[string]providerState `json:"providers"`
}

// estimateResponse is the GET /estimate-tokens reply.
type estimateResponse struct {
	Model           string `json:"model"`
	TextLength      int    `json:"textLength"`
	EstimatedTokens int    `json:"estimatedTokens"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}
