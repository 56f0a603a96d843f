package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/routing"
)

// maxBodyBytes bounds request bodies; images arrive base64-encoded.
const maxBodyBytes = 32 << 20

// handleAsk routes a chat request and waits for its completion.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}

	if len(req.History) == 0 {
		s.writeError(w, http.StatusBadRequest, "history cannot be empty")
		return
	}
	for i, m := range req.History {
		if !providers.ValidRole(m.Role) {
			s.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("history[%d]: unknown role %q", i, m.Role))
			return
		}
	}

	result, err := s.router.Ask(r.Context(), req.History, req.Model)
	if err != nil {
		s.writeRoutedError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, askResponse{
		Response:  result.Response,
		Provider:  result.Provider,
		Model:     result.Model,
		Providers: s.providerStates(),
	})
}

// handleAnalyzeImage routes an image analysis.
func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}

	if req.Image == "" {
		s.writeError(w, http.StatusBadRequest, "image cannot be empty")
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil {
		s.writeError(w, http.StatusBadRequest, "image is not valid base64")
		return
	}

	result, err := s.router.AnalyzeImage(r.Context(), req.Image, req.Prompt, req.Model)
	if err != nil {
		s.writeRoutedError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, analyzeResponse{
		Analysis:  result.Analysis,
		Provider:  result.Provider,
		Model:     result.Model,
		Providers: s.providerStates(),
	})
}

// handleQueueStatus reports per-provider queue states.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Status())
}

// handleUsage reports per-queue and aggregated usage.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Usage())
}

// handleModels lists the models with explicit limits per provider.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Models())
}

// handleEstimateTokens sizes a text for a model.
func (s *Server) handleEstimateTokens(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	model := r.URL.Query().Get("model")

	s.writeJSON(w, http.StatusOK, estimateResponse{
		Model:           model,
		TextLength:      len(text),
		EstimatedTokens: s.estimator.Estimate(text, model),
	})
}

// handleReloadKeys re-resolves key configurations.
func (s *Server) handleReloadKeys(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		s.writeError(w, http.StatusBadRequest, "provider query parameter is required")
		return
	}

	err := s.router.ReloadKeys(r.Context(), provider)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "provider": provider})
	case errors.Is(err, routing.ErrReloadUnsupported):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, routing.ErrUnknownProvider):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("key reload failed", "provider", provider, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// providerStates summarizes queue depth per provider for reply envelopes.
func (s *Server) providerStates() map[string]providerState {
	lengths := s.router.TotalQueueLengths()
	out := make(map[string]providerState, len(lengths))
	for provider, n := range lengths {
		out[provider] = providerState{TotalQueueLength: n}
	}
	return out
}

// decode reads a JSON body, replying 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return err
	}
	return nil
}

// writeRoutedError maps engine errors onto status codes: no provider is a
// 503, a provider-side failure surfaces unchanged as 502.
func (s *Server) writeRoutedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrNoAvailableProvider):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, routing.ErrEmptyHistory):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, providers.ErrProviderFailure):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
