package tokens

import (
	"math"
	"strings"
)

// defaultCharsPerToken is the ratio used for models without an explicit
// entry. Four characters per token holds for most Latin-script text.
const defaultCharsPerToken = 4.0

// Simple is a character-ratio estimator. It divides the text length by a
// model-specific characters-per-token ratio, which stays within a few
// percent of the real tokenizer for typical prompts and costs well under a
// microsecond.
type Simple struct {
	ratios       map[string]float64
	defaultRatio float64
}

// SimpleConfig configures a Simple estimator.
type SimpleConfig struct {
	// CharsPerToken maps model-name prefixes to ratios.
	CharsPerToken map[string]float64

	// Default is the ratio for unmatched models. Default: 4.0.
	Default float64
}

// NewSimple creates a character-ratio estimator.
func NewSimple(cfg SimpleConfig) *Simple {
	if cfg.Default <= 0 {
		cfg.Default = defaultCharsPerToken
	}
	return &Simple{
		ratios:       cfg.CharsPerToken,
		defaultRatio: cfg.Default,
	}
}

// Estimate returns the estimated token count of text for model.
func (s *Simple) Estimate(text, model string) int {
	if text == "" {
		return 0
	}

	ratio := s.defaultRatio
	for prefix, r := range s.ratios {
		if r > 0 && strings.HasPrefix(model, prefix) {
			ratio = r
			break
		}
	}

	return int(math.Ceil(float64(len(text)) / ratio))
}
