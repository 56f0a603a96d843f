package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken estimates with a real BPE tokenizer. Encodings are resolved per
// model and cached; models tiktoken does not know fall back to the
// character-ratio estimate so the estimator stays infallible.
type Tiktoken struct {
	fallback *Simple

	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewTiktoken creates a BPE-backed estimator with the given fallback.
// A nil fallback gets default ratios.
func NewTiktoken(fallback *Simple) *Tiktoken {
	if fallback == nil {
		fallback = NewSimple(SimpleConfig{})
	}
	return &Tiktoken{
		fallback: fallback,
		cache:    make(map[string]*tiktoken.Tiktoken),
	}
}

// Estimate returns the BPE token count of text for model, or the fallback
// estimate when the model has no known encoding.
func (t *Tiktoken) Estimate(text, model string) int {
	if text == "" {
		return 0
	}

	enc := t.encodingFor(model)
	if enc == nil {
		return t.fallback.Estimate(text, model)
	}
	return len(enc.Encode(text, nil, nil))
}

// encodingFor resolves and caches the encoding for a model. Unknown models
// cache a nil entry so the lookup is not repeated.
func (t *Tiktoken) encodingFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.cache[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc = nil
	}
	t.cache[model] = enc
	return enc
}
