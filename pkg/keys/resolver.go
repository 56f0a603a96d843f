package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"mercator-hq/relay/pkg/ratelimit"
)

// Resolver strategies.
const (
	StrategyEnv    = "env"
	StrategyRecord = "record"
	StrategyHTTP   = "http"
)

// ErrNoKeys is returned when a resolver produces no key for a provider.
var ErrNoKeys = errors.New("no API keys resolved")

// Resolver produces the key configurations for a provider.
type Resolver interface {
	// Resolve returns the KeyConfigs for a provider, deduplicated by raw
	// key string.
	Resolve(ctx context.Context, provider string) ([]KeyConfig, error)

	// Strategy names the resolution strategy (env, record, http).
	Strategy() string
}

// entry is the wire shape shared by the record and HTTP resolvers.
type entry struct {
	Key             string          `json:"key"`
	Label           string          `json:"label"`
	Provider        string          `json:"provider"`
	Type            string          `json:"type"`
	Limit           json.RawMessage `json:"limit"`
	FallbackDelayMS int64           `json:"fallbackDelayMs"`
}

// matches reports whether the entry belongs to a provider, accepting the
// name in either the provider or type field.
func (e *entry) matches(provider string) bool {
	return e.Provider == provider || e.Type == provider
}

// toKeyConfig converts a wire entry, parsing the optional limit field.
func (e *entry) toKeyConfig(fallbackLabel string) (KeyConfig, error) {
	kc := KeyConfig{
		Key:             e.Key,
		Label:           e.Label,
		FallbackDelayMS: e.FallbackDelayMS,
	}
	if kc.Label == "" {
		kc.Label = fallbackLabel
	}

	if len(e.Limit) > 0 {
		defaults, perModel, err := parseLimitField(e.Limit)
		if err != nil {
			return KeyConfig{}, err
		}
		kc.DefaultLimits = defaults
		kc.ModelLimits = perModel
	}
	return kc, nil
}

// parseLimitField parses a stored limit specification. Two shapes are
// accepted: flat ({"RPS": 1, "TPm": 20000}) setting defaults, and nested
// ({"default": {...}, "model-x": {...}}) with per-model overrides.
func parseLimitField(raw json.RawMessage) ([]ratelimit.Limit, map[string][]ratelimit.Limit, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, nil, fmt.Errorf("parsing limit field: %w", err)
	}
	if len(top) == 0 {
		return nil, nil, nil
	}

	if isFlat(top) {
		defaults, err := parseFlatLimits(top)
		return defaults, nil, err
	}

	var defaults []ratelimit.Limit
	perModel := make(map[string][]ratelimit.Limit)
	for model, sub := range top {
		var flat map[string]json.RawMessage
		if err := json.Unmarshal(sub, &flat); err != nil {
			return nil, nil, fmt.Errorf("parsing limits for %q: %w", model, err)
		}
		limits, err := parseFlatLimits(flat)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing limits for %q: %w", model, err)
		}
		if model == "default" || model == DefaultModelKey {
			defaults = limits
			continue
		}
		perModel[model] = limits
	}
	if len(perModel) == 0 {
		perModel = nil
	}
	return defaults, perModel, nil
}

// isFlat reports whether every value in the object is a number, i.e. the
// compact {type: n} form.
func isFlat(top map[string]json.RawMessage) bool {
	for _, v := range top {
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			return false
		}
	}
	return true
}

// parseFlatLimits converts a {type: n} object into a limit set with a
// deterministic order. Unknown types are rejected.
func parseFlatLimits(flat map[string]json.RawMessage) ([]ratelimit.Limit, error) {
	types := make([]string, 0, len(flat))
	for t := range flat {
		types = append(types, t)
	}
	sort.Strings(types)

	limits := make([]ratelimit.Limit, 0, len(flat))
	for _, t := range types {
		lt := ratelimit.LimitType(t)
		if !ratelimit.ValidType(lt) {
			return nil, fmt.Errorf("unknown limit type %q", t)
		}
		var v int64
		if err := json.Unmarshal(flat[t], &v); err != nil {
			return nil, fmt.Errorf("limit %q: %w", t, err)
		}
		limits = append(limits, ratelimit.Limit{Type: lt, Value: v})
	}
	return limits, nil
}

// dedupe drops entries with a key already seen, first occurrence wins.
func dedupe(configs []KeyConfig) []KeyConfig {
	seen := make(map[string]bool, len(configs))
	out := configs[:0]
	for _, kc := range configs {
		if kc.Key == "" || seen[kc.Key] {
			continue
		}
		seen[kc.Key] = true
		out = append(out, kc)
	}
	return out
}
