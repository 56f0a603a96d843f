package keys

import (
	"mercator-hq/relay/pkg/ratelimit"
)

// DefaultModelKey is the synthetic model-limits key that carries the
// default limit set in stored configurations.
const DefaultModelKey = "__default__"

// KeyConfig is one resolved API key with its limits.
type KeyConfig struct {
	// Key is the raw provider API key.
	Key string

	// Label identifies the queue built from this key; it also namespaces
	// persisted usage records.
	Label string

	// DefaultLimits apply to every model without an override.
	DefaultLimits []ratelimit.Limit

	// ModelLimits maps model names to limit overrides.
	ModelLimits map[string][]ratelimit.Limit

	// FallbackDelayMS is a fixed inter-request delay used when no
	// structured limits are configured. Zero disables it.
	FallbackDelayMS int64
}

// ActiveLimits returns the effective limit set for a model: defaults with
// matching types overridden and new types appended.
func (k *KeyConfig) ActiveLimits(model string) []ratelimit.Limit {
	return ratelimit.Merge(k.DefaultLimits, k.ModelLimits[model])
}

// Models returns the model names with explicit limits, excluding the
// synthetic default key. Models served purely under default limits are
// not listed.
func (k *KeyConfig) Models() []string {
	models := make([]string, 0, len(k.ModelLimits))
	for name := range k.ModelLimits {
		if name == DefaultModelKey {
			continue
		}
		models = append(models, name)
	}
	return models
}
