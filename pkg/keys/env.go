package keys

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvResolver reads one key per provider directly from the environment
// (<PROVIDER>_API_KEY). There are no structured limits; dispatch paces
// itself with the configured fallback delay. Because the environment is
// fixed for the process lifetime, this strategy does not support reload.
type EnvResolver struct {
	// FallbackDelayMS is the inter-request delay applied to the key.
	FallbackDelayMS int64
}

// Resolve returns the single environment key for a provider.
func (r *EnvResolver) Resolve(ctx context.Context, provider string) ([]KeyConfig, error) {
	name := strings.ToUpper(provider) + "_API_KEY"
	key := os.Getenv(name)
	if key == "" {
		return nil, fmt.Errorf("%w for provider %q: %s is not set", ErrNoKeys, provider, name)
	}

	return []KeyConfig{{
		Key:             key,
		Label:           provider + "-env",
		FallbackDelayMS: r.FallbackDelayMS,
	}}, nil
}

// Strategy returns "env".
func (r *EnvResolver) Strategy() string {
	return StrategyEnv
}
