package routing

import (
	"context"
	"fmt"

	"mercator-hq/relay/pkg/keys"
)

// ReloadAll selects every configured provider for reload.
const ReloadAll = "all"

// ReloadKeys re-resolves key configurations for the selected provider (or
// every provider with "all") and swaps in fresh queuer/client pairs.
// In-flight dispatches on the old queuers run to completion against their
// old clients; the old queues drain and release their stores in the
// background. New arrivals land on the new set.
//
// Reload is rejected when keys come directly from the environment.
func (r *Router) ReloadKeys(ctx context.Context, provider string) error {
	if r.resolver.Strategy() == keys.StrategyEnv {
		return ErrReloadUnsupported
	}

	var selected []string
	if provider == ReloadAll {
		selected = r.order
	} else {
		found := false
		for _, p := range r.order {
			if p == provider {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
		}
		selected = []string{provider}
	}

	for _, p := range selected {
		if err := r.reloadProvider(ctx, p); err != nil {
			if r.metrics != nil {
				r.metrics.RecordReload(p, false)
			}
			return fmt.Errorf("reloading %q: %w", p, err)
		}
		if r.metrics != nil {
			r.metrics.RecordReload(p, true)
		}
	}
	return nil
}

// reloadProvider builds the new set before retiring the old one, so a
// resolution failure leaves the current queues serving.
func (r *Router) reloadProvider(ctx context.Context, provider string) error {
	fresh, err := r.buildProvider(ctx, provider)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.sets[provider]
	r.sets[provider] = fresh
	r.mu.Unlock()

	if old != nil {
		for _, q := range old.queuers {
			q.Dispose()
		}
		for _, c := range old.clients {
			if err := c.Close(); err != nil {
				r.logger.Warn("closing retired client", "provider", provider, "error", err)
			}
		}
	}

	r.logger.Info("keys reloaded", "provider", provider, "queues", len(fresh.queuers))
	return nil
}

// Close disposes every queue and client. Pending items drain in the
// background.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for provider, set := range r.sets {
		for _, q := range set.queuers {
			q.Dispose()
		}
		for _, c := range set.clients {
			if err := c.Close(); err != nil {
				r.logger.Warn("closing client", "provider", provider, "error", err)
			}
		}
	}
	r.sets = make(map[string]*providerSet)
}
