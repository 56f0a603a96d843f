package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/queue"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/tokens"
)

// BuildFunc constructs a queuer/client pair for one resolved key. The
// queuer owns the key's usage store; the client is driven only by that
// queuer's dispatch loop.
type BuildFunc func(ctx context.Context, provider string, kc keys.KeyConfig) (*queue.Queuer, providers.Client, error)

// Config configures a Router.
type Config struct {
	// DefaultProvider receives bare model names. The process fails to
	// start when it resolves no keys.
	DefaultProvider string

	// Providers are the provider names to bootstrap, in routing
	// precedence order for ties.
	Providers []string

	// Resolver produces KeyConfigs per provider.
	Resolver keys.Resolver

	// Build constructs queuer/client pairs. Required.
	Build BuildFunc

	// Estimator sizes requests for wait estimation. Optional; without it
	// the token dimensions do not steer routing.
	Estimator tokens.Estimator

	// Tracer wraps each routed request in a span. Optional.
	Tracer *tracing.Tracer

	// Metrics counts reloads. Optional.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// providerSet is one provider's queuers and clients in parallel order.
type providerSet struct {
	queuers []*queue.Queuer
	clients []providers.Client
}

// Router selects a queue per request by minimum estimated wait.
type Router struct {
	defaultProvider string
	order           []string
	resolver        keys.Resolver
	build           BuildFunc
	estimator       tokens.Estimator
	tracer          *tracing.Tracer
	metrics         *metrics.Metrics
	logger          *slog.Logger

	mu   sync.RWMutex
	sets map[string]*providerSet
}

// AskResult is a completed chat request.
type AskResult struct {
	Response string
	Provider string
	Model    string
}

// AnalyzeResult is a completed image analysis.
type AnalyzeResult struct {
	Analysis string
	Provider string
	Model    string
}

// NewRouter resolves keys for every configured provider and builds their
// queues. A provider that resolves no keys is skipped with a warning —
// except the default provider, whose failure aborts startup.
func NewRouter(ctx context.Context, cfg Config) (*Router, error) {
	if cfg.Build == nil {
		return nil, fmt.Errorf("routing: build function cannot be nil")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("routing: resolver cannot be nil")
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "mistral"
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = []string{cfg.DefaultProvider}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Router{
		defaultProvider: cfg.DefaultProvider,
		order:           cfg.Providers,
		resolver:        cfg.Resolver,
		build:           cfg.Build,
		estimator:       cfg.Estimator,
		tracer:          cfg.Tracer,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		sets:            make(map[string]*providerSet),
	}

	for _, provider := range cfg.Providers {
		set, err := r.buildProvider(ctx, provider)
		if err != nil {
			if provider == cfg.DefaultProvider {
				return nil, fmt.Errorf("routing: bootstrapping default provider %q: %w", provider, err)
			}
			r.logger.Warn("skipping provider with no keys", "provider", provider, "error", err)
			continue
		}
		r.sets[provider] = set
		r.logger.Info("provider ready", "provider", provider, "queues", len(set.queuers))
	}

	return r, nil
}

// buildProvider resolves a provider's keys and builds its queuer set.
func (r *Router) buildProvider(ctx context.Context, provider string) (*providerSet, error) {
	configs, err := r.resolver.Resolve(ctx, provider)
	if err != nil {
		return nil, err
	}

	set := &providerSet{}
	for _, kc := range configs {
		q, client, err := r.build(ctx, provider, kc)
		if err != nil {
			return nil, fmt.Errorf("building queue %q: %w", kc.Label, err)
		}
		set.queuers = append(set.queuers, q)
		set.clients = append(set.clients, client)
	}
	return set, nil
}

// selection is a routing decision.
type selection struct {
	provider string
	model    string
	queuer   *queue.Queuer
	client   providers.Client
	waitMS   int64
}

// selectTarget picks the queuer with the minimum estimated wait across all
// candidates. Candidates whose provider has no queuers are skipped. Ties
// keep the first-seen candidate, making routing deterministic.
func (r *Router) selectTarget(targets []Target, tokensNeeded int) (*selection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *selection
	bestWait := int64(math.MaxInt64)
	for _, t := range targets {
		set := r.sets[t.Provider]
		if set == nil || len(set.queuers) == 0 {
			continue
		}
		for i, q := range set.queuers {
			w := q.EstimateWaitMS(t.Model, tokensNeeded)
			if w < bestWait {
				bestWait = w
				best = &selection{
					provider: t.Provider,
					model:    t.Model,
					queuer:   q,
					client:   set.clients[i],
					waitMS:   w,
				}
			}
		}
	}

	if best == nil {
		return nil, &NoAvailableProviderError{Targets: targets}
	}
	return best, nil
}

// Ask routes a chat request and waits for its completion.
func (r *Router) Ask(ctx context.Context, history []providers.Message, spec *TargetSpec) (*AskResult, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	targets := spec.resolve(r.defaultProvider)
	if len(targets) == 0 {
		return nil, &NoAvailableProviderError{}
	}

	text := providers.JoinContents(history)
	sel, err := r.route(ctx, "relay.ask", targets, text)
	if err != nil {
		return nil, err
	}

	fut := sel.queuer.Add(func(ctx context.Context) (any, error) {
		return sel.client.Chat(ctx, sel.model, history)
	}, text, sel.model)

	v, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}

	response, _ := v.(string)
	return &AskResult{Response: response, Provider: sel.provider, Model: sel.model}, nil
}

// AnalyzeImage routes an image analysis and waits for its completion. An
// empty spec falls back to the default image target; an empty prompt falls
// back to the default prompt.
func (r *Router) AnalyzeImage(ctx context.Context, imageB64, prompt string, spec *TargetSpec) (*AnalyzeResult, error) {
	if prompt == "" {
		prompt = DefaultImagePrompt
	}

	var targets []Target
	if spec.IsEmpty() {
		targets = []Target{{Provider: DefaultImageProvider, Model: DefaultImageModel}}
	} else {
		targets = spec.resolve(r.defaultProvider)
	}
	if len(targets) == 0 {
		return nil, &NoAvailableProviderError{}
	}

	sel, err := r.route(ctx, "relay.analyze_image", targets, prompt)
	if err != nil {
		return nil, err
	}

	fut := sel.queuer.Add(func(ctx context.Context) (any, error) {
		return sel.client.AnalyzeImage(ctx, sel.model, imageB64, prompt)
	}, prompt, sel.model)

	v, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}

	analysis, _ := v.(string)
	return &AnalyzeResult{Analysis: analysis, Provider: sel.provider, Model: sel.model}, nil
}

// route estimates tokens, selects the winning queue, and tags the span.
func (r *Router) route(ctx context.Context, span string, targets []Target, text string) (*selection, error) {
	tokensNeeded := 0
	if r.estimator != nil && len(targets) > 0 {
		tokensNeeded = r.estimator.Estimate(text, targets[0].Model)
	}

	sel, err := r.selectTarget(targets, tokensNeeded)
	if err != nil {
		return nil, err
	}

	if r.tracer != nil {
		_, sp := r.tracer.Start(ctx, span)
		tracing.SetRouteAttributes(sp, sel.provider, sel.model, sel.queuer.Label(), sel.waitMS)
		sp.End()
	}

	r.logger.Debug("routed request",
		"provider", sel.provider,
		"model", sel.model,
		"queue", sel.queuer.Label(),
		"estimated_wait_ms", sel.waitMS,
	)
	return sel, nil
}

// Models returns the per-provider sorted, deduplicated model names
// harvested from the configured limit sets.
func (r *Router) Models() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.sets))
	for provider, set := range r.sets {
		seen := make(map[string]bool)
		var models []string
		for _, q := range set.queuers {
			for _, m := range q.Models() {
				if !seen[m] {
					seen[m] = true
					models = append(models, m)
				}
			}
		}
		sort.Strings(models)
		out[provider] = models
	}
	return out
}

// QueueStatus is one queue's public state.
type QueueStatus struct {
	Label      string `json:"label"`
	Length     int    `json:"length"`
	Processing bool   `json:"processing"`
}

// Status returns per-provider queue states.
func (r *Router) Status() map[string][]QueueStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]QueueStatus, len(r.sets))
	for provider, set := range r.sets {
		statuses := make([]QueueStatus, 0, len(set.queuers))
		for _, q := range set.queuers {
			statuses = append(statuses, QueueStatus{
				Label:      q.Label(),
				Length:     q.QueueLength(),
				Processing: q.IsProcessing(),
			})
		}
		out[provider] = statuses
	}
	return out
}

// TotalQueueLengths sums pending items per provider.
func (r *Router) TotalQueueLengths() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.sets))
	for provider, set := range r.sets {
		total := 0
		for _, q := range set.queuers {
			total += q.QueueLength()
		}
		out[provider] = total
	}
	return out
}

// QueueUsage is one queue's usage snapshot.
type QueueUsage struct {
	Label  string                      `json:"label"`
	Models map[string]queue.ModelUsage `json:"models"`
}

// ProviderTotals aggregates request counts across a provider's queues.
type ProviderTotals struct {
	Requests      queue.WindowCounts `json:"requests"`
	MonthRequests int64              `json:"monthRequests"`
	MonthTokens   int64              `json:"monthTokens"`
}

// UsageReport is the full usage view: per queue and aggregated.
type UsageReport struct {
	Queues map[string][]QueueUsage   `json:"queues"`
	Totals map[string]ProviderTotals `json:"totals"`
}

// Usage builds the usage report across all providers.
func (r *Router) Usage() *UsageReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := &UsageReport{
		Queues: make(map[string][]QueueUsage, len(r.sets)),
		Totals: make(map[string]ProviderTotals, len(r.sets)),
	}

	for provider, set := range r.sets {
		var totals ProviderTotals
		usages := make([]QueueUsage, 0, len(set.queuers))
		for _, q := range set.queuers {
			snap := q.UsageSnapshot()
			usages = append(usages, QueueUsage{Label: q.Label(), Models: snap})
			for _, mu := range snap {
				totals.Requests.LastSecond += mu.Requests.LastSecond
				totals.Requests.LastMinute += mu.Requests.LastMinute
				totals.Requests.LastDay += mu.Requests.LastDay
				totals.MonthRequests += mu.Month.Requests.Count
				totals.MonthTokens += mu.Month.Tokens.Count
			}
		}
		report.Queues[provider] = usages
		report.Totals[provider] = totals
	}
	return report
}
