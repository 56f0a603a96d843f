package routing

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/queue"
	"mercator-hq/relay/pkg/ratelimit"
	"mercator-hq/relay/pkg/usage"
)

// fakeClient is a provider client that records calls and echoes replies.
type fakeClient struct {
	name string

	mu     sync.Mutex
	chats  int
	images int
	fail   error
}

func (f *fakeClient) Chat(ctx context.Context, model string, history []providers.Message) (string, error) {
	f.mu.Lock()
	f.chats++
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return "", fail
	}
	return "reply from " + f.name + "/" + model, nil
}

func (f *fakeClient) AnalyzeImage(ctx context.Context, model, imageB64, prompt string) (string, error) {
	f.mu.Lock()
	f.images++
	f.mu.Unlock()
	return "analysis from " + f.name + "/" + model, nil
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) Close() error { return nil }

// stubResolver returns canned key configs per provider.
type stubResolver struct {
	strategy string
	configs  map[string][]keys.KeyConfig
	mu       sync.Mutex
	resolves int
}

func (s *stubResolver) Resolve(ctx context.Context, provider string) ([]keys.KeyConfig, error) {
	s.mu.Lock()
	s.resolves++
	s.mu.Unlock()
	cfgs := s.configs[provider]
	if len(cfgs) == 0 {
		return nil, keys.ErrNoKeys
	}
	return cfgs, nil
}

func (s *stubResolver) Strategy() string {
	if s.strategy == "" {
		return keys.StrategyRecord
	}
	return s.strategy
}

// newTestRouter builds a router over memory stores and fake clients.
func newTestRouter(t *testing.T, resolver keys.Resolver, providerOrder []string) (*Router, map[string][]*fakeClient) {
	t.Helper()

	clients := make(map[string][]*fakeClient)
	build := func(ctx context.Context, provider string, kc keys.KeyConfig) (*queue.Queuer, providers.Client, error) {
		client := &fakeClient{name: provider}
		clients[provider] = append(clients[provider], client)
		q := queue.New(queue.Config{
			Label:           kc.Label,
			DefaultLimits:   kc.DefaultLimits,
			ModelLimits:     kc.ModelLimits,
			FallbackDelayMS: kc.FallbackDelayMS,
			Store:           usage.NewMemoryStore(),
		})
		return q, client, nil
	}

	r, err := NewRouter(context.Background(), Config{
		DefaultProvider: "mistral",
		Providers:       providerOrder,
		Resolver:        resolver,
		Build:           build,
	})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return r, clients
}

func plainConfigs() map[string][]keys.KeyConfig {
	return map[string][]keys.KeyConfig{
		"mistral": {{Key: "mk-1", Label: "m1"}},
		"gemini":  {{Key: "gk-1", Label: "g1"}},
	}
}

// ============================================================================
// Routing Tests
// ============================================================================

func TestAsk_RoutesAndEnrichesResult(t *testing.T) {
	r, _ := newTestRouter(t, &stubResolver{configs: plainConfigs()}, []string{"mistral", "gemini"})

	res, err := r.Ask(context.Background(),
		[]providers.Message{{Role: "user", Content: "hi"}},
		&TargetSpec{Targets: []Target{{Model: "small"}}})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if res.Provider != "mistral" {
		t.Errorf("Bare model must promote to the default provider, got %q", res.Provider)
	}
	if res.Model != "small" {
		t.Errorf("Model = %q", res.Model)
	}
	if res.Response != "reply from mistral/small" {
		t.Errorf("Response = %q", res.Response)
	}
}

func TestAsk_EmptyHistoryRejected(t *testing.T) {
	r, _ := newTestRouter(t, &stubResolver{configs: plainConfigs()}, []string{"mistral"})

	_, err := r.Ask(context.Background(), nil, &TargetSpec{Targets: []Target{{Model: "m"}}})
	if !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("Expected ErrEmptyHistory, got %v", err)
	}
}

func TestAsk_NoAvailableProvider(t *testing.T) {
	r, _ := newTestRouter(t, &stubResolver{configs: plainConfigs()}, []string{"mistral"})

	_, err := r.Ask(context.Background(),
		[]providers.Message{{Role: "user", Content: "hi"}},
		&TargetSpec{Targets: []Target{{Provider: "unknown", Model: "m"}}})
	if !errors.Is(err, ErrNoAvailableProvider) {
		t.Errorf("Expected ErrNoAvailableProvider, got %v", err)
	}
}

func TestAsk_ProviderErrorPropagates(t *testing.T) {
	r, clients := newTestRouter(t, &stubResolver{configs: plainConfigs()}, []string{"mistral"})

	boom := &providers.APIError{Provider: "mistral", Status: 500, Message: "kaput"}
	clients["mistral"][0].fail = boom

	_, err := r.Ask(context.Background(),
		[]providers.Message{{Role: "user", Content: "hi"}},
		&TargetSpec{Targets: []Target{{Model: "m"}}})
	if !errors.Is(err, providers.ErrProviderFailure) {
		t.Errorf("Expected the provider failure unchanged, got %v", err)
	}
}

// TestRouting_PrefersIdleQueue is the two-queue scenario: with one queue
// holding pending work and another idle, new arrivals route to the idle one.
func TestRouting_PrefersIdleQueue(t *testing.T) {
	resolver := &stubResolver{configs: map[string][]keys.KeyConfig{
		"mistral": {
			{Key: "mk-1", Label: "busy", DefaultLimits: []ratelimit.Limit{{Type: ratelimit.RPS, Value: 1}}},
			{Key: "mk-2", Label: "idle", DefaultLimits: []ratelimit.Limit{{Type: ratelimit.RPS, Value: 1}}},
		},
	}}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	// Pin 5 items onto the first queue directly.
	busy := r.sets["mistral"].queuers[0]
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		busy.Add(func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}, "", "M")
	}
	defer close(release)

	// Both a sixth and a seventh arrival must pick the idle queue.
	for i := 0; i < 2; i++ {
		sel, err := r.selectTarget([]Target{{Provider: "mistral", Model: "M"}}, 0)
		if err != nil {
			t.Fatalf("selectTarget failed: %v", err)
		}
		if sel.queuer.Label() != "idle" {
			t.Fatalf("Arrival %d routed to %q, want the idle queue", i+6, sel.queuer.Label())
		}
	}
}

func TestRouting_TieBreaksFirstSeen(t *testing.T) {
	resolver := &stubResolver{configs: map[string][]keys.KeyConfig{
		"mistral": {{Key: "mk-1", Label: "first"}, {Key: "mk-2", Label: "second"}},
	}}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	// Identical states estimate identical waits; the first queue wins.
	for i := 0; i < 3; i++ {
		sel, err := r.selectTarget([]Target{{Provider: "mistral", Model: "m"}}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if sel.queuer.Label() != "first" {
			t.Errorf("Tie must keep the first-seen queue, got %q", sel.queuer.Label())
		}
	}
}

func TestAnalyzeImage_DefaultTarget(t *testing.T) {
	resolver := &stubResolver{configs: plainConfigs()}
	r, clients := newTestRouter(t, resolver, []string{"mistral", "gemini"})

	res, err := r.AnalyzeImage(context.Background(), "aGVsbG8=", "", nil)
	if err != nil {
		t.Fatalf("AnalyzeImage failed: %v", err)
	}
	if res.Provider != DefaultImageProvider || res.Model != DefaultImageModel {
		t.Errorf("Expected default target %s/%s, got %s/%s",
			DefaultImageProvider, DefaultImageModel, res.Provider, res.Model)
	}
	if clients["mistral"][0].images != 1 {
		t.Errorf("Expected one image call, got %d", clients["mistral"][0].images)
	}
}

// ============================================================================
// Introspection Tests
// ============================================================================

func TestModels_SortedDeduplicated(t *testing.T) {
	resolver := &stubResolver{configs: map[string][]keys.KeyConfig{
		"mistral": {
			{Key: "mk-1", Label: "a", ModelLimits: map[string][]ratelimit.Limit{
				"zeta":               {{Type: ratelimit.RPS, Value: 1}},
				"alpha":              {{Type: ratelimit.RPS, Value: 1}},
				keys.DefaultModelKey: {{Type: ratelimit.RPS, Value: 1}},
			}},
			{Key: "mk-2", Label: "b", ModelLimits: map[string][]ratelimit.Limit{
				"alpha": {{Type: ratelimit.RPS, Value: 2}},
				"beta":  {{Type: ratelimit.RPS, Value: 2}},
			}},
		},
	}}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	got := r.Models()["mistral"]
	want := []string{"alpha", "beta", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Models = %v, want %v", got, want)
	}
}

func TestStatusAndQueueLengths(t *testing.T) {
	r, _ := newTestRouter(t, &stubResolver{configs: plainConfigs()}, []string{"mistral", "gemini"})

	status := r.Status()
	if len(status["mistral"]) != 1 || status["mistral"][0].Label != "m1" {
		t.Errorf("Status = %+v", status)
	}
	lengths := r.TotalQueueLengths()
	if lengths["mistral"] != 0 || lengths["gemini"] != 0 {
		t.Errorf("Lengths = %+v", lengths)
	}
}

func TestUsage_AggregatesAcrossQueues(t *testing.T) {
	resolver := &stubResolver{configs: map[string][]keys.KeyConfig{
		"mistral": {{Key: "mk-1", Label: "m1",
			DefaultLimits: []ratelimit.Limit{{Type: ratelimit.RPS, Value: 10}}}},
	}}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	_, err := r.Ask(context.Background(),
		[]providers.Message{{Role: "user", Content: "hi"}},
		&TargetSpec{Targets: []Target{{Model: "m"}}})
	if err != nil {
		t.Fatal(err)
	}

	report := r.Usage()
	if report.Totals["mistral"].MonthRequests != 1 {
		t.Errorf("Expected 1 aggregated month request, got %d",
			report.Totals["mistral"].MonthRequests)
	}
	if len(report.Queues["mistral"]) != 1 {
		t.Fatalf("Expected 1 queue report, got %d", len(report.Queues["mistral"]))
	}
}

// ============================================================================
// Reload Tests
// ============================================================================

func TestReload_EnvStrategyRejected(t *testing.T) {
	resolver := &stubResolver{strategy: keys.StrategyEnv, configs: plainConfigs()}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	err := r.ReloadKeys(context.Background(), "mistral")
	if !errors.Is(err, ErrReloadUnsupported) {
		t.Errorf("Expected ErrReloadUnsupported, got %v", err)
	}
}

func TestReload_UnknownProviderRejected(t *testing.T) {
	r, _ := newTestRouter(t, &stubResolver{configs: plainConfigs()}, []string{"mistral"})

	err := r.ReloadKeys(context.Background(), "bogus")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestReload_SwapsQueuers(t *testing.T) {
	resolver := &stubResolver{configs: map[string][]keys.KeyConfig{
		"mistral": {{Key: "mk-1", Label: "gen-1"}},
	}}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	if got := r.Status()["mistral"][0].Label; got != "gen-1" {
		t.Fatalf("Initial label = %q", got)
	}

	resolver.configs["mistral"] = []keys.KeyConfig{
		{Key: "mk-2", Label: "gen-2"},
		{Key: "mk-3", Label: "gen-3"},
	}
	if err := r.ReloadKeys(context.Background(), "mistral"); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	status := r.Status()["mistral"]
	if len(status) != 2 || status[0].Label != "gen-2" || status[1].Label != "gen-3" {
		t.Errorf("Reload did not swap queuers: %+v", status)
	}
}

func TestReload_FailureKeepsOldSet(t *testing.T) {
	resolver := &stubResolver{configs: map[string][]keys.KeyConfig{
		"mistral": {{Key: "mk-1", Label: "old"}},
	}}
	r, _ := newTestRouter(t, resolver, []string{"mistral"})

	resolver.configs["mistral"] = nil
	if err := r.ReloadKeys(context.Background(), "mistral"); err == nil {
		t.Fatal("Expected reload failure with no keys")
	}

	if got := r.Status()["mistral"][0].Label; got != "old" {
		t.Errorf("Failed reload must keep the old queuers, got %q", got)
	}
}

func TestReload_AllSelectsEveryProvider(t *testing.T) {
	resolver := &stubResolver{configs: plainConfigs()}
	r, _ := newTestRouter(t, resolver, []string{"mistral", "gemini"})

	resolver.mu.Lock()
	resolver.resolves = 0
	resolver.mu.Unlock()

	if err := r.ReloadKeys(context.Background(), ReloadAll); err != nil {
		t.Fatalf("Reload all failed: %v", err)
	}

	resolver.mu.Lock()
	n := resolver.resolves
	resolver.mu.Unlock()
	if n != 2 {
		t.Errorf("Expected 2 resolutions for all, got %d", n)
	}

	// Give retired queuers a beat to drain their disposal goroutines.
	time.Sleep(50 * time.Millisecond)
}
