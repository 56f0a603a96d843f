package queue

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/relay/pkg/ratelimit"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/tokens"
	"mercator-hq/relay/pkg/usage"
)

const (
	// defaultModelKey buckets requests that name no model.
	defaultModelKey = "__default__"

	// Idle sleep bounds when no item is runnable.
	minIdleSleepMS = 1
	maxIdleSleepMS = 5_000

	// Execution-time smoothing: EWMA factor and seed.
	execAlpha  = 0.25
	execSeedMS = 500.0
)

// ExecuteFunc performs the provider call for one queued item.
type ExecuteFunc func(ctx context.Context) (any, error)

// item is one pending request.
type item struct {
	id         string
	model      string
	tokens     int64
	execute    ExecuteFunc
	future     *Future
	enqueuedAt time.Time
}

// Config configures a Queuer for one API key.
type Config struct {
	// Label names the queue in logs, status reports and persisted keys.
	Label string

	// DefaultLimits apply to models without an override.
	DefaultLimits []ratelimit.Limit

	// ModelLimits maps model names to limit overrides.
	ModelLimits map[string][]ratelimit.Limit

	// FallbackDelayMS is the fixed inter-item delay used when set.
	FallbackDelayMS int64

	// Store holds this queue's usage buckets. Required.
	Store usage.Store

	// Estimator sizes requests for the token dimensions. Nil disables
	// token-based limits rather than failing requests.
	Estimator tokens.Estimator

	// Metrics receives dispatch telemetry. Nil disables it.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Queuer schedules requests for a single API key. At most one dispatch
// loop runs at a time; Add is safe from any goroutine.
type Queuer struct {
	label       string
	defaults    []ratelimit.Limit
	modelLimits map[string][]ratelimit.Limit
	fallbackMS  int64
	store       usage.Store
	estimator   tokens.Estimator
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu         sync.Mutex
	items      []*item
	processing bool
	execMS     float64

	// Test hooks.
	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// New creates a Queuer.
func New(cfg Config) *Queuer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queuer{
		label:       cfg.Label,
		defaults:    cfg.DefaultLimits,
		modelLimits: cfg.ModelLimits,
		fallbackMS:  cfg.FallbackDelayMS,
		store:       cfg.Store,
		estimator:   cfg.Estimator,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		execMS:      execSeedMS,
		nowFn:       time.Now,
		sleepFn:     time.Sleep,
	}
}

// Add submits a request. When estimateText is non-empty and an estimator
// is configured, the request is sized for the token limit dimensions.
//
// With no limits for the model and no fallback delay the Queuer is
// transparent: the call runs immediately without enqueuing and the usage
// store is never touched.
func (q *Queuer) Add(execute ExecuteFunc, estimateText, modelName string) *Future {
	fut := newFuture()

	var tok int64
	if estimateText != "" && q.estimator != nil {
		tok = int64(q.estimator.Estimate(estimateText, modelName))
	}

	if len(q.activeLimits(modelName)) == 0 && q.fallbackMS == 0 {
		go func() {
			v, err := execute(context.Background())
			if err != nil {
				fut.reject(err)
			} else {
				fut.resolve(v)
			}
		}()
		return fut
	}

	it := &item{
		id:         uuid.NewString(),
		model:      modelName,
		tokens:     tok,
		execute:    execute,
		future:     fut,
		enqueuedAt: q.nowFn(),
	}

	q.mu.Lock()
	q.items = append(q.items, it)
	depth := len(q.items)
	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueDepth(q.label, depth)
	}
	if start {
		go q.dispatch()
	}
	return fut
}

// QueueLength returns the number of pending items.
func (q *Queuer) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Label returns the queue label.
func (q *Queuer) Label() string {
	return q.label
}

// IsProcessing reports whether the dispatch loop is active.
func (q *Queuer) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Models returns the model names carrying explicit limits, excluding the
// synthetic default key.
func (q *Queuer) Models() []string {
	models := make([]string, 0, len(q.modelLimits))
	for name := range q.modelLimits {
		if name == defaultModelKey {
			continue
		}
		models = append(models, name)
	}
	return models
}

// Dispose waits in the background for pending work to drain, then releases
// the usage store. New arrivals should stop before calling Dispose; items
// already queued complete normally.
func (q *Queuer) Dispose() {
	go func() {
		for {
			q.mu.Lock()
			idle := len(q.items) == 0 && !q.processing
			q.mu.Unlock()
			if idle {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if err := q.store.Dispose(); err != nil {
			q.logger.Warn("disposing usage store", "queue", q.label, "error", err)
		}
	}()
}

// dispatch is the cooperative scheduling loop. One instance runs while the
// queue is non-empty, guarded by the processing flag.
func (q *Queuer) dispatch() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}

		now := q.nowFn().UnixMilli()
		selIdx := -1
		minWait := int64(math.MaxInt64)
		for i, it := range q.items {
			b := q.store.Get(bucketKey(it.model))
			w := ratelimit.WaitMS(now, q.activeLimits(it.model), b, it.tokens)
			if w == 0 {
				selIdx = i
				break
			}
			if w < minWait {
				minWait = w
			}
		}

		if selIdx < 0 {
			q.mu.Unlock()
			q.sleepFn(time.Duration(clampIdleWait(minWait)) * time.Millisecond)
			continue
		}

		it := q.items[selIdx]
		q.items = append(q.items[:selIdx], q.items[selIdx+1:]...)
		depth := len(q.items)
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.SetQueueDepth(q.label, depth)
			q.metrics.ObserveQueueWait(q.label, q.nowFn().Sub(it.enqueuedAt).Seconds())
		}

		q.run(it)

		q.mu.Lock()
		pending := len(q.items)
		q.mu.Unlock()
		if q.fallbackMS > 0 && pending > 0 {
			q.sleepFn(time.Duration(q.fallbackMS) * time.Millisecond)
		}
	}
}

// run executes one item and settles its future. Usage is recorded only on
// success, at completion time; a failed call consumes no budget.
func (q *Queuer) run(it *item) {
	start := q.nowFn()
	v, err := it.execute(context.Background())
	elapsed := q.nowFn().Sub(start)

	if q.metrics != nil {
		q.metrics.ObserveExecution(q.label, it.model, elapsed.Seconds())
		q.metrics.RecordDispatch(q.label, it.model, err == nil)
	}

	if err != nil {
		q.logger.Debug("dispatch failed",
			"queue", q.label,
			"model", it.model,
			"item", it.id,
			"error", err,
		)
		it.future.reject(err)
	} else {
		done := q.nowFn().UnixMilli()
		key := bucketKey(it.model)
		q.mu.Lock()
		b := q.store.Get(key)
		ratelimit.Record(done, it.tokens, b)
		q.store.Set(key, b)
		q.mu.Unlock()

		// Best-effort persistence; failures are the store's to log and
		// must never block the loop.
		go func() {
			if perr := q.store.Persist(context.Background(), done); perr != nil {
				if q.metrics != nil {
					q.metrics.RecordPersistFailure("store")
				}
				q.logger.Warn("usage persist failed", "queue", q.label, "error", perr)
			}
		}()

		it.future.resolve(v)
	}

	q.mu.Lock()
	q.execMS = execAlpha*float64(elapsed.Milliseconds()) + (1-execAlpha)*q.execMS
	q.mu.Unlock()
}

// activeLimits merges the default set with the model's overrides. The
// limit maps are immutable after construction, so no lock is needed.
func (q *Queuer) activeLimits(model string) []ratelimit.Limit {
	return ratelimit.Merge(q.defaults, q.modelLimits[model])
}

// bucketKey maps a model name to its usage bucket key.
func bucketKey(model string) string {
	if model == "" {
		return defaultModelKey
	}
	return model
}

// clampIdleWait bounds the idle sleep between rescans.
func clampIdleWait(w int64) int64 {
	if w < minIdleSleepMS {
		return minIdleSleepMS
	}
	if w > maxIdleSleepMS {
		return maxIdleSleepMS
	}
	return w
}
