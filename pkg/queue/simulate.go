package queue

import (
	"math"

	"mercator-hq/relay/pkg/ratelimit"
	"mercator-hq/relay/pkg/usage"
)

// maxSimRounds bounds the replay so a degenerate limit set (one that can
// never admit a request) does not spin forever. Each idle round advances
// simulated time by at least 1ms, so real configurations finish far below
// the cap.
const maxSimRounds = 100_000

// simItem is one replayed request.
type simItem struct {
	model        string
	tokens       int64
	hypothetical bool
}

// EstimateWaitMS estimates how long a new request for modelName with
// tokensNeeded tokens would wait before dispatch, in milliseconds.
//
// The estimate replays the entire current queue plus the hypothetical new
// item against cloned usage buckets, using the smoothed execution time as
// the duration of each dispatched item and honoring the fallback delay.
// The returned value is best-effort: it is the routing signal, not a
// guarantee.
func (q *Queuer) EstimateWaitMS(modelName string, tokensNeeded int) int64 {
	realNow := q.nowFn().UnixMilli()

	// Snapshot queue and counters under the lock so the clone is
	// consistent with in-progress dispatch.
	q.mu.Lock()
	sandbox := make(map[string]*usage.Bucket)
	for k, b := range q.store.Entries() {
		sandbox[k] = b.Clone()
	}
	pending := make([]simItem, 0, len(q.items)+1)
	for _, it := range q.items {
		pending = append(pending, simItem{model: it.model, tokens: it.tokens})
	}
	execMS := int64(q.execMS)
	q.mu.Unlock()

	if tokensNeeded < 0 {
		tokensNeeded = 0
	}
	pending = append(pending, simItem{
		model:        modelName,
		tokens:       int64(tokensNeeded),
		hypothetical: true,
	})

	simNow := realNow
	for round := 0; round < maxSimRounds; round++ {
		selIdx := -1
		minWait := int64(math.MaxInt64)
		for i, it := range pending {
			key := bucketKey(it.model)
			b := sandbox[key]
			if b == nil {
				b = usage.NewBucket(simNow)
				sandbox[key] = b
			}
			w := ratelimit.WaitMS(simNow, q.activeLimits(it.model), b, it.tokens)
			if w == 0 {
				selIdx = i
				break
			}
			if w < minWait {
				minWait = w
			}
		}

		if selIdx < 0 {
			simNow += clampIdleWait(minWait)
			continue
		}

		it := pending[selIdx]
		if it.hypothetical {
			return simNow - realNow
		}
		pending = append(pending[:selIdx], pending[selIdx+1:]...)

		done := simNow + execMS
		ratelimit.Record(done, it.tokens, sandbox[bucketKey(it.model)])
		simNow = done
		if q.fallbackMS > 0 && len(pending) > 0 {
			simNow += q.fallbackMS
		}
	}

	return simNow - realNow
}
