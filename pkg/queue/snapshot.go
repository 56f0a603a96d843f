package queue

import (
	"mercator-hq/relay/pkg/ratelimit"
)

// WindowCounts holds request counts in the three sliding windows.
type WindowCounts struct {
	LastSecond int `json:"lastSecond"`
	LastMinute int `json:"lastMinute"`
	LastDay    int `json:"lastDay"`
}

// MinuteTokens is the state of the tumbling minute-token window.
type MinuteTokens struct {
	Count       int64 `json:"count"`
	WindowStart int64 `json:"windowStart"`
}

// MonthCounter is one calendar-month counter with its reset schedule.
type MonthCounter struct {
	Count     int64 `json:"count"`
	ResetAt   int64 `json:"resetAt"`
	ResetInMS int64 `json:"resetInMs"`
}

// MonthUsage groups the two monthly counters.
type MonthUsage struct {
	Tokens   MonthCounter `json:"tokens"`
	Requests MonthCounter `json:"requests"`
}

// ModelUsage is the snapshot for one model key.
type ModelUsage struct {
	Requests     WindowCounts `json:"requests"`
	MinuteTokens MinuteTokens `json:"minuteTokens"`
	Month        MonthUsage   `json:"month"`
}

// UsageSnapshot returns a fresh per-model view of the queue's usage.
// Maintenance runs on clones so stale entries are absent from the view
// without mutating live counters outside the dispatch path.
func (q *Queuer) UsageSnapshot() map[string]ModelUsage {
	now := q.nowFn().UnixMilli()

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]ModelUsage)
	for key, live := range q.store.Entries() {
		b := live.Clone()
		ratelimit.Maintain(now, b)

		out[key] = ModelUsage{
			Requests: WindowCounts{
				LastSecond: len(b.SecondTS),
				LastMinute: len(b.MinuteTS),
				LastDay:    len(b.DayTS),
			},
			MinuteTokens: MinuteTokens{
				Count:       b.MinuteTokenCount,
				WindowStart: b.MinuteTokenWindowStart,
			},
			Month: MonthUsage{
				Tokens: MonthCounter{
					Count:     b.MonthTokenCount,
					ResetAt:   b.MonthTokenResetAt,
					ResetInMS: max(0, b.MonthTokenResetAt-now),
				},
				Requests: MonthCounter{
					Count:     b.MonthRequestCount,
					ResetAt:   b.MonthRequestResetAt,
					ResetInMS: max(0, b.MonthRequestResetAt-now),
				},
			},
		}
	}
	return out
}
