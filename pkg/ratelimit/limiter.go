package ratelimit

import (
	"mercator-hq/relay/pkg/usage"
)

// Maintain applies the maintenance passes that precede every admission
// check: prune each sliding window, roll the monthly counters across the
// UTC month boundary, and reset the minute-token window once stale.
func Maintain(now int64, b *usage.Bucket) {
	b.SecondTS = prune(now, secondWindowMS, b.SecondTS)
	b.MinuteTS = prune(now, minuteWindowMS, b.MinuteTS)
	b.DayTS = prune(now, dayWindowMS, b.DayTS)

	if now >= b.MonthTokenResetAt {
		b.MonthTokenCount = 0
		b.MonthTokenResetAt = usage.NextUTCMonthStart(now)
	}
	if now >= b.MonthRequestResetAt {
		b.MonthRequestCount = 0
		b.MonthRequestResetAt = usage.NextUTCMonthStart(now)
	}
	if now-b.MinuteTokenWindowStart >= minuteWindowMS {
		b.MinuteTokenCount = 0
		b.MinuteTokenWindowStart = now
	}
}

// WaitMS returns how long (ms) until a request of tokensNeeded tokens is
// admissible under limits, or 0 when it is admissible now. The bucket is
// maintained first. When several limits block, the longest wait wins.
// A tokensNeeded of 0 never blocks a token-based limit.
func WaitMS(now int64, limits []Limit, b *usage.Bucket, tokensNeeded int64) int64 {
	Maintain(now, b)

	if tokensNeeded < 0 {
		tokensNeeded = 0
	}

	var wait int64
	for _, l := range limits {
		var w int64
		switch l.Type {
		case RPS:
			w = windowWait(now, secondWindowMS, l.Value, b.SecondTS)
		case RPm:
			w = windowWait(now, minuteWindowMS, l.Value, b.MinuteTS)
		case RPD:
			w = windowWait(now, dayWindowMS, l.Value, b.DayTS)
		case TPM:
			if tokensNeeded > 0 && b.MonthTokenCount+tokensNeeded > l.Value {
				w = b.MonthTokenResetAt - now
			}
		case RPM:
			if b.MonthRequestCount+1 > l.Value {
				w = b.MonthRequestResetAt - now
			}
		case TPm:
			// The minute-token window tumbles: admission only checks the
			// post-add count while the window is live. Maintain has just
			// reset a stale window, so liveness holds here.
			if tokensNeeded > 0 && b.MinuteTokenCount+tokensNeeded > l.Value {
				w = b.MinuteTokenWindowStart + minuteWindowMS - now
			}
		}
		if w > wait {
			wait = w
		}
	}

	if wait < 0 {
		wait = 0
	}
	return wait
}

// Record books the consumption of a just-completed request: the completion
// timestamp joins all three sliding windows, monthly counters advance, and
// tokens (when positive) are added to the monthly and minute-window totals.
func Record(now int64, tokens int64, b *usage.Bucket) {
	b.SecondTS = append(b.SecondTS, now)
	b.MinuteTS = append(b.MinuteTS, now)
	b.DayTS = append(b.DayTS, now)

	if tokens > 0 {
		b.MonthTokenCount += tokens
	}
	b.MonthRequestCount++

	if now-b.MinuteTokenWindowStart >= minuteWindowMS {
		b.MinuteTokenCount = 0
		b.MinuteTokenWindowStart = now
	}
	if tokens > 0 {
		b.MinuteTokenCount += tokens
	}

	b.SecondTS = prune(now, secondWindowMS, b.SecondTS)
	b.MinuteTS = prune(now, minuteWindowMS, b.MinuteTS)
	b.DayTS = prune(now, dayWindowMS, b.DayTS)
}

// windowWait returns the wait imposed by one sliding request window: time
// until the oldest retained timestamp ages out, once the window is full.
// A nonpositive limit blocks for a full window even when empty.
func windowWait(now, windowMS, limit int64, ts []int64) int64 {
	if int64(len(ts)) < limit {
		return 0
	}
	if len(ts) == 0 {
		return windowMS
	}
	return windowMS - (now - ts[0])
}

// prune drops timestamps older than windowMS, preserving order. The input
// is sorted ascending, so the survivors are a suffix.
func prune(now, windowMS int64, ts []int64) []int64 {
	cut := 0
	for cut < len(ts) && now-ts[cut] >= windowMS {
		cut++
	}
	if cut == 0 {
		return ts
	}
	return append(ts[:0], ts[cut:]...)
}
