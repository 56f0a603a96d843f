package usage

import "time"

// Bucket is the complete counter state for one (queue, model) key.
//
// The three timestamp slices are kept sorted ascending and pruned so no
// entry is older than its window. Month counters reset at the first instant
// of the next UTC calendar month; the minute-token window is a fixed
// (tumbling) 60s window anchored at MinuteTokenWindowStart.
//
// JSON tags match the persisted record shape used by RemoteStore.
type Bucket struct {
	// SecondTS holds completion timestamps within the last second.
	SecondTS []int64 `json:"secondTs"`

	// MinuteTS holds completion timestamps within the last 60 seconds.
	MinuteTS []int64 `json:"minuteTs"`

	// DayTS holds completion timestamps within the last 24 hours.
	DayTS []int64 `json:"dayTs"`

	// MonthTokenCount is the number of tokens consumed in the current
	// UTC calendar month.
	MonthTokenCount int64 `json:"monthTokenCount"`

	// MonthTokenResetAt is the epoch-ms start of the next UTC month.
	MonthTokenResetAt int64 `json:"monthTokenResetAt"`

	// MonthRequestCount is the number of requests in the current UTC
	// calendar month.
	MonthRequestCount int64 `json:"monthRequestCount"`

	// MonthRequestResetAt is the epoch-ms start of the next UTC month.
	MonthRequestResetAt int64 `json:"monthRequestResetAt"`

	// MinuteTokenCount is the number of tokens consumed in the current
	// minute-token window.
	MinuteTokenCount int64 `json:"minuteTokenCount"`

	// MinuteTokenWindowStart is the epoch-ms start of the current
	// minute-token window.
	MinuteTokenWindowStart int64 `json:"minuteTokenWindowStart"`
}

// NewBucket returns a zeroed bucket anchored at now: both month reset-ats
// point at the start of the next UTC month and the minute-token window
// starts immediately.
func NewBucket(now int64) *Bucket {
	reset := NextUTCMonthStart(now)
	return &Bucket{
		MonthTokenResetAt:      reset,
		MonthRequestResetAt:    reset,
		MinuteTokenWindowStart: now,
	}
}

// Clone returns a deep copy of the bucket. Simulations work on clones so
// the live counters are never touched.
func (b *Bucket) Clone() *Bucket {
	out := *b
	out.SecondTS = append([]int64(nil), b.SecondTS...)
	out.MinuteTS = append([]int64(nil), b.MinuteTS...)
	out.DayTS = append([]int64(nil), b.DayTS...)
	return &out
}

// Normalize fills the zero values a partially stored bucket comes back
// with: nil slices become empty, missing reset-ats and window starts are
// anchored at now. Negative counts are clamped to zero.
func (b *Bucket) Normalize(now int64) {
	if b.SecondTS == nil {
		b.SecondTS = []int64{}
	}
	if b.MinuteTS == nil {
		b.MinuteTS = []int64{}
	}
	if b.DayTS == nil {
		b.DayTS = []int64{}
	}
	if b.MonthTokenCount < 0 {
		b.MonthTokenCount = 0
	}
	if b.MonthRequestCount < 0 {
		b.MonthRequestCount = 0
	}
	if b.MinuteTokenCount < 0 {
		b.MinuteTokenCount = 0
	}
	if b.MonthTokenResetAt == 0 {
		b.MonthTokenResetAt = now
	}
	if b.MonthRequestResetAt == 0 {
		b.MonthRequestResetAt = now
	}
	if b.MinuteTokenWindowStart == 0 {
		b.MinuteTokenWindowStart = now
	}
}

// NextUTCMonthStart returns the epoch-ms first instant of the UTC month
// after the one containing now. Computed from the calendar, not 30-day
// arithmetic.
func NextUTCMonthStart(now int64) int64 {
	t := time.UnixMilli(now).UTC()
	next := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return next.UnixMilli()
}
