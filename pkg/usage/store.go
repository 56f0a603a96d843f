package usage

import (
	"context"
	"time"
)

// Store maps model keys to usage buckets for a single queue.
// Implementations must be safe for concurrent use: Entries may be called
// while another goroutine is in Get or Set.
type Store interface {
	// Get returns the live bucket for a model key, creating a zeroed one
	// anchored at the current time on first access.
	Get(modelKey string) *Bucket

	// Set stores a bucket under a model key and marks it for the next
	// persistence pass.
	Set(modelKey string, b *Bucket)

	// Entries returns a point-in-time copy of the key set. The bucket
	// pointers are live; callers that simulate must Clone them.
	Entries() map[string]*Bucket

	// Persist flushes buckets changed since the last flush. Volatile
	// stores treat this as a no-op. Failures never block dispatch: the
	// changed set is retained so a later flush retries.
	Persist(ctx context.Context, now int64) error

	// Dispose stops background work and releases resources.
	Dispose() error
}

// nowMS is the default clock for stores; tests override per instance.
func nowMS() int64 {
	return time.Now().UnixMilli()
}
