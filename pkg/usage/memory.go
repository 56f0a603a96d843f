package usage

import (
	"context"
	"sync"
)

// MemoryStore keeps buckets in process memory. Persist is a no-op and all
// history is lost on exit. This is the default strategy.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	now     func() int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*Bucket),
		now:     nowMS,
	}
}

// Get returns the bucket for a model key, creating one on first access.
func (m *MemoryStore) Get(modelKey string) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[modelKey]
	if !ok {
		b = NewBucket(m.now())
		m.buckets[modelKey] = b
	}
	return b
}

// Set stores a bucket under a model key.
func (m *MemoryStore) Set(modelKey string, b *Bucket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[modelKey] = b
}

// Entries returns a copy of the key set in unspecified order.
func (m *MemoryStore) Entries() map[string]*Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*Bucket, len(m.buckets))
	for k, b := range m.buckets {
		out[k] = b
	}
	return out
}

// Persist is a no-op for the memory strategy.
func (m *MemoryStore) Persist(ctx context.Context, now int64) error {
	return nil
}

// Dispose releases nothing; the store has no background work.
func (m *MemoryStore) Dispose() error {
	return nil
}
