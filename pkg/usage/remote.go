package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/relay/pkg/recordstore"
)

// bootstrapPageSize caps how many records the initial load pulls.
const bootstrapPageSize = 200

// keySeparator joins the queue label and the model key in persisted records.
const keySeparator = "::"

// RemoteStoreConfig configures a record-store-backed usage store.
type RemoteStoreConfig struct {
	// Client is the shared record store client.
	Client *recordstore.Client

	// Collection is the record collection holding usage buckets.
	Collection string

	// Label namespaces persisted keys as "<label>::<modelKey>" so several
	// queues can share one collection without collisions. Empty disables
	// namespacing.
	Label string

	// FlushInterval is how often dirty buckets are written out.
	// Default: 15s.
	FlushInterval time.Duration

	// Logger receives persistence failures. Default: slog.Default().
	Logger *slog.Logger
}

// RemoteStore mirrors buckets into an external record store. Reads and
// writes are served from memory; a background timer flushes buckets that
// changed since the last flush. Persistence failures are logged and
// swallowed, never blocking dispatch.
type RemoteStore struct {
	client     *recordstore.Client
	collection string
	label      string
	logger     *slog.Logger

	mu        sync.Mutex
	buckets   map[string]*Bucket
	dirty     map[string]struct{}
	recordIDs map[string]string
	now       func() int64

	sched     *cron.Cron
	closeOnce sync.Once
}

// usageRecord is the persisted record shape.
type usageRecord struct {
	Key    string  `json:"key"`
	Bucket *Bucket `json:"bucket"`
}

// NewRemoteStore creates a remote store, loads persisted history so the
// process resumes with accurate counters, and starts the flush timer.
// A bootstrap failure is not fatal: the store starts empty and the next
// flush creates records as needed.
func NewRemoteStore(cfg RemoteStoreConfig) (*RemoteStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("usage: record store client cannot be nil")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("usage: collection cannot be empty")
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &RemoteStore{
		client:     cfg.Client,
		collection: cfg.Collection,
		label:      cfg.Label,
		logger:     cfg.Logger,
		buckets:    make(map[string]*Bucket),
		dirty:      make(map[string]struct{}),
		recordIDs:  make(map[string]string),
		now:        nowMS,
	}

	if err := s.bootstrap(context.Background()); err != nil {
		s.logger.Warn("usage bootstrap failed, starting empty",
			"collection", cfg.Collection,
			"label", cfg.Label,
			"error", err,
		)
	}

	s.sched = cron.New()
	_, err := s.sched.AddFunc(fmt.Sprintf("@every %s", cfg.FlushInterval), func() {
		if err := s.Persist(context.Background(), s.now()); err != nil {
			s.logger.Warn("usage flush failed", "label", s.label, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("usage: scheduling flush: %w", err)
	}
	s.sched.Start()

	return s, nil
}

// Get returns the bucket for a model key, creating one on first access.
func (s *RemoteStore) Get(modelKey string) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[modelKey]
	if !ok {
		b = NewBucket(s.now())
		s.buckets[modelKey] = b
	}
	return b
}

// Set stores a bucket and tags it dirty for the next flush.
func (s *RemoteStore) Set(modelKey string, b *Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[modelKey] = b
	s.dirty[modelKey] = struct{}{}
}

// Entries returns a copy of the key set with the label prefix stripped.
func (s *RemoteStore) Entries() map[string]*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Bucket, len(s.buckets))
	for k, b := range s.buckets {
		out[k] = b
	}
	return out
}

// Persist writes every bucket tagged dirty since the last flush. A known
// record id is updated in place; update failure falls back to create so a
// deleted record heals. Keys that fail stay dirty for the next pass.
func (s *RemoteStore) Persist(ctx context.Context, now int64) error {
	s.mu.Lock()
	pending := make(map[string]*Bucket, len(s.dirty))
	for key := range s.dirty {
		if b, ok := s.buckets[key]; ok {
			pending[key] = b.Clone()
		}
	}
	s.mu.Unlock()

	var errs []error
	for key, b := range pending {
		if err := s.persistOne(ctx, key, b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		s.mu.Lock()
		delete(s.dirty, key)
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Dispose stops the flush timer and attempts one final flush.
func (s *RemoteStore) Dispose() error {
	s.closeOnce.Do(func() {
		if s.sched != nil {
			s.sched.Stop()
		}
		if err := s.Persist(context.Background(), s.now()); err != nil {
			s.logger.Warn("final usage flush failed", "label", s.label, "error", err)
		}
	})
	return nil
}

// persistOne writes a single bucket under its namespaced key.
func (s *RemoteStore) persistOne(ctx context.Context, modelKey string, b *Bucket) error {
	record := usageRecord{Key: s.namespaced(modelKey), Bucket: b}

	s.mu.Lock()
	id, known := s.recordIDs[modelKey]
	s.mu.Unlock()

	if known {
		if err := s.client.Update(ctx, s.collection, id, record); err == nil {
			return nil
		}
		// The record may have been deleted out from under us; recreate.
	}

	newID, err := s.client.Create(ctx, s.collection, record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.recordIDs[modelKey] = newID
	s.mu.Unlock()
	return nil
}

// bootstrap lists persisted records and seeds the in-memory map.
func (s *RemoteStore) bootstrap(ctx context.Context) error {
	records, err := s.client.List(ctx, s.collection, bootstrapPageSize)
	if err != nil {
		return err
	}

	now := s.now()
	loaded := 0
	for _, rec := range records {
		var stored usageRecord
		if err := json.Unmarshal(rec.Data, &stored); err != nil {
			s.logger.Warn("skipping malformed usage record", "id", rec.ID, "error", err)
			continue
		}

		modelKey, ok := s.stripNamespace(stored.Key)
		if !ok {
			continue
		}

		b := stored.Bucket
		if b == nil {
			b = &Bucket{}
		}
		b.Normalize(now)

		s.mu.Lock()
		s.buckets[modelKey] = b
		s.recordIDs[modelKey] = rec.ID
		s.mu.Unlock()
		loaded++
	}

	s.logger.Info("usage history loaded",
		"collection", s.collection,
		"label", s.label,
		"buckets", loaded,
	)
	return nil
}

// namespaced prefixes a model key with the queue label when one is set.
func (s *RemoteStore) namespaced(modelKey string) string {
	if s.label == "" {
		return modelKey
	}
	return s.label + keySeparator + modelKey
}

// stripNamespace reverses namespaced; records belonging to other labels
// report ok=false.
func (s *RemoteStore) stripNamespace(key string) (string, bool) {
	if s.label == "" {
		if strings.Contains(key, keySeparator) {
			return "", false
		}
		return key, key != ""
	}
	rest, found := strings.CutPrefix(key, s.label+keySeparator)
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}
