package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists buckets in a local SQLite database. Like RemoteStore
// it serves reads and writes from memory and flushes dirty buckets in the
// background; unlike it, persistence needs no network and survives without
// external services.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*Bucket
	dirty   map[string]struct{}
	now     func() int64

	saveStmt *sql.Stmt

	flushInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
}

// SQLiteStoreConfig configures a SQLite-backed usage store.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	Path string

	// FlushInterval is how often dirty buckets are written. Default: 15s.
	FlushInterval time.Duration

	// BusyTimeout is how long to wait for locks. Default: 5s.
	BusyTimeout time.Duration

	// Logger receives persistence failures. Default: slog.Default().
	Logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database, loads existing buckets,
// and starts the background flush loop.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("usage: sqlite path cannot be empty")
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 15 * time.Second
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("usage: opening database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:            db,
		logger:        cfg.Logger,
		buckets:       make(map[string]*Bucket),
		dirty:         make(map[string]struct{}),
		now:           nowMS,
		flushInterval: cfg.FlushInterval,
		done:          make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: initializing schema: %w", err)
	}

	s.saveStmt, err = db.Prepare(`
		INSERT INTO usage_buckets (model_key, bucket, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (model_key) DO UPDATE SET
			bucket = excluded.bucket,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: preparing save statement: %w", err)
	}

	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: loading buckets: %w", err)
	}

	go s.flushLoop()

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_buckets (
		model_key TEXT PRIMARY KEY,
		bucket TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadAll seeds the in-memory map from the database.
func (s *SQLiteStore) loadAll() error {
	rows, err := s.db.Query(`SELECT model_key, bucket FROM usage_buckets`)
	if err != nil {
		return err
	}
	defer rows.Close()

	now := s.now()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return err
		}

		var b Bucket
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			s.logger.Warn("skipping malformed usage row", "model_key", key, "error", err)
			continue
		}
		b.Normalize(now)
		s.buckets[key] = &b
	}
	return rows.Err()
}

// Get returns the bucket for a model key, creating one on first access.
func (s *SQLiteStore) Get(modelKey string) *Bucket {
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
func (s *SQLiteStore) Set(modelKey string, b *Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[modelKey] = b
	s.dirty[modelKey] = struct{}{}
}

// Entries returns a copy of the key set in unspecified order.
func (s *SQLiteStore) Entries() map[string]*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Bucket, len(s.buckets))
	for k, b := range s.buckets {
		out[k] = b
	}
	return out
}

// Persist upserts every dirty bucket. Keys that fail stay dirty.
func (s *SQLiteStore) Persist(ctx context.Context, now int64) error {
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
		raw, err := json.Marshal(b)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if _, err := s.saveStmt.ExecContext(ctx, key, string(raw), now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		s.mu.Lock()
		delete(s.dirty, key)
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Dispose stops the flush loop, flushes once more, and closes the database.
func (s *SQLiteStore) Dispose() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if perr := s.Persist(context.Background(), s.now()); perr != nil {
			s.logger.Warn("final usage flush failed", "error", perr)
		}
		s.saveStmt.Close()
		err = s.db.Close()
	})
	return err
}

// flushLoop periodically persists dirty buckets until disposed.
func (s *SQLiteStore) flushLoop() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Persist(context.Background(), s.now()); err != nil {
				s.logger.Warn("usage flush failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}
