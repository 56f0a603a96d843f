package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/pkg/recordstore"
)

// fakeRecordServer is an in-memory record store speaking the REST dialect
// the client expects.
type fakeRecordServer struct {
	mu      sync.Mutex
	nextID  int
	records map[string]map[string]json.RawMessage // id -> fields
	updates int
	creates int
	deleted map[string]bool
}

func newFakeRecordServer() *fakeRecordServer {
	return &fakeRecordServer{
		records: make(map[string]map[string]json.RawMessage),
		deleted: make(map[string]bool),
	}
}

// seed inserts a record directly and returns its id.
func (f *fakeRecordServer) seed(t *testing.T, fields any) string {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("rec%d", f.nextID)
	f.records[id] = m
	return id
}

func (f *fakeRecordServer) get(t *testing.T, id string) map[string]json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeRecordServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/collections/_superusers/auth-with-password":
			json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})

		case r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/records") && strings.HasPrefix(r.URL.Path, "/api/collections/"):
			f.mu.Lock()
			defer f.mu.Unlock()
			var items []map[string]json.RawMessage
			for id, fields := range f.records {
				item := map[string]json.RawMessage{"id": json.RawMessage(`"` + id + `"`)}
				for k, v := range fields {
					item[k] = v
				}
				items = append(items, item)
			}
			json.NewEncoder(w).Encode(map[string]any{"items": items})

		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/records") && strings.HasPrefix(r.URL.Path, "/api/collections/"):
			var fields map[string]json.RawMessage
			json.NewDecoder(r.Body).Decode(&fields)

			f.mu.Lock()
			defer f.mu.Unlock()
			f.creates++
			f.nextID++
			id := fmt.Sprintf("rec%d", f.nextID)
			f.records[id] = fields
			json.NewEncoder(w).Encode(map[string]string{"id": id})

		case r.Method == "PATCH" && strings.Contains(r.URL.Path, "/records/"):
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

			f.mu.Lock()
			defer f.mu.Unlock()
			if f.deleted[id] || f.records[id] == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var fields map[string]json.RawMessage
			json.NewDecoder(r.Body).Decode(&fields)
			f.records[id] = fields
			f.updates++
			json.NewEncoder(w).Encode(map[string]string{"id": id})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// newRemoteUnderTest wires a RemoteStore to the fake with a long flush
// interval so only explicit Persist calls write.
func newRemoteUnderTest(t *testing.T, srv *httptest.Server, label string) *RemoteStore {
	t.Helper()
	client, err := recordstore.New(recordstore.Config{
		BaseURL:  srv.URL,
		Identity: "admin@test",
		Password: "secret",
	})
	if err != nil {
		t.Fatal(err)
	}

	store, err := NewRemoteStore(RemoteStoreConfig{
		Client:        client,
		Collection:    "usage",
		Label:         label,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Dispose() })
	return store
}

func TestRemoteStore_BootstrapSeedsHistory(t *testing.T) {
	fake := newFakeRecordServer()
	fake.seed(t, usageRecord{
		Key:    "q1::m",
		Bucket: &Bucket{MonthRequestCount: 10},
	})
	fake.seed(t, usageRecord{
		Key:    "other::m",
		Bucket: &Bucket{MonthRequestCount: 99},
	})
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newRemoteUnderTest(t, srv, "q1")

	b := store.Get("m")
	if b.MonthRequestCount != 10 {
		t.Errorf("Expected restored month request count 10, got %d", b.MonthRequestCount)
	}
	if b.SecondTS == nil {
		t.Error("Restored bucket must have normalized slices")
	}
	if b.MonthRequestResetAt == 0 {
		t.Error("Restored bucket must have a reset-at anchored at now")
	}

	// The other label's record must not leak in.
	if _, ok := store.Entries()["other::m"]; ok {
		t.Error("Foreign label leaked into the store")
	}
	if len(store.Entries()) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(store.Entries()))
	}
}

func TestRemoteStore_PersistUpdatesDirtyRecord(t *testing.T) {
	fake := newFakeRecordServer()
	id := fake.seed(t, usageRecord{
		Key:    "q1::m",
		Bucket: &Bucket{MonthRequestCount: 10},
	})
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newRemoteUnderTest(t, srv, "q1")

	// A clean store flushes nothing.
	if err := store.Persist(context.Background(), nowMS()); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if fake.updates != 0 || fake.creates != 0 {
		t.Fatalf("Clean persist wrote: %d updates, %d creates", fake.updates, fake.creates)
	}

	// One successful dispatch bumps the counter and dirties the bucket.
	b := store.Get("m")
	b.MonthRequestCount++
	store.Set("m", b)

	if err := store.Persist(context.Background(), nowMS()); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if fake.updates != 1 {
		t.Errorf("Expected 1 update, got %d", fake.updates)
	}

	var stored usageRecord
	raw, _ := json.Marshal(fake.get(t, id))
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Bucket.MonthRequestCount != 11 {
		t.Errorf("Expected persisted count 11, got %d", stored.Bucket.MonthRequestCount)
	}

	// The bucket is clean again: a second persist writes nothing.
	if err := store.Persist(context.Background(), nowMS()); err != nil {
		t.Fatal(err)
	}
	if fake.updates != 1 {
		t.Errorf("Clean bucket flushed again: %d updates", fake.updates)
	}
}

func TestRemoteStore_CreateHealsDeletedRecord(t *testing.T) {
	fake := newFakeRecordServer()
	id := fake.seed(t, usageRecord{
		Key:    "q1::m",
		Bucket: &Bucket{MonthRequestCount: 5},
	})
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newRemoteUnderTest(t, srv, "q1")

	// Delete the record behind the store's back.
	fake.mu.Lock()
	delete(fake.records, id)
	fake.deleted[id] = true
	fake.mu.Unlock()

	b := store.Get("m")
	b.MonthRequestCount++
	store.Set("m", b)

	if err := store.Persist(context.Background(), nowMS()); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if fake.creates != 1 {
		t.Errorf("Expected fallback create after failed update, got %d creates", fake.creates)
	}

	// The new record id is remembered: the next flush updates it.
	b = store.Get("m")
	b.MonthRequestCount++
	store.Set("m", b)
	if err := store.Persist(context.Background(), nowMS()); err != nil {
		t.Fatal(err)
	}
	if fake.updates != 1 {
		t.Errorf("Expected update against the recreated record, got %d updates", fake.updates)
	}
}

func TestRemoteStore_PersistFailureKeepsDirty(t *testing.T) {
	fake := newFakeRecordServer()
	srv := httptest.NewServer(fake.handler())

	store := newRemoteUnderTest(t, srv, "q1")

	b := store.Get("m")
	b.MonthRequestCount++
	store.Set("m", b)

	// Take the backend down; the flush fails and the key stays dirty.
	srv.Close()
	if err := store.Persist(context.Background(), nowMS()); err == nil {
		t.Fatal("Expected persist failure with the backend down")
	}

	store.mu.Lock()
	_, stillDirty := store.dirty["m"]
	store.mu.Unlock()
	if !stillDirty {
		t.Error("A failed flush must keep the bucket dirty for retry")
	}
}

func TestRemoteStore_NamespaceStripping(t *testing.T) {
	s := &RemoteStore{label: "q1"}
	if got := s.namespaced("m"); got != "q1::m" {
		t.Errorf("namespaced = %q, want %q", got, "q1::m")
	}
	if k, ok := s.stripNamespace("q1::m"); !ok || k != "m" {
		t.Errorf("stripNamespace(q1::m) = %q, %v", k, ok)
	}
	if _, ok := s.stripNamespace("q2::m"); ok {
		t.Error("Foreign prefix must not strip")
	}

	unlabeled := &RemoteStore{}
	if k, ok := unlabeled.stripNamespace("m"); !ok || k != "m" {
		t.Errorf("Unlabeled stripNamespace(m) = %q, %v", k, ok)
	}
	if _, ok := unlabeled.stripNamespace("q1::m"); ok {
		t.Error("An unlabeled store must skip namespaced records")
	}
}

func TestRemoteStore_BootstrapToleratesMissingFields(t *testing.T) {
	fake := newFakeRecordServer()
	// A bucket stored by an older build: only a count, no arrays.
	fake.seed(t, map[string]any{
		"key":    "q1::m",
		"bucket": map[string]any{"monthTokenCount": 777},
	})
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newRemoteUnderTest(t, srv, "q1")

	b := store.Get("m")
	if b.MonthTokenCount != 777 {
		t.Errorf("Expected restored token count 777, got %d", b.MonthTokenCount)
	}
	if b.SecondTS == nil || b.MinuteTS == nil || b.DayTS == nil {
		t.Error("Missing arrays must default to empty")
	}
	if b.MonthTokenResetAt == 0 || b.MinuteTokenWindowStart == 0 {
		t.Error("Missing reset-at and window start must default to now")
	}
}

func TestRemoteStore_LabelRoundTrip(t *testing.T) {
	fake := newFakeRecordServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newRemoteUnderTest(t, srv, "q1")
	b := store.Get("my-model")
	b.MonthTokenCount = 42
	store.Set("my-model", b)
	if err := store.Persist(context.Background(), nowMS()); err != nil {
		t.Fatal(err)
	}

	// The persisted key carries the label prefix.
	found := false
	fake.mu.Lock()
	for _, fields := range fake.records {
		var key string
		json.Unmarshal(fields["key"], &key)
		if strings.HasPrefix(key, "q1::") {
			found = true
		}
	}
	fake.mu.Unlock()
	if !found {
		t.Error("Persisted record must namespace its key with the label")
	}

	// A fresh store with the same label restores it.
	restored := newRemoteUnderTest(t, srv, "q1")
	if got := restored.Get("my-model").MonthTokenCount; got != 42 {
		t.Errorf("Expected restored count 42, got %d", got)
	}
}
