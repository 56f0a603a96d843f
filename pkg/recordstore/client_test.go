package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClient_LazyAuthAndCache(t *testing.T) {
	var auths, lists atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/_superusers/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		auths.Add(1)
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["identity"] != "admin" || creds["password"] != "pw" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("GET /api/collections/usage/records", func(w http.ResponseWriter, r *http.Request) {
		lists.Add(1)
		if r.Header.Get("Authorization") != "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"id": "r1", "key": "k"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Identity: "admin", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}

	// No contact before the first request.
	if auths.Load() != 0 {
		t.Error("Client must authenticate lazily")
	}

	records, err := c.List(context.Background(), "usage", 200)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		t.Errorf("records = %+v", records)
	}

	// The token is cached across calls.
	if _, err := c.List(context.Background(), "usage", 200); err != nil {
		t.Fatal(err)
	}
	if auths.Load() != 1 {
		t.Errorf("Expected 1 auth, got %d", auths.Load())
	}
	if lists.Load() != 2 {
		t.Errorf("Expected 2 lists, got %d", lists.Load())
	}
}

func TestClient_ExpiredTokenTriggersReauth(t *testing.T) {
	var auths atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/_superusers/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		n := auths.Add(1)
		token := "tok-1"
		if n > 1 {
			token = "tok-2"
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
	mux.HandleFunc("GET /api/collections/usage/records", func(w http.ResponseWriter, r *http.Request) {
		// The first token is treated as expired.
		if r.Header.Get("Authorization") != "tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Identity: "a", Password: "p"})

	// The first call fails with the expired token...
	if _, err := c.List(context.Background(), "usage", 200); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	// ...and the next attempt re-authenticates and succeeds.
	if _, err := c.List(context.Background(), "usage", 200); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if auths.Load() != 2 {
		t.Errorf("Expected re-authentication, got %d auths", auths.Load())
	}
}

func TestClient_CreateAndUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/_superusers/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("POST /api/collections/usage/records", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "new-id"})
	})
	var updated atomic.Bool
	mux.HandleFunc("PATCH /api/collections/usage/records/new-id", func(w http.ResponseWriter, r *http.Request) {
		updated.Store(true)
		json.NewEncoder(w).Encode(map[string]string{"id": "new-id"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})

	id, err := c.Create(context.Background(), "usage", map[string]string{"key": "k"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "new-id" {
		t.Errorf("id = %q", id)
	}

	if err := c.Update(context.Background(), "usage", id, map[string]string{"key": "k2"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.Load() {
		t.Error("Update never reached the server")
	}
}

func TestClient_EmptyBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected an error for an empty base URL")
	}
}
