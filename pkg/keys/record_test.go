package keys

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/relay/pkg/recordstore"
)

// newKeyStoreServer serves an auth endpoint and a fixed record listing.
func newKeyStoreServer(t *testing.T, items []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/_superusers/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /api/collections/api_keys/records", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	return httptest.NewServer(mux)
}

func TestRecordResolver(t *testing.T) {
	srv := newKeyStoreServer(t, []map[string]any{
		{
			"id": "r1", "key": "sk-a", "label": "prod-1", "provider": "mistral",
			"limit": map[string]any{
				"default":    map[string]any{"RPS": 1},
				"fast-model": map[string]any{"RPS": 60},
			},
		},
		{"id": "r2", "key": "sk-b", "type": "mistral"},
		{"id": "r3", "key": "sk-c", "provider": "gemini"},
	})
	defer srv.Close()

	client, err := recordstore.New(recordstore.Config{
		BaseURL: srv.URL, Identity: "admin", Password: "pw",
	})
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := NewRecordResolver(client, "api_keys", nil)
	if err != nil {
		t.Fatal(err)
	}

	configs, err := resolver.Resolve(context.Background(), "mistral")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("Expected 2 mistral keys, got %d", len(configs))
	}

	first := configs[0]
	if first.Label != "prod-1" {
		t.Errorf("Label = %q", first.Label)
	}
	if len(first.DefaultLimits) != 1 || first.DefaultLimits[0].Value != 1 {
		t.Errorf("DefaultLimits = %+v", first.DefaultLimits)
	}
	if len(first.ModelLimits["fast-model"]) != 1 || first.ModelLimits["fast-model"][0].Value != 60 {
		t.Errorf("ModelLimits = %+v", first.ModelLimits)
	}

	// Entries without a label get a generated one.
	if configs[1].Label == "" {
		t.Error("Expected a generated label for the unlabeled entry")
	}

	if resolver.Strategy() != StrategyRecord {
		t.Errorf("Strategy = %q", resolver.Strategy())
	}
}

func TestRecordResolver_NoMatches(t *testing.T) {
	srv := newKeyStoreServer(t, []map[string]any{
		{"id": "r1", "key": "sk-a", "provider": "gemini"},
	})
	defer srv.Close()

	client, _ := recordstore.New(recordstore.Config{BaseURL: srv.URL})
	resolver, _ := NewRecordResolver(client, "api_keys", nil)

	if _, err := resolver.Resolve(context.Background(), "mistral"); !errors.Is(err, ErrNoKeys) {
		t.Errorf("Expected ErrNoKeys, got %v", err)
	}
}

func TestRecordResolver_SkipsMalformedLimits(t *testing.T) {
	srv := newKeyStoreServer(t, []map[string]any{
		{"id": "r1", "key": "sk-bad", "provider": "mistral",
			"limit": map[string]any{"NOPE": 1}},
		{"id": "r2", "key": "sk-good", "provider": "mistral"},
	})
	defer srv.Close()

	client, _ := recordstore.New(recordstore.Config{BaseURL: srv.URL})
	resolver, _ := NewRecordResolver(client, "api_keys", nil)

	configs, err := resolver.Resolve(context.Background(), "mistral")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(configs) != 1 || configs[0].Key != "sk-good" {
		t.Errorf("Expected only the well-formed entry, got %+v", configs)
	}
}
