package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"mercator-hq/relay/pkg/recordstore"
)

// recordPageSize caps how many key records one listing pulls.
const recordPageSize = 200

// RecordResolver lists key configurations from the authenticated record
// store, filtered by provider.
type RecordResolver struct {
	client     *recordstore.Client
	collection string
	logger     *slog.Logger
}

// NewRecordResolver creates a resolver over an existing record store client.
func NewRecordResolver(client *recordstore.Client, collection string, logger *slog.Logger) (*RecordResolver, error) {
	if client == nil {
		return nil, fmt.Errorf("keys: record store client cannot be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("keys: collection cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordResolver{client: client, collection: collection, logger: logger}, nil
}

// Resolve lists the collection and returns the entries for a provider.
func (r *RecordResolver) Resolve(ctx context.Context, provider string) ([]KeyConfig, error) {
	records, err := r.client.List(ctx, r.collection, recordPageSize)
	if err != nil {
		return nil, fmt.Errorf("keys: listing records: %w", err)
	}

	var configs []KeyConfig
	for i, rec := range records {
		var e entry
		if err := json.Unmarshal(rec.Data, &e); err != nil {
			r.logger.Warn("skipping malformed key record", "id", rec.ID, "error", err)
			continue
		}
		if !e.matches(provider) {
			continue
		}

		kc, err := e.toKeyConfig(fmt.Sprintf("%s-%d", provider, i))
		if err != nil {
			r.logger.Warn("skipping key record with bad limits", "id", rec.ID, "error", err)
			continue
		}
		configs = append(configs, kc)
	}

	configs = dedupe(configs)
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w for provider %q in collection %q", ErrNoKeys, provider, r.collection)
	}
	return configs, nil
}

// Strategy returns "record".
func (r *RecordResolver) Strategy() string {
	return StrategyRecord
}
