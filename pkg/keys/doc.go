// Package keys resolves API key configurations for each provider.
//
// A KeyConfig carries the raw key, a human-readable label, the default
// limit set, and per-model overrides. Three resolver strategies exist,
// selected by configuration:
//
//   - env: a single key read from <PROVIDER>_API_KEY, with a default
//     inter-request delay and no structured limits.
//   - record: an authenticated record store listing, filtered by provider.
//   - http: a plain JSON endpoint returning an array of entries.
//
// Stored limit specifications come in two shapes: a compact flat object
// ({"RPS": 1}) that sets default limits, or a nested object keyed by model
// name with "default" for the default set. Both parse to the same
// KeyConfig. Duplicate keys (by raw key string) are dropped, first
// occurrence wins.
package keys
