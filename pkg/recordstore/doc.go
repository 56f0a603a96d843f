// Package recordstore implements a minimal client for the external record
// store used to persist usage counters and to resolve API key
// configurations.
//
// The store exposes per-collection REST endpoints
// (/api/collections/<name>/records) guarded by password authentication.
// The client acquires its auth token lazily on the first request and caches
// it; an expired-token response clears the cache so the next call
// re-authenticates. Callers are expected to treat failures as transient and
// retry on their own schedule.
package recordstore
