// Package usage holds the per-model usage counters consumed by the
// admission logic and the stores that keep them.
//
// A Bucket is the complete counter state for one (queue, model) key:
// completion timestamps inside the 1s/1m/1d sliding windows, calendar-month
// token and request totals, and the tumbling minute-token window. Stores map
// model keys to buckets and come in three strategies:
//
//   - MemoryStore: volatile, in-process only.
//   - RemoteStore: mirrors buckets into an external record store so history
//     survives restarts; writes are batched on a timer and only dirty
//     buckets flush.
//   - SQLiteStore: durable local persistence without a network dependency.
//
// All times are epoch milliseconds; calendar resets are computed against the
// UTC calendar.
package usage
