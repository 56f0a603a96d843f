// Package ratelimit implements the admission math for usage buckets.
//
// The package is deliberately pure: every function takes the current time
// as an epoch-ms argument and operates on a bucket by pointer, so the same
// code runs against live counters in the dispatch loop and against cloned
// counters in the wait-time simulator.
//
// Six limit dimensions are supported. RPS, RPm and RPD bound request counts
// in sliding 1-second, 1-minute and 1-day windows. TPm bounds tokens in a
// fixed (tumbling) 60-second window anchored at the bucket's window start.
// TPM and RPM bound tokens and requests per UTC calendar month; note the
// uppercase-M codes are monthly, not per-minute.
package ratelimit
