// Package tokens provides token estimation for request sizing.
//
// Token estimates feed the token-based limit dimensions and the wait-time
// simulator; they are advisory, so estimators are infallible by contract
// and return a best-effort non-negative count.
//
// Two implementations exist: a character-ratio estimator with per-model
// ratios (fast, ~5% error) and a BPE estimator backed by tiktoken that
// falls back to the ratio estimate for models without a known encoding.
package tokens
