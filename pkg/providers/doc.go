// Package providers implements the LLM provider clients the broker
// dispatches to.
//
// Client is the narrow surface the engine needs: a chat call and an
// image-analysis call, both context-aware. Each adapter owns one API key
// and is driven by exactly one queue dispatcher at a time, so
// implementations need only tolerate one in-flight call. Provider errors
// are propagated unchanged as *APIError; the engine performs no retries.
package providers
