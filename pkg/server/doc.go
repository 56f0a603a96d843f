// Package server exposes the broker over HTTP.
//
// The surface is a small fixed set of JSON endpoints: chat (/ask), image
// analysis (/analyze-image), introspection (/queue/status, /usage,
// /models, /estimate-tokens), administration (/admin/reload-keys),
// liveness (/, /health) and Prometheus exposure (/metrics). Request
// validation happens here; the engine below only ever sees well-formed
// work.
package server
