// Package metrics exposes /metrics and /health over HTTP, both built as
// live reads of the shared-state store.
package metrics
