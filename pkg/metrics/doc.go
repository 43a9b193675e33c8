// Package metrics defines the write-only Recorder sink used by the store and
// limiter packages, a no-op default, an in-memory MockRecorder for tests and a
// Prometheus-backed implementation.
//
// Recorder names are dotted ("store.backend_switch"); the Prometheus recorder
// maps each known name onto a pre-registered vector and drops tags that are not
// declared labels for that metric.
package metrics
