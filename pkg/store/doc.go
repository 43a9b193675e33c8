// Package store provides a resilient dual-backend store: a shared primary
// backend (Redis) and a process-local fallback behind one interface, with
// automatic failover and transparent recovery.
//
// # Failover
//
// Every operation goes through Execute. While the primary is healthy the
// operation runs there. The first primary error flips the store to the
// fallback, emits one switch event and retries the same operation against
// the fallback. For the next retry interval (default 60s) operations go
// straight to the fallback. After that, exactly one caller probes the primary
// with its own operation under a short timeout; concurrent callers keep using
// the fallback until the probe finishes. A successful probe restores the
// primary; a failed one restarts the cooldown.
//
// Primary errors never reach the caller. Fallback errors are returned wrapped
// in a *BackendError. A caller that cancels its context gets context.Canceled
// and the primary is not charged with a failure. A deadline that expires while
// the primary is working counts as a primary failure, and the fallback answers
// under its own timeout.
//
// There is no cross-process coordination: two processes may be on different
// backends at the same instant, and writes made to a process-local fallback
// are not visible to other processes or to the primary after recovery.
//
// # Adapters
//
// Adapter kinds are interfaces that embed Backend. KV is the generic
// key/value contract used by Cache; the limiter package defines its own
// window adapter interface and builds a Resilient store over it. Provided KV
// adapters:
//
//   - MemoryKV: mutex-guarded map; expired entries are removed on read.
//   - RedisKV: go-redis client, msgpack-encoded values, native TTLs, SCAN-based
//     Clear under a key prefix.
//
// # Metrics
//
// Stores report backend-active gauges, switch and primary-failure counters, a
// fallback-duration histogram and a per-operation duration histogram through
// a metrics.Recorder (WithRecorder).
package store
