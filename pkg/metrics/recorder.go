package metrics

// Recorder is the write-only sink every layer reports to. Implementations must
// be safe for concurrent use; calls never influence control flow.
type Recorder interface {
	// Add increments a counter.
	Add(name string, value float64, tags map[string]string)
	// Observe records a sample in a histogram.
	Observe(name string, value float64, tags map[string]string)
	// Set overwrites a gauge.
	Set(name string, value float64, tags map[string]string)
}

// Metric names emitted by the store and limiter packages.
const (
	StoreBackendActive     = "store.backend_active"
	StoreBackendSwitch     = "store.backend_switch"
	StorePrimaryFailure    = "store.primary_failure"
	StoreFallbackDuration  = "store.fallback_duration"
	StoreOperationDuration = "store.operation_duration"

	RateLimitCheck         = "ratelimit.check"
	RateLimitBlock         = "ratelimit.block"
	RateLimitUnknownModule = "ratelimit.unknown_module"
	RateLimitLatency       = "ratelimit.latency"
)

// NoOpRecorder is a placeholder that does nothing.
// It ensures we never have to check 'if r.recorder != nil' in our hot path.
type NoOpRecorder struct{}

func (n *NoOpRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpRecorder) Observe(name string, value float64, tags map[string]string) {}
func (n *NoOpRecorder) Set(name string, value float64, tags map[string]string)     {}
