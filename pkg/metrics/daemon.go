package metrics

import (
	"github.com/preheatd/preheatd/pkg/daemon"
)

// NewDaemonMetrics creates a Prometheus-backed daemon.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called). The
// daemon treats a nil Metrics as a no-op, so disabled metrics have zero
// overhead.
func NewDaemonMetrics() daemon.Metrics {
	if !IsEnabled() || newPrometheusDaemonMetrics == nil {
		return nil
	}
	return newPrometheusDaemonMetrics()
}

// newPrometheusDaemonMetrics is implemented in pkg/metrics/prometheus.
// The indirection avoids an import cycle while keeping the API clean.
var newPrometheusDaemonMetrics func() daemon.Metrics

// RegisterDaemonMetricsConstructor registers the Prometheus daemon metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterDaemonMetricsConstructor(constructor func() daemon.Metrics) {
	newPrometheusDaemonMetrics = constructor
}
