// Package prometheus holds the Prometheus implementations of the metrics
// interfaces. Importing it (for side effects) wires the constructors into
// pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/preheatd/preheatd/pkg/daemon"
	"github.com/preheatd/preheatd/pkg/metrics"
	"github.com/preheatd/preheatd/pkg/readahead"
)

func init() {
	metrics.RegisterDaemonMetricsConstructor(NewDaemonMetrics)
}

// daemonMetrics is the Prometheus implementation of daemon.Metrics.
type daemonMetrics struct {
	tickDuration prometheus.Histogram

	modelExes  prometheus.Gauge
	modelMaps  prometheus.Gauge
	modelPairs prometheus.Gauge

	planItems     prometheus.Histogram
	planBytes     prometheus.Histogram
	plansSkipped  prometheus.Counter
	plansProduced prometheus.Counter

	prefetchIssued prometheus.Counter
	prefetchFailed prometheus.Counter
	prefetchBytes  prometheus.Counter

	saves *prometheus.CounterVec

	load1             prometheus.Gauge
	availableFraction prometheus.Gauge
}

// NewDaemonMetrics creates a Prometheus-backed daemon.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDaemonMetrics() daemon.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &daemonMetrics{
		tickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "preheatd_tick_duration_milliseconds",
			Help: "Duration of one full daemon tick in milliseconds",
			Buckets: []float64{
				1,    // idle tick
				5,    // small scan
				10,   // 10ms
				50,   // 50ms
				100,  // 100ms
				500,  // busy system
				1000, // 1s
				5000, // pathological
			},
		}),
		modelExes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "preheatd_model_exes",
			Help: "Number of tracked executables",
		}),
		modelMaps: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "preheatd_model_maps",
			Help: "Number of tracked file maps",
		}),
		modelPairs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "preheatd_model_pairs",
			Help: "Number of learned correlation pairs",
		}),
		planItems: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "preheatd_plan_items",
			Help:    "Distribution of map regions selected per plan",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		planBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "preheatd_plan_bytes",
			Help: "Distribution of bytes planned per tick",
			Buckets: []float64{
				1 << 20,  // 1MB
				4 << 20,  // 4MB
				16 << 20, // 16MB
				64 << 20, // 64MB
				256 << 20,
				1 << 30, // 1GB
			},
		}),
		plansSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "preheatd_plans_skipped_total",
			Help: "Plans suppressed by the pressure gate",
		}),
		plansProduced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "preheatd_plans_total",
			Help: "Plans produced (including empty ones)",
		}),
		prefetchIssued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "preheatd_prefetch_issued_total",
			Help: "Prefetch requests submitted to the kernel",
		}),
		prefetchFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "preheatd_prefetch_failed_total",
			Help: "Prefetch requests that could not be submitted",
		}),
		prefetchBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "preheatd_prefetch_bytes_total",
			Help: "Bytes submitted for read-ahead",
		}),
		saves: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "preheatd_state_saves_total",
			Help: "State persistence attempts by status",
		}, []string{"status"}), // status: "ok", "error"
		load1: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "preheatd_pressure_load1",
			Help: "One-minute load average at last tick",
		}),
		availableFraction: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "preheatd_pressure_available_fraction",
			Help: "Available memory as a fraction of total at last tick",
		}),
	}
}

func (m *daemonMetrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds() * 1000)
}

func (m *daemonMetrics) RecordModelSize(exes, maps, pairs int) {
	m.modelExes.Set(float64(exes))
	m.modelMaps.Set(float64(maps))
	m.modelPairs.Set(float64(pairs))
}

func (m *daemonMetrics) ObservePlan(items int, bytes uint64, skipped bool) {
	if skipped {
		m.plansSkipped.Inc()
		return
	}
	m.plansProduced.Inc()
	m.planItems.Observe(float64(items))
	m.planBytes.Observe(float64(bytes))
}

func (m *daemonMetrics) ObservePrefetch(stats readahead.Stats) {
	m.prefetchIssued.Add(float64(stats.Issued))
	m.prefetchFailed.Add(float64(stats.Failed))
	m.prefetchBytes.Add(float64(stats.Bytes))
}

func (m *daemonMetrics) RecordSave(err error) {
	if err != nil {
		m.saves.WithLabelValues("error").Inc()
		return
	}
	m.saves.WithLabelValues("ok").Inc()
}

func (m *daemonMetrics) RecordPressure(load1, availableFraction float64) {
	m.load1.Set(load1)
	m.availableFraction.Set(availableFraction)
}
