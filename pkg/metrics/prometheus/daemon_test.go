package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preheatd/preheatd/pkg/metrics"
	"github.com/preheatd/preheatd/pkg/readahead"
)

func TestDisabledReturnsNil(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("registry already initialized by another test")
	}
	assert.Nil(t, NewDaemonMetrics())
	assert.Nil(t, metrics.NewDaemonMetrics())
}

func TestDaemonMetricsRecording(t *testing.T) {
	metrics.InitRegistry()

	m := metrics.NewDaemonMetrics()
	require.NotNil(t, m)

	m.ObserveTick(12 * time.Millisecond)
	m.RecordModelSize(10, 120, 45)
	m.ObservePlan(3, 6<<20, false)
	m.ObservePlan(0, 0, true)
	m.ObservePrefetch(readahead.Stats{Requested: 3, Issued: 2, Failed: 1, Bytes: 4 << 20})
	m.RecordSave(nil)
	m.RecordSave(errors.New("disk full"))
	m.RecordPressure(1.5, 0.4)

	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	for _, name := range []string{
		"preheatd_tick_duration_milliseconds",
		"preheatd_model_exes",
		"preheatd_plan_bytes",
		"preheatd_plans_skipped_total",
		"preheatd_prefetch_issued_total",
		"preheatd_state_saves_total",
		"preheatd_pressure_load1",
	} {
		assert.True(t, byName[name], name)
	}
}

func TestMetricsServer(t *testing.T) {
	metrics.InitRegistry()
	srv := metrics.NewServer(9100)
	require.NotNil(t, srv)
	assert.Equal(t, ":9100", srv.Addr)
}
