package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preheatd/preheatd/internal/bytesize"
	"github.com/preheatd/preheatd/pkg/readahead"
	"github.com/preheatd/preheatd/pkg/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Scan.Enabled)
	assert.True(t, cfg.Predict.Enabled)
	assert.Equal(t, DefaultScanCycle, cfg.Scan.Cycle)
	assert.Equal(t, DefaultWeightMax, cfg.Model.WeightMax)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: DEBUG
scan:
  cycle: 45s
  min_size: 4MB
plan:
  mem_total_pct: -20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 45*time.Second, cfg.Scan.Cycle)
	assert.Equal(t, uint64(4_000_000), cfg.Scan.MinSize.Uint64())
	assert.Equal(t, -20, cfg.Plan.MemTotalPct)

	// untouched sections come back defaulted
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, DefaultCoincidenceWindow, cfg.Model.CoincidenceWindow)
	assert.Equal(t, DefaultSortStrategy, cfg.Readahead.SortStrategy)
	assert.Equal(t, DefaultExePrefix, cfg.Scan.ExePrefix)
}

func TestLoadDisabledSwitchesSurviveDefaulting(t *testing.T) {
	path := writeConfig(t, `
scan:
  enabled: false
predict:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Scan.Enabled)
	assert.False(t, cfg.Predict.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "logging:\n  level: LOUD\n",
			want: "must be one of",
		},
		{
			name: "bad sort strategy",
			yaml: "readahead:\n  sort_strategy: random\n",
			want: "must be one of",
		},
		{
			name: "percentage out of range",
			yaml: "plan:\n  mem_free_pct: 250\n",
			want: "at most",
		},
		{
			name: "horizon shorter than cycle",
			yaml: "scan:\n  cycle: 2m\npredict:\n  horizon: 30s\n",
			want: "at least one scan cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PREHEATD_LOGGING_LEVEL", "ERROR")
	t.Setenv("PREHEATD_SCAN_CYCLE", "90s")

	cfg, err := Load(writeConfig(t, "logging:\n  level: INFO\n"))
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, 90*time.Second, cfg.Scan.Cycle)
}

func TestByteSizeDecodeForms(t *testing.T) {
	path := writeConfig(t, `
scan:
  min_size: 1Mi
plan:
  benefit_ref_size: 3000000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, bytesize.ByteSize(1<<20), cfg.Scan.MinSize)
	assert.Equal(t, bytesize.ByteSize(3_000_000), cfg.Plan.BenefitRefSize)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "WARN"
	cfg.Scan.Cycle = 25 * time.Second

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", loaded.Logging.Level)
	assert.Equal(t, cfg.Scan.Cycle, loaded.Scan.Cycle)
	assert.Equal(t, cfg.Scan.ExePrefix, loaded.Scan.ExePrefix)
}

func TestComponentConfigConversion(t *testing.T) {
	cfg := GetDefaultConfig()

	sc := cfg.ScannerConfig()
	assert.Equal(t, DefaultProcMount, sc.ProcMount)
	assert.Equal(t, DefaultParallelism, sc.Parallelism)

	rc := cfg.RegistryConfig()
	assert.Equal(t, DefaultMinSize.Uint64(), rc.MinSize)
	assert.Equal(t, DefaultBadExeCooldown, rc.BadExeCooldown)

	mc := cfg.CorrelationConfig()
	assert.Equal(t, DefaultWeightGain, mc.WeightGain)
	assert.Equal(t, DefaultCoincidenceWindow, mc.CoincidenceWindow)

	pc := cfg.PlannerConfig()
	assert.Equal(t, DefaultBenefitRefSize.Uint64(), pc.BenefitRefSize)

	ic := cfg.IssuerConfig()
	assert.Equal(t, readahead.SortBlock, ic.Strategy)
	assert.True(t, readahead.ValidStrategy(ic.Strategy))
}
