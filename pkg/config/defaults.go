package config

import (
	"time"

	"github.com/preheatd/preheatd/internal/bytesize"
	"github.com/preheatd/preheatd/pkg/readahead"
)

// Default values for the daemon configuration.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultTelemetryEndpoint   = "localhost:4317"
	DefaultTelemetrySampleRate = 1.0
	DefaultProfilingEndpoint   = "http://localhost:4040"

	DefaultMetricsPort = 9100

	DefaultScanCycle       = 20 * time.Second
	DefaultProcMount       = "/proc"
	DefaultParallelism     = 30
	DefaultMinSize         = bytesize.ByteSize(2_000_000)
	DefaultBadExeCooldown  = time.Hour
	DefaultAutosave        = time.Hour
	DefaultShutdownTimeout = 30 * time.Second

	DefaultCoincidenceWindow = 10 * time.Second
	DefaultTTLSmoothing      = 0.25
	DefaultWeightGain        = 1.0
	DefaultWeightMax         = 10.0
	DefaultWeightHalfLife    = time.Hour
	DefaultMapProbSmoothing  = 0.25

	DefaultPredictHorizon = 30 * time.Second
	DefaultMinProb        = 0.05

	DefaultMemTotalPct          = -10
	DefaultMemFreePct           = 50
	DefaultMemCachedPct         = 0
	DefaultMaxLoad1             = 10.0
	DefaultMinAvailableFraction = 0.02
	DefaultBenefitRefSize       = bytesize.ByteSize(2_000_000)
	DefaultResidentPenalty      = 0.25

	DefaultSortStrategy = string(readahead.SortBlock)
)

// DefaultExePrefix tracks binaries from the usual system prefixes and
// rejects everything else. The trailing "!" turns the list into an
// allowlist.
var DefaultExePrefix = []string{
	"/opt",
	"!/usr/sbin/",
	"!/usr/local/sbin/",
	"/usr/",
	"!",
}

// DefaultMapPrefix mirrors DefaultExePrefix plus the dynamic linker and
// library homes.
var DefaultMapPrefix = []string{
	"/opt",
	"/usr/",
	"/lib",
	"/var/cache/",
	"!",
}

// ApplyDefaults fills in zero values on a configuration. Each section has
// its own pass so partially specified files behave predictably.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(cfg)
	applyTelemetryDefaults(cfg)
	applyMetricsDefaults(cfg)
	cfg.Database.ApplyDefaults()
	applyScanDefaults(cfg)
	applyModelDefaults(cfg)
	applyPredictDefaults(cfg)
	applyPlanDefaults(cfg)
	applyReadaheadDefaults(cfg)

	if cfg.Autosave == 0 {
		cfg.Autosave = DefaultAutosave
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLoggingDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}
}

func applyTelemetryDefaults(cfg *Config) {
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = DefaultTelemetryEndpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = DefaultTelemetrySampleRate
	}
	if cfg.Telemetry.Profiling.Endpoint == "" {
		cfg.Telemetry.Profiling.Endpoint = DefaultProfilingEndpoint
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space"}
	}
}

func applyMetricsDefaults(cfg *Config) {
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

func applyScanDefaults(cfg *Config) {
	if cfg.Scan.Cycle == 0 {
		cfg.Scan.Cycle = DefaultScanCycle
	}
	if cfg.Scan.ProcMount == "" {
		cfg.Scan.ProcMount = DefaultProcMount
	}
	if cfg.Scan.Parallelism == 0 {
		cfg.Scan.Parallelism = DefaultParallelism
	}
	if len(cfg.Scan.ExePrefix) == 0 {
		cfg.Scan.ExePrefix = append([]string(nil), DefaultExePrefix...)
	}
	if len(cfg.Scan.MapPrefix) == 0 {
		cfg.Scan.MapPrefix = append([]string(nil), DefaultMapPrefix...)
	}
	if cfg.Scan.MinSize == 0 {
		cfg.Scan.MinSize = DefaultMinSize
	}
	if cfg.Scan.BadExeCooldown == 0 {
		cfg.Scan.BadExeCooldown = DefaultBadExeCooldown
	}
}

func applyModelDefaults(cfg *Config) {
	if cfg.Model.CoincidenceWindow == 0 {
		cfg.Model.CoincidenceWindow = DefaultCoincidenceWindow
	}
	if cfg.Model.TTLSmoothing == 0 {
		cfg.Model.TTLSmoothing = DefaultTTLSmoothing
	}
	if cfg.Model.WeightGain == 0 {
		cfg.Model.WeightGain = DefaultWeightGain
	}
	if cfg.Model.WeightMax == 0 {
		cfg.Model.WeightMax = DefaultWeightMax
	}
	if cfg.Model.WeightHalfLife == 0 {
		cfg.Model.WeightHalfLife = DefaultWeightHalfLife
	}
	if cfg.Model.MapProbSmoothing == 0 {
		cfg.Model.MapProbSmoothing = DefaultMapProbSmoothing
	}
}

func applyPredictDefaults(cfg *Config) {
	if cfg.Predict.Horizon == 0 {
		cfg.Predict.Horizon = DefaultPredictHorizon
	}
	if cfg.Predict.MinProb == 0 {
		cfg.Predict.MinProb = DefaultMinProb
	}
}

func applyPlanDefaults(cfg *Config) {
	if cfg.Plan.MemTotalPct == 0 {
		cfg.Plan.MemTotalPct = DefaultMemTotalPct
	}
	if cfg.Plan.MemFreePct == 0 {
		cfg.Plan.MemFreePct = DefaultMemFreePct
	}
	if cfg.Plan.MaxLoad1 == 0 {
		cfg.Plan.MaxLoad1 = DefaultMaxLoad1
	}
	if cfg.Plan.MinAvailableFraction == 0 {
		cfg.Plan.MinAvailableFraction = DefaultMinAvailableFraction
	}
	if cfg.Plan.BenefitRefSize == 0 {
		cfg.Plan.BenefitRefSize = DefaultBenefitRefSize
	}
	if cfg.Plan.ResidentPenalty == 0 {
		cfg.Plan.ResidentPenalty = DefaultResidentPenalty
	}
}

func applyReadaheadDefaults(cfg *Config) {
	if cfg.Readahead.SortStrategy == "" {
		cfg.Readahead.SortStrategy = DefaultSortStrategy
	}
}

// GetDefaultConfig returns a fully defaulted configuration. Scanning and
// prediction are both on; telemetry, profiling, and metrics are opt-in.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Scan.Enabled = true
	cfg.Predict.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}
