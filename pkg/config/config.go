// Package config loads, validates, and defaults the daemon configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PREHEATD_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/preheatd/preheatd/internal/bytesize"
	"github.com/preheatd/preheatd/pkg/model"
	"github.com/preheatd/preheatd/pkg/readahead"
	"github.com/preheatd/preheatd/pkg/scanner"
	"github.com/preheatd/preheatd/pkg/store"
)

// Config represents the preheatd configuration.
//
// It covers the scan cycle, the correlation model tunables, prediction and
// planning policy, prefetch issuance, persistence, and the ambient concerns
// (logging, metrics, telemetry). The model tunables are deliberately all
// exposed: coincidence windows and decay factors are policy, not constants.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Database configures the model store (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Scan controls process discovery
	Scan ScanConfig `mapstructure:"scan" yaml:"scan"`

	// Model controls the pairwise correlation learner
	Model ModelConfig `mapstructure:"model" yaml:"model"`

	// Predict controls launch-probability inference
	Predict PredictConfig `mapstructure:"predict" yaml:"predict"`

	// Plan controls budget and pressure policy
	Plan PlanConfig `mapstructure:"plan" yaml:"plan"`

	// Readahead controls prefetch issuance
	Readahead ReadaheadConfig `mapstructure:"readahead" yaml:"readahead"`

	// Autosave is how often the learned model is persisted. The model is
	// also saved once on shutdown.
	Autosave time.Duration `mapstructure:"autosave" validate:"gt=0" yaml:"autosave"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether tracing is enabled (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ScanConfig controls process discovery.
type ScanConfig struct {
	// Enabled turns the observation half of the pipeline on or off.
	// With scanning off the daemon predicts from the persisted model only.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Cycle is the tick period.
	Cycle time.Duration `mapstructure:"cycle" validate:"gt=0" yaml:"cycle"`

	// ProcMount is the procfs mount point.
	ProcMount string `mapstructure:"proc_mount" yaml:"proc_mount"`

	// Parallelism bounds concurrent per-process map resolution.
	Parallelism int `mapstructure:"parallelism" validate:"gt=0" yaml:"parallelism"`

	// ExePrefix filters tracked executables (first match wins, "!" rejects).
	ExePrefix []string `mapstructure:"exe_prefix" yaml:"exe_prefix"`

	// MapPrefix filters tracked mapped files.
	MapPrefix []string `mapstructure:"map_prefix" yaml:"map_prefix"`

	// MinSize is the minimum mapped footprint for an exe to be tracked.
	MinSize bytesize.ByteSize `mapstructure:"min_size" yaml:"min_size"`

	// BadExeCooldown is how long a rejected executable stays excluded.
	BadExeCooldown time.Duration `mapstructure:"bad_exe_cooldown" validate:"gt=0" yaml:"bad_exe_cooldown"`
}

// ModelConfig controls the correlation learner.
type ModelConfig struct {
	// CoincidenceWindow is the maximum launch gap that still counts as a
	// correlated co-start.
	CoincidenceWindow time.Duration `mapstructure:"coincidence_window" validate:"gt=0" yaml:"coincidence_window"`

	// TTLSmoothing is the dwell-estimate EWMA factor in (0,1].
	TTLSmoothing float64 `mapstructure:"ttl_smoothing" validate:"gt=0,lte=1" yaml:"ttl_smoothing"`

	// WeightGain is added to a pair's weight per coincident launch.
	WeightGain float64 `mapstructure:"weight_gain" validate:"gt=0" yaml:"weight_gain"`

	// WeightMax saturates pair weights.
	WeightMax float64 `mapstructure:"weight_max" validate:"gt=0" yaml:"weight_max"`

	// WeightHalfLife controls weight decay without reinforcement.
	// Zero disables decay.
	WeightHalfLife time.Duration `mapstructure:"weight_half_life" validate:"gte=0" yaml:"weight_half_life"`

	// MapProbSmoothing is the EWMA factor for per-map usage probability.
	MapProbSmoothing float64 `mapstructure:"map_prob_smoothing" validate:"gt=0,lte=1" yaml:"map_prob_smoothing"`
}

// PredictConfig controls launch-probability inference.
type PredictConfig struct {
	// Enabled turns the prediction half of the pipeline on or off.
	// With prediction off the daemon only learns.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Horizon is how far ahead launches are predicted.
	Horizon time.Duration `mapstructure:"horizon" validate:"gt=0" yaml:"horizon"`

	// MinProb drops predictions below this probability.
	MinProb float64 `mapstructure:"min_prob" validate:"gte=0,lte=1" yaml:"min_prob"`
}

// PlanConfig controls the prefetch budget and the pressure gate.
//
// The byte budget is recomputed from live meminfo on every planning pass:
//
//	budget = max(0, total*mem_total_pct + free*mem_free_pct) + cached*mem_cached_pct
//
// with percentages clamped to [-100,100]. A negative mem_total_pct reserves
// a fraction of total memory off the top.
type PlanConfig struct {
	MemTotalPct  int `mapstructure:"mem_total_pct" validate:"gte=-100,lte=100" yaml:"mem_total_pct"`
	MemFreePct   int `mapstructure:"mem_free_pct" validate:"gte=-100,lte=100" yaml:"mem_free_pct"`
	MemCachedPct int `mapstructure:"mem_cached_pct" validate:"gte=-100,lte=100" yaml:"mem_cached_pct"`

	// MaxLoad1 suppresses planning above this one-minute load average.
	MaxLoad1 float64 `mapstructure:"max_load1" validate:"gte=0" yaml:"max_load1"`

	// MinAvailableFraction suppresses planning when available memory drops
	// below this fraction of total.
	MinAvailableFraction float64 `mapstructure:"min_available_fraction" validate:"gte=0,lte=1" yaml:"min_available_fraction"`

	// BenefitRefSize is the map size at which the planner's size benefit
	// halves. Zero disables the size benefit.
	BenefitRefSize bytesize.ByteSize `mapstructure:"benefit_ref_size" yaml:"benefit_ref_size"`

	// ResidentPenalty scales scores of maps fetched in the previous plan.
	ResidentPenalty float64 `mapstructure:"resident_penalty" validate:"gte=0,lte=1" yaml:"resident_penalty"`
}

// ReadaheadConfig controls prefetch issuance.
type ReadaheadConfig struct {
	// SortStrategy orders submitted regions: none, path, inode, block.
	SortStrategy string `mapstructure:"sort_strategy" validate:"omitempty,oneof=none path inode block" yaml:"sort_strategy"`
}

// ScannerConfig converts to the scanner's own config type.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		ProcMount:   c.Scan.ProcMount,
		Parallelism: c.Scan.Parallelism,
		ExePrefix:   scanner.PrefixFilter(c.Scan.ExePrefix),
		MapPrefix:   scanner.PrefixFilter(c.Scan.MapPrefix),
	}
}

// RegistryConfig converts to the model registry config.
func (c *Config) RegistryConfig() model.RegistryConfig {
	return model.RegistryConfig{
		MinSize:          c.Scan.MinSize.Uint64(),
		BadExeCooldown:   c.Scan.BadExeCooldown,
		MapProbSmoothing: c.Model.MapProbSmoothing,
	}
}

// CorrelationConfig converts to the correlation model config.
func (c *Config) CorrelationConfig() model.ModelConfig {
	return model.ModelConfig{
		TTLSmoothing:      c.Model.TTLSmoothing,
		WeightGain:        c.Model.WeightGain,
		WeightMax:         c.Model.WeightMax,
		WeightHalfLife:    c.Model.WeightHalfLife,
		CoincidenceWindow: c.Model.CoincidenceWindow,
	}
}

// PredictorConfig converts to the predictor config.
func (c *Config) PredictorConfig() model.PredictConfig {
	return model.PredictConfig{
		Horizon: c.Predict.Horizon,
		MinProb: c.Predict.MinProb,
	}
}

// PlannerConfig converts to the planner config.
func (c *Config) PlannerConfig() model.PlanConfig {
	return model.PlanConfig{
		BenefitRefSize:       c.Plan.BenefitRefSize.Uint64(),
		MaxLoad1:             c.Plan.MaxLoad1,
		MinAvailableFraction: c.Plan.MinAvailableFraction,
		ResidentPenalty:      c.Plan.ResidentPenalty,
	}
}

// IssuerConfig converts to the readahead issuer config.
func (c *Config) IssuerConfig() readahead.Config {
	return readahead.Config{Strategy: readahead.SortStrategy(c.Readahead.SortStrategy)}
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location and falls back to pure
// defaults when no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	// A missing file is fine: registered defaults and the environment
	// still apply.
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration and panics on failure.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// PREHEATD_SCAN_CYCLE=30s style overrides
	v.SetEnvPrefix("PREHEATD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// registerDefaults makes every key known to viper. Environment overrides
// only resolve for known keys, and booleans that default to true need
// viper-level defaults, since a zero value after unmarshal is
// indistinguishable from an explicit false.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.output", DefaultLogOutput)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", DefaultTelemetryEndpoint)
	v.SetDefault("telemetry.sample_rate", DefaultTelemetrySampleRate)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", DefaultProfilingEndpoint)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", DefaultMetricsPort)

	v.SetDefault("scan.enabled", true)
	v.SetDefault("scan.cycle", DefaultScanCycle)
	v.SetDefault("scan.proc_mount", DefaultProcMount)
	v.SetDefault("scan.parallelism", DefaultParallelism)
	v.SetDefault("scan.min_size", uint64(DefaultMinSize))
	v.SetDefault("scan.bad_exe_cooldown", DefaultBadExeCooldown)

	v.SetDefault("model.coincidence_window", DefaultCoincidenceWindow)
	v.SetDefault("model.ttl_smoothing", DefaultTTLSmoothing)
	v.SetDefault("model.weight_gain", DefaultWeightGain)
	v.SetDefault("model.weight_max", DefaultWeightMax)
	v.SetDefault("model.weight_half_life", DefaultWeightHalfLife)
	v.SetDefault("model.map_prob_smoothing", DefaultMapProbSmoothing)

	v.SetDefault("predict.enabled", true)
	v.SetDefault("predict.horizon", DefaultPredictHorizon)
	v.SetDefault("predict.min_prob", DefaultMinProb)

	v.SetDefault("plan.mem_total_pct", DefaultMemTotalPct)
	v.SetDefault("plan.mem_free_pct", DefaultMemFreePct)
	v.SetDefault("plan.mem_cached_pct", DefaultMemCachedPct)
	v.SetDefault("plan.max_load1", DefaultMaxLoad1)
	v.SetDefault("plan.min_available_fraction", DefaultMinAvailableFraction)
	v.SetDefault("plan.benefit_ref_size", uint64(DefaultBenefitRefSize))
	v.SetDefault("plan.resident_penalty", DefaultResidentPenalty)

	v.SetDefault("readahead.sort_strategy", DefaultSortStrategy)

	v.SetDefault("autosave", DefaultAutosave)
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom config types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can say "2MB" or "512Ki".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "1h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: /etc/preheatd for root,
// otherwise $XDG_CONFIG_HOME/preheatd.
func getConfigDir() string {
	if os.Geteuid() == 0 {
		return "/etc/preheatd"
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "preheatd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "preheatd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
