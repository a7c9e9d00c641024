package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/preheatd/preheatd/internal/logger"
	"github.com/preheatd/preheatd/internal/telemetry"
	"github.com/preheatd/preheatd/pkg/config"
	"github.com/preheatd/preheatd/pkg/daemon"
	"github.com/preheatd/preheatd/pkg/metrics"
	"github.com/preheatd/preheatd/pkg/readahead"
	"github.com/preheatd/preheatd/pkg/scanner"
	"github.com/preheatd/preheatd/pkg/store"

	// Import prometheus metrics to register init() functions
	_ "github.com/preheatd/preheatd/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the preheat daemon",
	Long: `Start the preheat daemon in the foreground.

The daemon scans running processes every cycle, learns launch correlations,
and issues read-ahead for the executables most likely to start next. Run it
under a process supervisor (systemd, runit) for background operation.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/preheatd/config.yaml.

Examples:
  # Start with the default configuration
  preheatd start

  # Start with a custom config file
  preheatd start --config /etc/preheatd/config.yaml

  # Start with environment variable overrides
  PREHEATD_LOGGING_LEVEL=DEBUG preheatd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "preheatd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "preheatd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("configuration loaded", logger.Str("source", getConfigSource(GetConfigFile())))

	// Initialize metrics FIRST (before constructing the daemon, which asks
	// for its metrics instance through the gate)
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			logger.Info("metrics server listening", logger.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	// Open the model store
	st, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", logger.Err(err))
		}
	}()

	// Assemble the pipeline
	scan, err := scanner.New(cfg.ScannerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	pressure, err := scanner.NewPressureSource(cfg.Scan.ProcMount)
	if err != nil {
		return fmt.Errorf("failed to initialize pressure source: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Deps{
		Scanner:  scan,
		Pressure: pressure,
		Issuer:   readahead.New(cfg.IssuerConfig()),
		Store:    st,
		Metrics:  metrics.NewDaemonMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	// Follow log-level changes in the config file without a restart
	stopWatch, err := watchConfig(GetConfigFile())
	if err != nil {
		logger.Warn("config watch unavailable", logger.Err(err))
	} else {
		defer stopWatch()
	}

	runErr := d.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", logger.Err(err))
		}
	}
	return runErr
}

// watchConfig watches the configuration file and applies logging changes in
// place. Other settings still need a restart.
func watchConfig(configPath string) (stop func(), err error) {
	if configPath == "" {
		if !config.DefaultConfigExists() {
			return nil, errors.New("no config file to watch")
		}
		configPath = config.GetDefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace the file on save, which drops a
	// watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(configPath) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := config.Load(configPath)
				if err != nil {
					logger.Warn("config reload failed", logger.Err(err))
					continue
				}
				logger.SetLevel(cfg.Logging.Level)
				logger.SetFormat(cfg.Logging.Format)
				logger.Info("logging configuration reloaded",
					logger.Str("level", cfg.Logging.Level),
					logger.Str("format", cfg.Logging.Format))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", logger.Err(err))
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
