// Package daemon drives the observe/learn/predict/prefetch cycle.
//
// One goroutine owns the registry and the correlation model; every tick runs
// the full pipeline against them and nothing else touches them. Collaborators
// are injected as narrow interfaces so ticks can be driven synchronously in
// tests.
package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/preheatd/preheatd/internal/logger"
	"github.com/preheatd/preheatd/internal/telemetry"
	"github.com/preheatd/preheatd/pkg/config"
	"github.com/preheatd/preheatd/pkg/model"
	"github.com/preheatd/preheatd/pkg/readahead"
)

// ProcessScanner produces a snapshot of running processes.
type ProcessScanner interface {
	Scan(ctx context.Context) (model.Snapshot, error)
}

// PressureReader reports current memory and load pressure.
type PressureReader interface {
	Read() (model.Pressure, error)
}

// PrefetchIssuer submits planned regions to the kernel.
type PrefetchIssuer interface {
	Prefetch(ctx context.Context, regions []model.MapRegion) readahead.Stats
}

// StateStore persists and restores the learned state.
type StateStore interface {
	Save(reg *model.Registry, mdl *model.Model, now int64) error
	Load(regCfg model.RegistryConfig, mdlCfg model.ModelConfig) (*model.Registry, *model.Model, error)
}

// Metrics receives per-tick observations. A nil Metrics is valid and costs
// nothing.
type Metrics interface {
	ObserveTick(d time.Duration)
	RecordModelSize(exes, maps, pairs int)
	ObservePlan(items int, bytes uint64, skipped bool)
	ObservePrefetch(stats readahead.Stats)
	RecordSave(err error)
	RecordPressure(load1, availableFraction float64)
}

// Deps carries the daemon's collaborators.
type Deps struct {
	Scanner  ProcessScanner
	Pressure PressureReader
	Issuer   PrefetchIssuer
	Store    StateStore
	Metrics  Metrics
}

// Daemon is the adaptive prefetch daemon.
type Daemon struct {
	cfg  *config.Config
	deps Deps

	reg *model.Registry
	mdl *model.Model

	// now is injectable for tests.
	now func() time.Time

	tick     uint64
	resident map[model.Seq]bool
	lastSave time.Time
}

// New restores persisted state through the store and prepares a daemon.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	reg, mdl, err := deps.Store.Load(cfg.RegistryConfig(), cfg.CorrelationConfig())
	if err != nil {
		return nil, err
	}

	logger.Info("model restored",
		logger.Int(logger.KeyExes, reg.CountExes()),
		logger.Int(logger.KeyMaps, reg.CountMaps()),
		logger.Int(logger.KeyPairs, mdl.CountPairs()))

	d := &Daemon{
		cfg:  cfg,
		deps: deps,
		reg:  reg,
		mdl:  mdl,
		now:  time.Now,
	}
	d.lastSave = d.now()
	return d, nil
}

// Registry exposes the registry for read-only inspection (dump command).
func (d *Daemon) Registry() *model.Registry { return d.reg }

// Model exposes the correlation model for read-only inspection.
func (d *Daemon) Model() *model.Model { return d.mdl }

// Run executes ticks until the context is cancelled, then saves once more
// and returns. The returned error is the final save's, if any.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Scan.Cycle)
	defer ticker.Stop()

	d.lastSave = d.now()
	logger.Info("daemon started",
		logger.Str("cycle", d.cfg.Scan.Cycle.String()),
		logger.Str("autosave", d.cfg.Autosave.String()))

	// First tick immediately so a fresh start begins learning without
	// waiting a full cycle.
	d.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping", logger.Tick(d.tick))
			return d.save()
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one full pipeline pass: scan, observe, predict, plan, prefetch,
// and autosave when due.
func (d *Daemon) Tick(ctx context.Context) {
	d.tick++
	start := d.now()

	ctx = logger.WithContext(ctx, logger.NewLogContext(uuid.NewString(), d.tick))
	ctx, span := telemetry.StartTickSpan(ctx, d.tick)
	defer span.End()

	if d.cfg.Scan.Enabled {
		d.observe(ctx)
	}
	if d.cfg.Predict.Enabled {
		d.prefetch(ctx)
	}
	if d.now().Sub(d.lastSave) >= d.cfg.Autosave {
		sctx, saveSpan := telemetry.StartPhaseSpan(ctx, telemetry.SpanSave)
		if err := d.save(); err != nil {
			telemetry.RecordError(sctx, err)
		}
		saveSpan.End()
	}

	if d.deps.Metrics != nil {
		d.deps.Metrics.ObserveTick(d.now().Sub(start))
		d.deps.Metrics.RecordModelSize(d.reg.CountExes(), d.reg.CountMaps(), d.mdl.CountPairs())
	}
	logger.DebugCtx(ctx, "tick complete", logger.DurationMs(start))
}

// observe scans processes and feeds the diff through the learner.
func (d *Daemon) observe(ctx context.Context) {
	sctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanScan)
	defer span.End()

	snap, err := d.deps.Scanner.Scan(sctx)
	if err != nil {
		telemetry.RecordError(sctx, err)
		logger.WarnCtx(sctx, "scan failed", logger.Err(err))
		return
	}
	telemetry.SetAttributes(sctx, telemetry.Processes(len(snap.Processes)))

	diff := d.reg.Observe(snap)
	d.mdl.Apply(diff, d.reg)

	if len(diff.Started) > 0 || len(diff.Stopped) > 0 {
		logger.InfoCtx(sctx, "launch activity",
			logger.Phase("observe"),
			logger.Int("started", len(diff.Started)),
			logger.Int("stopped", len(diff.Stopped)),
			logger.Int("new_exes", len(diff.NewExes)))
	}
}

// prefetch predicts upcoming launches and issues a budgeted plan.
func (d *Daemon) prefetch(ctx context.Context) {
	pctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanPredict)
	defer span.End()

	pressure, err := d.deps.Pressure.Read()
	if err != nil {
		telemetry.RecordError(pctx, err)
		logger.WarnCtx(pctx, "pressure read failed", logger.Err(err))
		return
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordPressure(pressure.Load1, pressure.AvailableFraction())
	}

	budget := Budget(pressure, d.cfg.Plan)
	preds := d.mdl.Predict(d.reg, d.cfg.PredictorConfig())
	plan := model.BuildPlan(preds, d.reg, pressure, budget, d.resident, d.cfg.PlannerConfig())

	telemetry.SetAttributes(pctx,
		telemetry.BudgetBytes(budget),
		telemetry.PlanBytes(plan.TotalBytes),
		telemetry.PlanSkipped(plan.Skipped),
		telemetry.Load1(pressure.Load1))
	if d.deps.Metrics != nil {
		d.deps.Metrics.ObservePlan(len(plan.Items), plan.TotalBytes, plan.Skipped)
	}

	if plan.Skipped {
		logger.InfoCtx(pctx, "planning suppressed by pressure",
			logger.Phase("plan"),
			logger.Float(logger.KeyLoad, pressure.Load1),
			logger.Uint64(logger.KeyAvail, pressure.AvailableBytes))
		return
	}
	if len(plan.Items) == 0 {
		return
	}

	ictx, ispan := telemetry.StartPhaseSpan(pctx, telemetry.SpanPrefetch)
	stats := d.deps.Issuer.Prefetch(ictx, plan.Regions())
	telemetry.SetAttributes(ictx, telemetry.Issued(stats.Issued), telemetry.Failed(stats.Failed))
	ispan.End()

	if d.deps.Metrics != nil {
		d.deps.Metrics.ObservePrefetch(stats)
	}
	logger.InfoCtx(pctx, "prefetch pass",
		logger.Phase("issue"),
		logger.Uint64(logger.KeyBudget, budget),
		logger.Uint64(logger.KeyPlanned, plan.TotalBytes),
		logger.Int(logger.KeyIssued, stats.Issued),
		logger.Int(logger.KeyFailed, stats.Failed))

	// Maps fetched this pass count as resident next pass, so repeat plans
	// prefer fresh material.
	resident := make(map[model.Seq]bool, len(plan.Items))
	for _, it := range plan.Items {
		resident[it.Map.Seq] = true
	}
	d.resident = resident
}

// save persists the current state and stamps the autosave clock.
func (d *Daemon) save() error {
	start := d.now()
	err := d.deps.Store.Save(d.reg, d.mdl, start.Unix())
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordSave(err)
	}
	if err != nil {
		logger.Error("state save failed", logger.Err(err))
		return err
	}
	d.lastSave = start
	logger.Info("state saved",
		logger.Int(logger.KeyExes, d.reg.CountExes()),
		logger.Int(logger.KeyPairs, d.mdl.CountPairs()),
		logger.DurationMs(start))
	return nil
}
