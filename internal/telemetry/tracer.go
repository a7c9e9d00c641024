package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for daemon operations.
// Tick-scoped keys use the "tick." prefix, model keys "model.", plan keys
// "plan.".
const (
	// ========================================================================
	// Tick attributes
	// ========================================================================
	AttrTick      = "tick.number"
	AttrTickPhase = "tick.phase"

	// ========================================================================
	// Scan attributes
	// ========================================================================
	AttrProcesses = "scan.processes"
	AttrStarted   = "scan.started"
	AttrStopped   = "scan.stopped"
	AttrNewExes   = "scan.new_exes"

	// ========================================================================
	// Model attributes
	// ========================================================================
	AttrExes  = "model.exes"
	AttrMaps  = "model.maps"
	AttrPairs = "model.pairs"

	// ========================================================================
	// Plan and prefetch attributes
	// ========================================================================
	AttrPredictions = "plan.predictions"
	AttrPlanItems   = "plan.items"
	AttrPlanBytes   = "plan.bytes"
	AttrBudgetBytes = "plan.budget_bytes"
	AttrPlanSkipped = "plan.skipped"
	AttrIssued      = "prefetch.issued"
	AttrFailed      = "prefetch.failed"
	AttrBytes       = "prefetch.bytes"

	// ========================================================================
	// Pressure attributes
	// ========================================================================
	AttrLoad1     = "pressure.load1"
	AttrAvailable = "pressure.available_bytes"
)

// Span names for daemon operations.
// Format: <component>.<operation>
const (
	SpanTick     = "daemon.tick"
	SpanScan     = "daemon.scan"
	SpanObserve  = "daemon.observe"
	SpanPredict  = "daemon.predict"
	SpanPlan     = "daemon.plan"
	SpanPrefetch = "daemon.prefetch"
	SpanSave     = "daemon.save"
	SpanLoad     = "daemon.load"
)

// TickNumber returns an attribute for the tick counter
func TickNumber(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrTick, int64(n))
}

// Phase returns an attribute for the tick phase
func Phase(name string) attribute.KeyValue {
	return attribute.String(AttrTickPhase, name)
}

// Processes returns an attribute for the scanned process count
func Processes(n int) attribute.KeyValue {
	return attribute.Int(AttrProcesses, n)
}

// ModelSize returns attributes for the current model dimensions
func ModelSize(exes, maps, pairs int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrExes, exes),
		attribute.Int(AttrMaps, maps),
		attribute.Int(AttrPairs, pairs),
	}
}

// PlanBytes returns an attribute for the planned byte total
func PlanBytes(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrPlanBytes, int64(n))
}

// BudgetBytes returns an attribute for the tick's byte budget
func BudgetBytes(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBudgetBytes, int64(n))
}

// PlanSkipped returns an attribute for the pressure-gate outcome
func PlanSkipped(skipped bool) attribute.KeyValue {
	return attribute.Bool(AttrPlanSkipped, skipped)
}

// Issued returns an attribute for issued prefetch requests
func Issued(n int) attribute.KeyValue {
	return attribute.Int(AttrIssued, n)
}

// Failed returns an attribute for failed prefetch requests
func Failed(n int) attribute.KeyValue {
	return attribute.Int(AttrFailed, n)
}

// Load1 returns an attribute for the one-minute load average
func Load1(v float64) attribute.KeyValue {
	return attribute.Float64(AttrLoad1, v)
}

// StartTickSpan starts the root span for one daemon tick.
func StartTickSpan(ctx context.Context, tick uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanTick, trace.WithAttributes(TickNumber(tick)))
}

// StartPhaseSpan starts a child span for one tick phase.
func StartPhaseSpan(ctx context.Context, span string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, span, trace.WithAttributes(attrs...))
}
