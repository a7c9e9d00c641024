package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "preheatd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, TickNumber(12))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("TickNumber", func(t *testing.T) {
		attr := TickNumber(42)
		assert.Equal(t, AttrTick, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("Phase", func(t *testing.T) {
		attr := Phase("predict")
		assert.Equal(t, AttrTickPhase, string(attr.Key))
		assert.Equal(t, "predict", attr.Value.AsString())
	})

	t.Run("Processes", func(t *testing.T) {
		attr := Processes(137)
		assert.Equal(t, AttrProcesses, string(attr.Key))
		assert.Equal(t, int64(137), attr.Value.AsInt64())
	})

	t.Run("ModelSize", func(t *testing.T) {
		attrs := ModelSize(10, 200, 45)
		require.Len(t, attrs, 3)
		assert.Equal(t, AttrExes, string(attrs[0].Key))
		assert.Equal(t, int64(10), attrs[0].Value.AsInt64())
		assert.Equal(t, AttrMaps, string(attrs[1].Key))
		assert.Equal(t, int64(200), attrs[1].Value.AsInt64())
		assert.Equal(t, AttrPairs, string(attrs[2].Key))
		assert.Equal(t, int64(45), attrs[2].Value.AsInt64())
	})

	t.Run("PlanBytes", func(t *testing.T) {
		attr := PlanBytes(1 << 20)
		assert.Equal(t, AttrPlanBytes, string(attr.Key))
		assert.Equal(t, int64(1<<20), attr.Value.AsInt64())
	})

	t.Run("BudgetBytes", func(t *testing.T) {
		attr := BudgetBytes(256 << 20)
		assert.Equal(t, AttrBudgetBytes, string(attr.Key))
		assert.Equal(t, int64(256<<20), attr.Value.AsInt64())
	})

	t.Run("PlanSkipped", func(t *testing.T) {
		attr := PlanSkipped(true)
		assert.Equal(t, AttrPlanSkipped, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("IssuedFailed", func(t *testing.T) {
		assert.Equal(t, int64(5), Issued(5).Value.AsInt64())
		assert.Equal(t, int64(2), Failed(2).Value.AsInt64())
	})

	t.Run("Load1", func(t *testing.T) {
		attr := Load1(3.5)
		assert.Equal(t, AttrLoad1, string(attr.Key))
		assert.Equal(t, 3.5, attr.Value.AsFloat64())
	})
}

func TestStartTickSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartTickSpan(ctx, 7)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartPhaseSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartPhaseSpan(ctx, SpanPredict, Processes(10))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartPhaseSpan(ctx, SpanSave)
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}
