package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter(&buf, level, format, false)
	t.Cleanup(func() { InitWithWriter(&buf, "INFO", "text", false) })
	return &buf
}

func lastJSONLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "WARN", "text")

	Debug("not shown")
	Info("not shown either")
	Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "shown")
}

func TestSetLevelAtRuntime(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Debug("before")
	SetLevel("DEBUG")
	Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}

func TestJSONFormatCarriesAttrs(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("tick complete", Int(KeyExes, 12), Float(KeyProb, 0.25))

	rec := lastJSONLine(t, buf)
	assert.Equal(t, "tick complete", rec["msg"])
	assert.Equal(t, float64(12), rec[KeyExes])
	assert.Equal(t, 0.25, rec[KeyProb])
}

func TestContextFieldsInjected(t *testing.T) {
	buf := capture(t, "INFO", "json")

	ctx := WithContext(context.Background(), NewLogContext("abc-123", 7))
	InfoCtx(ctx, "planning")

	rec := lastJSONLine(t, buf)
	assert.Equal(t, "abc-123", rec[KeyTraceID])
	assert.Equal(t, float64(7), rec[KeyTick])
}

func TestContextWithoutLogContext(t *testing.T) {
	buf := capture(t, "INFO", "json")

	InfoCtx(context.Background(), "bare")

	rec := lastJSONLine(t, buf)
	assert.Equal(t, "bare", rec["msg"])
	assert.NotContains(t, rec, KeyTraceID)
}

func TestErrAttr(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Warn("save failed", Err(errors.New("disk full")))
	rec := lastJSONLine(t, buf)
	assert.Equal(t, "disk full", rec[KeyError])
}

func TestColorTextHandlerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false))

	l.Info("prefetch issued", Str(KeyMap, "/usr/lib/libc.so"), Int(KeyIssued, 3))

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "prefetch issued")
	assert.Contains(t, out, "map=/usr/lib/libc.so")
	assert.Contains(t, out, "issued=3")
	assert.NotContains(t, out, "\033[", "no ANSI codes without color")
}

func TestPairAttr(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("pair updated", Pair(int64(3), int64(9)))

	rec := lastJSONLine(t, buf)
	pair, ok := rec[KeyPair].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), pair["a_seq"])
	assert.Equal(t, float64(9), pair["b_seq"])
}
