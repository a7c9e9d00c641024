package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these consistently so the
// daemon's logs stay queryable across ticks.
const (
	// Tracing
	KeyTraceID = "trace_id" // per-tick trace id
	KeySpanID  = "span_id"  // OpenTelemetry span id
	KeyTick    = "tick"     // monotonic tick counter

	// Model entities
	KeyExe    = "exe"      // executable path
	KeyMap    = "map"      // mapped file path
	KeyPair   = "pair"     // correlation pair (a_seq/b_seq)
	KeySeq    = "seq"      // sequence id
	KeyExes   = "exes"     // exe count
	KeyMaps   = "maps"     // map count
	KeyPairs  = "pairs"    // pair count
	KeyProb   = "prob"     // probability
	KeyWeight = "weight"   // correlation weight
	KeyOffset = "offset"   // region offset
	KeyLength = "length"   // region length
	KeyPhase  = "phase"    // tick phase: scan, observe, predict, plan, issue, save

	// Planning and issuance
	KeyBudget  = "budget_bytes"
	KeyPlanned = "planned_bytes"
	KeyIssued  = "issued"
	KeyFailed  = "failed"
	KeyLoad    = "load1"
	KeyAvail   = "available_bytes"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyPath       = "path"
	KeyCount      = "count"
)

// Err returns an error attribute, tolerating nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Exe returns an executable path attribute.
func Exe(uri string) slog.Attr {
	return slog.String(KeyExe, uri)
}

// Map returns a mapped file path attribute.
func Map(uri string) slog.Attr {
	return slog.String(KeyMap, uri)
}

// Pair returns a correlation pair attribute as "a/b".
func Pair[S ~int64](a, b S) slog.Attr {
	return slog.Group(KeyPair, slog.Int64("a_seq", int64(a)), slog.Int64("b_seq", int64(b)))
}

// Int returns a generic integer attribute.
func Int(key string, v int) slog.Attr {
	return slog.Int(key, v)
}

// Uint64 returns a generic unsigned attribute.
func Uint64(key string, v uint64) slog.Attr {
	return slog.Uint64(key, v)
}

// Float returns a generic float attribute.
func Float(key string, v float64) slog.Attr {
	return slog.Float64(key, v)
}

// Str returns a generic string attribute.
func Str(key, v string) slog.Attr {
	return slog.String(key, v)
}

// Phase tags a log line with the tick phase it belongs to.
func Phase(name string) slog.Attr {
	return slog.String(KeyPhase, name)
}

// Tick returns the tick counter attribute.
func Tick(n uint64) slog.Attr {
	return slog.Uint64(KeyTick, n)
}

// DurationMs returns the elapsed time since start in milliseconds.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(time.Since(start).Microseconds())/1000.0)
}
