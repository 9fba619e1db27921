package log

import (
	"sync/atomic"

	"golang.org/x/exp/slog"
)

// LoggerFilter is used to print log when check func returns true.
type LoggerFilter interface {
	check() bool
}

// EveryN passes every N-th message, for call sites that would
// otherwise flood the log (per-instruction diagnostics).
type EveryN struct {
	N       uint32
	counter uint32
}

func (e *EveryN) check() bool {
	if e == nil || e.N == 0 {
		return true
	}
	c := atomic.AddUint32(&e.counter, 1)
	return c%e.N == 0
}

var _ LoggerFilter = &EveryN{}

func TraceBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(LevelTrace, msg, ctx...)
	}
}

func DebugBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(slog.LevelDebug, msg, ctx...)
	}
}

func WarnBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(slog.LevelWarn, msg, ctx...)
	}
}
