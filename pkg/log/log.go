// Copyright 2023 The Cryo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the process-wide leveled logger.
//
// Formatting lives in Emitters; the package-level functions write through a
// global BasicLogger that binaries configure once at startup. Formatting
// arguments are evaluated even when the record is filtered out, so hot paths
// guard chatty statements:
//
//	if log.IsLogging(log.Debug) {
//		log.Debugf(...)
//	}
package log

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"cryo.dev/cryo/pkg/sync"
)

// Level gates emission. Higher values are chattier; the zero value keeps
// warnings only.
type Level uint32

const (
	// Warning is for conditions that need attention.
	Warning Level = iota

	// Info is the normal operational record.
	Info

	// Debug is off unless explicitly requested.
	Debug
)

// String implements fmt.Stringer.String.
func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return fmt.Sprintf("Invalid level: %d", l)
	}
}

// Emitter is the final destination of log records.
type Emitter interface {
	// Emit writes one record. depth is the number of frames between Emit
	// and the logging call, for formats that name the caller; timestamp is
	// fixed by the front end so every emitter sees the same instant.
	Emit(depth int, level Level, timestamp time.Time, format string, v ...any)
}

// Writer serializes log output onto an io.Writer.
//
// A destination that fails does not fail the logger: the record is counted
// as dropped, and the count is reported in-band once the destination starts
// accepting writes again.
type Writer struct {
	// Next is the destination.
	Next io.Writer

	// mu serializes the dropped-count report.
	mu sync.Mutex

	// dropped counts records lost to write errors since the last report.
	dropped atomic.Int32
}

// Write implements io.Writer.Write. Records are newline-terminated; one is
// appended if the payload lacks it.
func (w *Writer) Write(data []byte) (int, error) {
	// Settle the dropped count first so the report lands where the gap
	// was, not after the record that follows it.
	if w.dropped.Load() > 0 {
		w.mu.Lock()
		if d := w.dropped.Load(); d > 0 {
			report := fmt.Sprintf("\n*** Dropped %d log messages ***\n", d)
			if _, err := w.Next.Write([]byte(report)); err == nil {
				w.dropped.Store(0)
			}
		}
		w.mu.Unlock()
	}

	n := 0
	for n < len(data) {
		written, err := w.Next.Write(data[n:])
		n += written
		if pathErr, ok := err.(*fs.PathError); ok && pathErr.Timeout() {
			// Non-blocking destination with a full buffer. Yield and
			// retry rather than drop.
			runtime.Gosched()
			continue
		}
		if err != nil {
			w.dropped.Add(1)
			return n, err
		}
	}

	if len(data) == 0 || data[len(data)-1] != '\n' {
		w.Write([]byte{'\n'})
	}
	return n, nil
}

// Emit implements Emitter.Emit. The record is written as-is, with no level
// or timestamp decoration.
func (w *Writer) Emit(_ int, _ Level, _ time.Time, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// MultiEmitter fans every record out to all members.
type MultiEmitter []Emitter

// Emit implements Emitter.Emit.
func (m *MultiEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	for _, e := range *m {
		e.Emit(1+depth, level, timestamp, format, v...)
	}
}

// TestLogger is the subset of testing.TB this package needs; testing.T and
// testing.B satisfy it.
type TestLogger interface {
	Logf(format string, v ...any)
}

// TestEmitter routes records into a test's log.
type TestEmitter struct {
	TestLogger
}

// Emit implements Emitter.Emit.
func (t *TestEmitter) Emit(_ int, _ Level, _ time.Time, format string, v ...any) {
	t.Logf(format, v...)
}

// Logger is the interface contextual loggers provide. BasicLogger satisfies
// it, as do wrappers like RateLimitedLogger.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns whether records at level would be emitted.
	IsLogging(level Level) bool
}

// BasicLogger is a level filter in front of an Emitter.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.DebugfAtDepth(1, format, v...)
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.InfofAtDepth(1, format, v...)
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.WarningfAtDepth(1, format, v...)
}

// DebugfAtDepth logs with the caller attributed depth frames up.
func (l *BasicLogger) DebugfAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Debug) {
		l.Emit(1+depth, Debug, time.Now(), format, v...)
	}
}

// InfofAtDepth logs with the caller attributed depth frames up.
func (l *BasicLogger) InfofAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Info) {
		l.Emit(1+depth, Info, time.Now(), format, v...)
	}
}

// WarningfAtDepth logs with the caller attributed depth frames up.
func (l *BasicLogger) WarningfAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Warning) {
		l.Emit(1+depth, Warning, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return atomic.LoadUint32((*uint32)(&l.Level)) >= uint32(level)
}

// SetLevel changes the level filter.
func (l *BasicLogger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.Level), uint32(level))
}

// logMu serializes updates to the global logger; reads go through the
// atomic pointer alone.
var logMu sync.Mutex

var global atomic.Pointer[BasicLogger]

// Log returns the global logger.
func Log() *BasicLogger {
	return global.Load()
}

// SetTarget replaces the global logger's emitter, keeping its level. Call it
// during startup, before the logger is shared.
func SetTarget(target Emitter) {
	logMu.Lock()
	defer logMu.Unlock()
	old := Log()
	global.Store(&BasicLogger{Level: old.Level, Emitter: target})
}

// SetLevel changes the global logger's level filter.
func SetLevel(newLevel Level) {
	Log().SetLevel(newLevel)
}

// IsLogging returns whether the global logger emits records at level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().DebugfAtDepth(1, format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().InfofAtDepth(1, format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().WarningfAtDepth(1, format, v...)
}

const (
	initialStackSize = 1 << 16
	maxStackSize     = 1 << 26
)

// Stacks returns formatted goroutine stacks, current goroutine only or all
// of them, growing the buffer until the trace fits.
func Stacks(all bool) []byte {
	var trace []byte
	for size := initialStackSize; size <= maxStackSize; size *= 4 {
		trace = make([]byte, size)
		n := runtime.Stack(trace, all)
		if n < size {
			return trace[:n]
		}
	}
	return trace
}

func init() {
	global.Store(&BasicLogger{Level: Info, Emitter: GoogleEmitter{&Writer{Next: os.Stderr}}})
}
