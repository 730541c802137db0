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

package log

import (
	"time"

	"golang.org/x/time/rate"
)

// limitedLogger drops records beyond one per interval. Dropping is silent;
// use it for logs whose repetition carries no information.
type limitedLogger struct {
	inner Logger
	lim   *rate.Limiter
}

// Debugf implements Logger.Debugf.
func (l *limitedLogger) Debugf(format string, v ...any) {
	if l.lim.Allow() {
		l.inner.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (l *limitedLogger) Infof(format string, v ...any) {
	if l.lim.Allow() {
		l.inner.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (l *limitedLogger) Warningf(format string, v ...any) {
	if l.lim.Allow() {
		l.inner.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging. The limit does not apply; a true
// result only means a record might be emitted.
func (l *limitedLogger) IsLogging(level Level) bool {
	return l.inner.IsLogging(level)
}

// BasicRateLimitedLogger rate-limits the global logger to one record per
// every.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger rate-limits logger to one record per every.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &limitedLogger{
		inner: logger,
		lim:   rate.NewLimiter(rate.Every(every), 1),
	}
}
