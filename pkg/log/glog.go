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
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter formats records the way github.com/golang/glog does:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// with L a single level letter. It is the default human-readable format.
type GoogleEmitter struct {
	*Writer
}

// levelChars is indexed by Level.
const levelChars = "WID"

// pid goes in the header slot glog reserves for the thread id.
var pid = os.Getpid()

// caller names the source position depth+1 frames up, basename only.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???:0"
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	prefix := byte('?')
	if int(level) < len(levelChars) {
		prefix = levelChars[level]
	}

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	micros := timestamp.Nanosecond() / 1000

	// depth 0 is this frame.
	pos := caller(depth + 1)
	message := fmt.Sprintf(format, args...)

	fmt.Fprintf(g.Writer, "%c%02d%02d %02d:%02d:%02d.%06d % 7d %s] %s\n",
		prefix, int(month), day, hour, minute, second, micros, pid, pos, message)
}
