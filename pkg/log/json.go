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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MarshalJSON implements json.Marshaler.MarshalJSON. Levels are encoded by
// their lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	if l > Debug {
		return nil, fmt.Errorf("level %d has no name", l)
	}
	return json.Marshal(strings.ToLower(l.String()))
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. Both the quoted
// name and the bare integer form are accepted.
func (l *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "warning":
			*l = Warning
		case "info":
			*l = Info
		case "debug":
			*l = Debug
		default:
			return fmt.Errorf("unknown level %q", name)
		}
		return nil
	}
	var raw uint32
	if err := json.Unmarshal(data, &raw); err != nil || raw > uint32(Debug) {
		return fmt.Errorf("malformed level %s", data)
	}
	*l = Level(raw)
	return nil
}

// emitJSON writes one marshaled record. Records are built from fixed struct
// types, so marshaling cannot fail on data.
func emitJSON(w *Writer, record any) {
	b, err := json.Marshal(record)
	if err != nil {
		panic(fmt.Sprintf("marshaling log record: %v", err))
	}
	w.Write(b)
}

// JSONEmitter writes records as one JSON object per line.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(_ int, level Level, timestamp time.Time, format string, v ...any) {
	emitJSON(e.Writer, struct {
		Msg   string    `json:"msg"`
		Level Level     `json:"level"`
		Time  time.Time `json:"time"`
	}{
		Msg:   fmt.Sprintf(format, v...),
		Level: level,
		Time:  timestamp,
	})
}
