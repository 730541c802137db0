// Copyright 2024 The Cryo Authors
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

package config

import (
	"flag"
	"fmt"
	"reflect"
)

// RegisterFlags registers the flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Flags shared by every command.
	flagSet.String("images-dir", "", "directory holding the checkpoint image.")
	flagSet.String("work-dir", "", "directory for criu logs and scratch files. Empty means the image directory.")
	flagSet.String("criu", "", "path to the criu binary. Empty means looking it up on PATH.")
	flagSet.String("policy", "", "path to the descriptor policy rule file.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stdout.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Flags that control how criu treats the imaged process.
	flagSet.Bool("tcp-established", false, "checkpoint/restore established TCP connections.")
	flagSet.Bool("shell-job", false, "allow dumping and restoring a process attached to a terminal session.")
	flagSet.Bool("file-locks", false, "handle held file locks.")
	flagSet.String("checkpoint-hook", "", "binary executed around checkpoint/restore, with its arguments split by spaces. It learns which side it runs on from CRYO_CHECKPOINT_MODE.")
	flagSet.Duration("checkpoint-hook-timeout", 0, "timeout for each checkpoint hook invocation. Zero means the built-in default.")
}

// forEachFlagField calls fn for every Config field carrying a `flag` tag.
// A tag naming an unregistered flag is a programming error.
func forEachFlagField(flagSet *flag.FlagSet, obj reflect.Value, fn func(fl *flag.Flag, field reflect.Value)) {
	for _, sf := range reflect.VisibleFields(obj.Type()) {
		name, ok := sf.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("field %s is tagged with unregistered flag %q", sf.Name, name))
		}
		fn(fl, obj.FieldByIndex(sf.Index))
	}
}

// NewFromFlags creates a new Config with values coming from command line
// flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	forEachFlagField(flagSet, reflect.ValueOf(conf).Elem(), func(fl *flag.Flag, field reflect.Value) {
		field.Set(reflect.ValueOf(get(fl.Value)))
	})
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns the command line form of c, omitting flags still at their
// default.
func (c *Config) ToFlags() []string {
	// A throwaway set supplies the registered defaults.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	var args []string
	forEachFlagField(flagSet, reflect.ValueOf(c).Elem(), func(fl *flag.Flag, field reflect.Value) {
		if val := fmt.Sprintf("%v", field.Interface()); val != fl.DefValue {
			args = append(args, fmt.Sprintf("--%s=%s", fl.Name, val))
		}
	})
	return args
}

// get unwraps a flag value. Every value produced by RegisterFlags
// implements flag.Getter.
func get(v flag.Value) any {
	return v.(flag.Getter).Get()
}
