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
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	// All defaults doesn't require setting flags.
	flags := c.ToFlags()
	if len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, value := range map[string]string{
		"images-dir":              "/var/lib/cryo/img",
		"debug":                   "true",
		"shell-job":               "true",
		"checkpoint-hook-timeout": "30s",
	} {
		if err := testFlags.Lookup(name).Value.Set(value); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := "/var/lib/cryo/img"; c.ImagesDir != want {
		t.Errorf("ImagesDir=%v, want: %v", c.ImagesDir, want)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := true; c.ShellJob != want {
		t.Errorf("ShellJob=%v, want: %v", c.ShellJob, want)
	}
	if want := 30 * time.Second; c.HookTimeout != want {
		t.Errorf("HookTimeout=%v, want: %v", c.HookTimeout, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	testFlags.Set("images-dir", "/var/lib/cryo/img")
	testFlags.Set("debug", "true")
	testFlags.Set("tcp-established", "true")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	flags := c.ToFlags()
	if len(flags) != 3 {
		t.Errorf("wrong number of flags set, want: 3, got: %d: %s", len(flags), flags)
	}
	fm := map[string]string{}
	for _, f := range flags {
		kv := strings.SplitN(f, "=", 2)
		fm[kv[0]] = kv[1]
	}
	for name, want := range map[string]string{
		"--images-dir":      "/var/lib/cryo/img",
		"--debug":           "true",
		"--tcp-established": "true",
	} {
		if got, ok := fm[name]; ok {
			if got != want {
				t.Errorf("flag %q, want: %q, got: %q", name, want, got)
			}
		} else {
			t.Errorf("flag %q not set", name)
		}
	}
}

func TestInvalidLogFormat(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	testFlags.Set("log-format", "yaml")
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags with a bogus log format succeeded")
	}
}

func TestCriuOptions(t *testing.T) {
	c := &Config{
		ImagesDir:   "/img",
		WorkDir:     "/work",
		CriuPath:    "/opt/criu",
		ShellJob:    true,
		HookArgv:    "/bin/flush --fast",
		HookTimeout: time.Minute,
	}
	opts := c.CriuOptions()
	if opts.ImagesDir != "/img" || opts.WorkDir != "/work" || opts.CriuPath != "/opt/criu" {
		t.Errorf("paths not carried over: %+v", opts)
	}
	if !opts.ShellJob || opts.TCPEstablished {
		t.Errorf("criu toggles not carried over: %+v", opts)
	}
	if len(opts.Hook.Argv) != 2 || opts.Hook.Argv[0] != "/bin/flush" {
		t.Errorf("hook argv = %v, want split binary and argument", opts.Hook.Argv)
	}
	if opts.Hook.Timeout != time.Minute {
		t.Errorf("hook timeout = %v, want 1m", opts.Hook.Timeout)
	}
}
