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

// Package cli is the main entrypoint for cryoctl.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"cryo.dev/cryo/cryoctl/cmd"
	"cryo.dev/cryo/cryoctl/cmd/util"
	"cryo.dev/cryo/cryoctl/config"
	"cryo.dev/cryo/cryoctl/version"
	"cryo.dev/cryo/pkg/log"
	"github.com/google/subcommands"
)

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	forEachCmd(subcommands.Register)
	config.RegisterFlags(flag.CommandLine)
	if flag.Lookup(versionFlagName) == nil {
		flag.Bool(versionFlagName, false, "show version and exit.")
	}

	// Flag parsing must come after every command is registered.
	flag.Parse()

	if flag.Lookup(versionFlagName).Value.(flag.Getter).Get().(bool) {
		fmt.Fprintf(os.Stdout, "cryoctl version %s\n", version.Version())
		os.Exit(0)
	}

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}
	if conf.Debug {
		log.SetLevel(log.Debug)
	}
	setupLogging(conf)

	banner := `**************** cryoctl ****************`
	log.Infof(banner)
	log.Infof("Version %s on %s/%s (%s), %d CPUs, PID %d, UID %d",
		version.Version(), runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.NumCPU(), os.Getpid(), os.Getuid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(banner)

	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: 0")
		os.Exit(0)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(int(subcmdCode))
}

// setupLogging points the global logger at the destinations conf names.
func setupLogging(conf *config.Config) {
	var emitters log.MultiEmitter
	if conf.LogFilename != "" {
		f := openLog(conf.LogFilename)
		// Fatalf failures from here on land in the log file too.
		util.ErrorLogger = f
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if conf.DebugLog != "" {
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, openLog(conf.DebugLog)))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 0:
		// Stdout and stderr carry command output; with no destination
		// configured the logs go nowhere.
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		// A single destination skips the fan-out loop.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}
}

// openLog opens path for appending. Invocations share log files, so an
// existing file is never truncated.
func openLog(path string) *os.File {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		util.Fatalf("error opening log file %q: %v", path, err)
	}
	return f
}

// forEachCmd invokes the passed callback for each command supported by
// cryoctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	// User-facing commands.
	cb(new(cmd.Check), "")
	cb(new(cmd.Inspect), "")
	cb(new(cmd.Restore), "")
	cb(new(cmd.Validate), "")
	cb(new(cmd.Version), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
	panic("unreachable")
}
