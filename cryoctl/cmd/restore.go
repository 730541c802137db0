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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"cryo.dev/cryo/cryoctl/cmd/util"
	"cryo.dev/cryo/cryoctl/config"
	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/snapshot/criu"
	"github.com/google/subcommands"
)

// Restore implements subcommands.Command for the "restore" command.
type Restore struct {
	// pidFile is the filename that the restored process's pid is written to.
	pidFile string

	// waitReady is how long to wait for the restored process to come up
	// before declaring the restore failed. Zero disables the wait.
	waitReady time.Duration
}

// Name implements subcommands.Command.Name.
func (*Restore) Name() string {
	return "restore"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Restore) Synopsis() string {
	return "restore a process from a checkpoint image"
}

// Usage implements subcommands.Command.Usage.
func (*Restore) Usage() string {
	return `restore [flags] - restore a process from a checkpoint image
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Restore) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.pidFile, "pid-file", "", "filename that the restored process pid will be written to")
	f.DurationVar(&r.waitReady, "wait-ready", 10*time.Second, "how long to wait for the restored process to come up, 0 to disable")
}

// Execute implements subcommands.Command.Execute.
func (r *Restore) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	if conf.ImagesDir == "" {
		return util.Errorf("images-dir flag must be provided")
	}

	pid, err := criu.Restore(conf.CriuOptions())
	if err != nil {
		return util.Errorf("restoring from %q: %v", conf.ImagesDir, err)
	}
	log.Infof("Restored process running, PID: %d", pid)

	if r.waitReady > 0 {
		if err := waitForRunning(pid, r.waitReady); err != nil {
			return util.Errorf("restored process %d did not come up: %v", pid, err)
		}
	}

	if r.pidFile != "" {
		if err := os.WriteFile(r.pidFile, []byte(strconv.Itoa(int(pid))), 0644); err != nil {
			return util.Errorf("writing pid file: %v", err)
		}
	}
	fmt.Println(pid)
	return subcommands.ExitSuccess
}
