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

	"cryo.dev/cryo/cryoctl/cmd/util"
	"cryo.dev/cryo/cryoctl/config"
	"cryo.dev/cryo/pkg/snapshot/criu"
	"github.com/google/subcommands"
)

// Check implements subcommands.Command for the "check" command.
type Check struct{}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "check that criu is installed and new enough"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check - check that criu is installed and new enough
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Check) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Check) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	if err := criu.Available(); err != nil {
		return util.Errorf("criu check failed: %v", err)
	}
	ver, err := criu.Version(conf.CriuPath)
	if err != nil {
		return util.Errorf("querying criu version: %v", err)
	}
	fmt.Printf("criu %d.%d.%d: ok\n", ver/10000, ver/100%100, ver%100)
	return subcommands.ExitSuccess
}
