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
	"cryo.dev/cryo/pkg/cryo/policy"
	"github.com/google/subcommands"
)

// Validate implements subcommands.Command for the "validate" command.
type Validate struct{}

// Name implements subcommands.Command.Name.
func (*Validate) Name() string {
	return "validate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Validate) Synopsis() string {
	return "check that a descriptor policy file loads cleanly"
}

// Usage implements subcommands.Command.Usage.
func (*Validate) Usage() string {
	return `validate --policy=<file> - check that a descriptor policy file loads cleanly
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Validate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Validate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	if conf.PolicyFile == "" {
		return util.Errorf("policy flag must be provided")
	}
	set, err := policy.Load(conf.PolicyFile)
	if err != nil {
		return util.Errorf("%v", err)
	}
	fmt.Printf("%s: ok, %d rules\n", conf.PolicyFile, set.Len())
	return subcommands.ExitSuccess
}
