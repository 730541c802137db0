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
	"strings"
	"text/tabwriter"

	"cryo.dev/cryo/cryoctl/cmd/util"
	"cryo.dev/cryo/cryoctl/config"
	"cryo.dev/cryo/pkg/snapshot/criu"
	"github.com/checkpoint-restore/go-criu/v7/crit"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	// fds prints the descriptor tables recorded in the image.
	fds bool
}

// imageReport is everything inspect gathered about one image directory.
type imageReport struct {
	dir  string
	meta *criu.Metadata
	fds  []*crit.Fd
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "print details about checkpoint images"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] [<image dir>...] - print details about checkpoint images

Without arguments the --images-dir directory is inspected.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.fds, "fds", true, "print the descriptor tables recorded in the image")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	dirs := f.Args()
	if len(dirs) == 0 {
		if conf.ImagesDir == "" {
			return util.Errorf("provide image directories or the images-dir flag")
		}
		dirs = []string{conf.ImagesDir}
	}

	reports := make([]imageReport, len(dirs))
	g, ctx := errgroup.WithContext(ctx)
	for n, d := range dirs {
		n, d := n, d
		g.Go(func() error {
			r, err := i.inspectOne(ctx, d)
			if err != nil {
				return fmt.Errorf("inspecting %q: %w", d, err)
			}
			reports[n] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return util.Errorf("%v", err)
	}

	for n, r := range reports {
		if n > 0 {
			fmt.Println()
		}
		i.print(r)
	}
	return subcommands.ExitSuccess
}

// inspectOne gathers one directory's report. The metadata file and the criu
// image files are independent, so they are read in parallel.
func (i *Inspect) inspectOne(ctx context.Context, path string) (imageReport, error) {
	dir, err := criu.OpenDir(path)
	if err != nil {
		return imageReport{}, err
	}

	r := imageReport{dir: path}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r.meta, err = dir.LoadMetadata()
		return err
	})
	if i.fds {
		g.Go(func() error {
			var err error
			r.fds, err = crit.New(nil, nil, dir.Path(), false, false).ExploreFds()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return imageReport{}, err
	}
	return r, nil
}

func (i *Inspect) print(r imageReport) {
	meta := r.meta
	state := "complete"
	if !meta.Complete {
		state = "INCOMPLETE"
	}
	fmt.Printf("dir:        %s\n", r.dir)
	fmt.Printf("image:      %s\n", meta.ID)
	fmt.Printf("pid:        %d\n", meta.PID)
	if len(meta.Argv) > 0 {
		fmt.Printf("argv:       %s\n", strings.Join(meta.Argv, " "))
	}
	fmt.Printf("hostname:   %s\n", meta.Hostname)
	fmt.Printf("generation: %d\n", meta.Generation)
	if meta.PolicyDigest != "" {
		fmt.Printf("policy:     %s\n", meta.PolicyDigest)
	}
	fmt.Printf("created:    %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05.999999999 MST"))
	fmt.Printf("state:      %s\n", state)

	if i.fds {
		w := tabwriter.NewWriter(os.Stdout, 10, 4, 4, ' ', 0)
		fmt.Fprintf(w, "\nPID\tFD\tTYPE\tPATH\n")
		for _, fd := range r.fds {
			for _, file := range fd.Files {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", fd.PId, file.Fd, file.Type, file.Path)
			}
		}
		w.Flush()
	}
}
