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

// Binary cryo-fdinfo prints the descriptor tables recorded in a checkpoint
// image. It reads the criu image files directly and needs no criu binary,
// so it is handy on machines that only mirror images.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/checkpoint-restore/go-criu/v7/crit"
	"github.com/sirupsen/logrus"
)

var (
	imagesDir  = flag.String("images-dir", "", "directory holding the checkpoint image")
	jsonOutput = flag.Bool("json", false, "emit the descriptor tables as JSON instead of a table")
	pid        = flag.Int("pid", 0, "only print descriptors of this pid")
)

func main() {
	flag.Parse()
	if *imagesDir == "" {
		logrus.Fatal("--images-dir must be provided")
	}

	fds, err := crit.New(nil, nil, *imagesDir, false, false).ExploreFds()
	if err != nil {
		logrus.WithError(err).Fatal("failed to read descriptor tables from image")
	}
	if *pid != 0 {
		var kept []*crit.Fd
		for _, fd := range fds {
			if int(fd.PId) == *pid {
				kept = append(kept, fd)
			}
		}
		if len(kept) == 0 {
			logrus.Warnf("no descriptor table for pid %d in %q", *pid, *imagesDir)
		}
		fds = kept
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fds); err != nil {
			logrus.WithError(err).Fatal("failed to encode descriptor tables")
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 10, 4, 4, ' ', 0)
	fmt.Fprintf(w, "PID\tFD\tTYPE\tPATH\n")
	for _, fd := range fds {
		for _, file := range fd.Files {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", fd.PId, file.Fd, file.Type, file.Path)
		}
	}
	w.Flush()
}
