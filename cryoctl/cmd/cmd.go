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

// Package cmd holds implementations of the cryoctl commands.
package cmd

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// waitForRunning waits until the process is alive and signalable. It keeps
// probing until the timeout elapses.
func waitForRunning(pid int32, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Millisecond
	b.MaxInterval = 1 * time.Second
	b.MaxElapsedTime = timeout

	op := func() error {
		if err := unix.Kill(int(pid), 0); err != nil {
			return fmt.Errorf("process %d not running yet", pid)
		}
		return nil
	}
	return backoff.Retry(op, b)
}
