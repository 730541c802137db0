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

package criu

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"cryo.dev/cryo/pkg/log"
)

// HookMode tells the hook binary which side of the pass it runs on.
type HookMode string

const (
	// DefaultHookTimeout is the default timeout for the hook binary.
	DefaultHookTimeout = 10 * time.Minute

	// HookSave runs before the dump starts.
	HookSave HookMode = "save"
	// HookRestore runs after waking up from a restored image.
	HookRestore HookMode = "restore"
	// HookResume runs after a dump that left the process running.
	HookResume HookMode = "resume"

	hookModeEnvVar = "CRYO_CHECKPOINT_MODE"
)

// Hook is an external binary run around the dump. The same binary runs for
// every mode; it reads CRYO_CHECKPOINT_MODE to tell them apart. The zero
// Hook runs nothing.
type Hook struct {
	// Argv is the binary and its arguments. Empty means no hook.
	Argv []string

	// Env is extra environment for the binary, appended to the process
	// environment.
	Env []string

	// Timeout bounds each invocation. Zero means DefaultHookTimeout.
	Timeout time.Duration
}

// Run executes the hook in mode and waits for it. A non-zero exit or a
// timeout is an error; the binary's output travels with it.
func (h Hook) Run(ctx context.Context, mode HookMode) error {
	if len(h.Argv) == 0 {
		return nil
	}
	timeout := h.Timeout
	if timeout == 0 {
		timeout = DefaultHookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.Argv[0], h.Argv[1:]...)
	cmd.Env = append(cmd.Environ(), h.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", hookModeEnvVar, mode))
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("checkpoint hook %s timed out after %v", h.Argv[0], timeout)
		}
		return fmt.Errorf("checkpoint hook %s (mode %s): %w; output: %s", h.Argv[0], mode, err, out)
	}
	log.Debugf("Checkpoint hook %s (mode %s) output: %s", h.Argv[0], mode, out)
	return nil
}
