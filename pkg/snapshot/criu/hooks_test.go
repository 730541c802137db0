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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHookSeesMode(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mode")
	h := Hook{Argv: []string{"/bin/sh", "-c", `printf %s "$CRYO_CHECKPOINT_MODE" > ` + out}}
	if err := h.Run(context.Background(), HookRestore); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "restore" {
		t.Errorf("hook saw mode %q, want restore", got)
	}
}

func TestHookExtraEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")
	h := Hook{
		Argv: []string{"/bin/sh", "-c", `printf %s "$CRYO_IMAGE_TAG" > ` + out},
		Env:  []string{"CRYO_IMAGE_TAG=v12"},
	}
	if err := h.Run(context.Background(), HookSave); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "v12" {
		t.Errorf("hook saw tag %q, want v12", got)
	}
}

func TestHookFailureCarriesOutput(t *testing.T) {
	h := Hook{Argv: []string{"/bin/sh", "-c", "echo device busy >&2; exit 3"}}
	err := h.Run(context.Background(), HookSave)
	if err == nil {
		t.Fatalf("Run of a failing hook succeeded")
	}
	if !strings.Contains(err.Error(), "device busy") {
		t.Errorf("hook error %q does not carry the binary's output", err)
	}
	if !strings.Contains(err.Error(), "save") {
		t.Errorf("hook error %q does not name the mode", err)
	}
}

func TestHookTimeout(t *testing.T) {
	h := Hook{
		Argv:    []string{"/bin/sh", "-c", "exec sleep 30"},
		Timeout: 50 * time.Millisecond,
	}
	start := time.Now()
	err := h.Run(context.Background(), HookResume)
	if err == nil {
		t.Fatalf("Run of a hanging hook succeeded")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("hook error = %q, want a timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v to fire", elapsed)
	}
}

func TestHookEmpty(t *testing.T) {
	var h Hook
	if err := h.Run(context.Background(), HookSave); err != nil {
		t.Errorf("empty hook = %v, want nil", err)
	}
}
