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

// Package snapshot defines the interface to the external mechanism that
// captures a process image and later brings it back.
package snapshot

import (
	"context"
)

// Mechanism captures the process image. Snapshot blocks while the image is
// taken and returns in one of two worlds: in the original process right after
// the capture (restored == false), or in a process that has just been
// reconstructed from the image (restored == true). Callers cannot assume
// anything about descriptor state across the call beyond what they saved
// themselves.
type Mechanism interface {
	Snapshot(ctx context.Context) (restored bool, err error)
}

// MechanismFunc adapts a plain function to a Mechanism.
type MechanismFunc func(ctx context.Context) (bool, error)

// Snapshot implements Mechanism.Snapshot.
func (f MechanismFunc) Snapshot(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Nop returns a Mechanism that captures nothing and reports an in-place
// continuation. It exists for same-process round trips in tests and dry runs.
func Nop() Mechanism {
	return MechanismFunc(func(context.Context) (bool, error) {
		return false, nil
	})
}
