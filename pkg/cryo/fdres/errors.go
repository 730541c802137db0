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

package fdres

import (
	"fmt"

	"cryo.dev/cryo/pkg/cryo/policy"
)

// OpenResourceError is a policy refusal: a descriptor matched the error
// action while still open at checkpoint time.
type OpenResourceError struct {
	// Identity describes the offending descriptor.
	Identity policy.Identity

	// Origin is the stack recorded when the descriptor was first tracked,
	// when origin tracing is enabled.
	Origin []byte
}

// Error implements error.Error.
func (e *OpenResourceError) Error() string {
	if len(e.Origin) > 0 {
		return fmt.Sprintf("descriptor left open at checkpoint: %v\ntracked at:\n%s", e.Identity, e.Origin)
	}
	return fmt.Sprintf("descriptor left open at checkpoint: %v", e.Identity)
}

// SnapshotQueryError means a descriptor's restoration data could not be
// recorded before closing it.
type SnapshotQueryError struct {
	// Identity describes the descriptor.
	Identity policy.Identity

	// What names the query that failed: "path", "flags" or "offset".
	What string

	// Err is the underlying failure.
	Err error
}

// Error implements error.Error.
func (e *SnapshotQueryError) Error() string {
	return fmt.Sprintf("querying %s of descriptor %v: %v", e.What, e.Identity, e.Err)
}

// Unwrap provides access to the underlying failure.
func (e *SnapshotQueryError) Unwrap() error {
	return e.Err
}

// ReopenError means a closed descriptor could not be brought back.
type ReopenError struct {
	// FD is the descriptor number being re-published.
	FD int32

	// Path is the path that failed to open or seek.
	Path string

	// Err is the underlying failure.
	Err error
}

// Error implements error.Error.
func (e *ReopenError) Error() string {
	return fmt.Sprintf("reopening fd %d as %q: %v", e.FD, e.Path, e.Err)
}

// Unwrap provides access to the underlying failure.
func (e *ReopenError) Unwrap() error {
	return e.Err
}

// SocketRestoreError means the restore policy asked for a socket to come
// back. There is no same socket to come back to.
type SocketRestoreError struct {
	// Identity describes the socket.
	Identity policy.Identity

	// Action is the restore action the policy resolved to.
	Action policy.RestoreAction
}

// Error implements error.Error.
func (e *SocketRestoreError) Error() string {
	return fmt.Sprintf("cannot restore socket %v: action %v is only possible for reopenable descriptors", e.Identity, e.Action)
}
