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

package cryo

import (
	"fmt"
	"strings"
)

// ResourceError describes the failure of a single resource's hook.
type ResourceError struct {
	// Priority is the class the resource was registered at.
	Priority Priority

	// Desc identifies the resource.
	Desc string

	// Err is the error the hook returned.
	Err error
}

// Error implements error.Error.
func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s (priority %s): %v", e.Desc, e.Priority, e.Err)
}

// Unwrap provides access to the hook error.
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// CheckpointError aggregates every hook failure from one BeforeCheckpoint
// pass. By the time the caller sees it, the rollback has already run: the
// process is live, not half-closed.
type CheckpointError struct {
	// Errors holds one entry per failed resource, in hook invocation order.
	Errors []*ResourceError
}

// Error implements error.Error.
func (e *CheckpointError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "checkpoint refused by %d of the registered resources:", len(e.Errors))
	for _, re := range e.Errors {
		fmt.Fprintf(&b, "\n\t%v", re)
	}
	return b.String()
}

// Unwrap provides access to the per-resource errors.
func (e *CheckpointError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, re := range e.Errors {
		errs[i] = re
	}
	return errs
}

// RestoreError aggregates every hook failure from one AfterRestore pass.
type RestoreError struct {
	// Errors holds one entry per failed resource, in hook invocation order.
	Errors []*ResourceError
}

// Error implements error.Error.
func (e *RestoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "restore failed for %d of the participating resources:", len(e.Errors))
	for _, re := range e.Errors {
		fmt.Fprintf(&b, "\n\t%v", re)
	}
	return b.String()
}

// Unwrap provides access to the per-resource errors.
func (e *RestoreError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, re := range e.Errors {
		errs[i] = re
	}
	return errs
}
