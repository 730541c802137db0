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

// Package cryo coordinates quiescing and reviving the OS-level resources of
// a process around an external checkpoint.
//
// Applications register Resources with a Coordinator. A checkpoint pass walks
// them in priority order before the process image is captured, and again
// after execution resumes, whether that happens in the original process or in
// one reconstructed from the image. The Coordinator is an explicit value
// built once at process start and threaded through; there is no package-level
// registry.
package cryo

import (
	"context"
	"fmt"
)

// Resource is implemented by anything that must react to a checkpoint of the
// process and to the subsequent restore.
//
// Hooks must tolerate being called when there is nothing to do. A failed
// checkpoint pass still runs AfterRestore on every resource whose
// BeforeCheckpoint was invoked, including the one that failed.
type Resource interface {
	// BeforeCheckpoint quiesces the resource so that the process image can
	// be captured without it: flush, disconnect, close descriptors. The
	// returned error marks the resource as refusing to quiesce; it does not
	// stop other resources from running.
	BeforeCheckpoint(ctx context.Context) error

	// AfterRestore brings the resource back to a usable state after the
	// process image has been captured, in the original process or in a
	// restored one.
	AfterRestore(ctx context.Context) error
}

// Priority orders resource hooks within a pass. Lower values run first, both
// for BeforeCheckpoint and for AfterRestore. Restore deliberately walks the
// same ascending order as checkpoint: a resource may depend on lower-priority
// resources having been revived before its own AfterRestore runs.
type Priority int

const (
	// PriorityFileDescriptors is for descriptor adapters. They run first so
	// that descriptors are live again before anything else restores.
	PriorityFileDescriptors Priority = iota

	// PriorityNormal is the default class for application resources.
	PriorityNormal

	// PriorityNotifiers is for observers that must see a fully-quiesced
	// process before the freeze and a fully-restored one after the thaw.
	PriorityNotifiers
)

// String implements fmt.Stringer.String.
func (p Priority) String() string {
	switch p {
	case PriorityFileDescriptors:
		return "file-descriptors"
	case PriorityNormal:
		return "normal"
	case PriorityNotifiers:
		return "notifiers"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// describe names a resource for diagnostics.
func describe(r Resource) string {
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", r)
}
