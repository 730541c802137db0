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
	"cryo.dev/cryo/pkg/cryo/policy"
	"cryo.dev/cryo/pkg/hostfd"
)

// Snapshot holds everything needed to bring one descriptor back. It is
// recorded immediately before the native close and exists exactly as long
// as the descriptor is closed for checkpoint and not yet reopened.
type Snapshot struct {
	// FD is the original descriptor number. Restore re-publishes it: the
	// application keeps using the number it always had.
	FD int32

	// Kind is the descriptor's classification at close time.
	Kind hostfd.Kind

	// Path is the object the descriptor referred to, or the kernel's
	// symbolic form for pathless objects.
	Path string

	// Flags are the file status flags from F_GETFL; reopen passes them
	// back to open(2).
	Flags int

	// Offset is the byte offset at close time. Zero for objects without
	// one.
	Offset int64
}

// Identity returns the policy-matching view of the snapshot.
func (s *Snapshot) Identity() policy.Identity {
	return policy.Identity{FD: s.FD, Kind: s.Kind, Description: s.Path}
}

// takeSnapshot records fd's restoration data. Every query here is load
// bearing: restoring from a wrong path, wrong flags or wrong offset would
// hand the application a corrupted stream, so any failure is fatal to this
// descriptor's checkpoint.
func takeSnapshot(fd int32, kind hostfd.Kind) (*Snapshot, error) {
	id := policy.Identity{FD: fd, Kind: kind}

	path, err := hostfd.QueryPath(int(fd))
	if err != nil {
		return nil, &SnapshotQueryError{Identity: id, What: "path", Err: err}
	}
	id.Description = path

	flags, err := hostfd.QueryFlags(int(fd))
	if err != nil {
		return nil, &SnapshotQueryError{Identity: id, What: "flags", Err: err}
	}

	snap := &Snapshot{
		FD:    fd,
		Kind:  kind,
		Path:  path,
		Flags: flags,
	}

	seekable, err := hostfd.Seekable(int(fd))
	if err != nil {
		return nil, &SnapshotQueryError{Identity: id, What: "offset", Err: err}
	}
	if seekable {
		offset, err := hostfd.QueryOffset(int(fd))
		if err != nil {
			return nil, &SnapshotQueryError{Identity: id, What: "offset", Err: err}
		}
		snap.Offset = offset
	}
	return snap, nil
}
