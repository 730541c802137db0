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

// Package fdres adapts host file descriptors to checkpoint/restore
// resources.
//
// A Tracker owns the process's table of tracked native descriptors. Each
// tracked descriptor is represented by one Shared record, however many
// logical owners reference it; every owner gets its own Descriptor, which
// is the cryo.Resource registered with the Coordinator. The policy engine
// decides, per descriptor, whether an open descriptor blocks the checkpoint,
// gets closed and reopened, or stays closed.
package fdres

import (
	"context"
	"errors"
	"fmt"

	"cryo.dev/cryo/pkg/cryo"
	"cryo.dev/cryo/pkg/cryo/policy"
	"cryo.dev/cryo/pkg/hostfd"
	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/sync"
	"golang.org/x/sys/unix"
)

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// TraceOrigin records the allocation stack of every tracked descriptor
	// and attaches it to "left open" policy errors. Expensive; meant for
	// debugging policy violations.
	TraceOrigin bool
}

// Tracker owns the per-process table of tracked descriptors.
type Tracker struct {
	coord  *cryo.Coordinator
	engine policy.Engine
	opts   TrackerOptions

	// claims is the per-pass claim table. It is reset as the restore walk
	// begins, before any descriptor restores.
	claims ClaimTable

	// mu guards table. Per-descriptor state is guarded by each Shared's own
	// lock so that unrelated descriptors never serialize on each other.
	mu    sync.Mutex
	table map[int32]*Shared
}

// NewTracker returns a Tracker wired to coord and engine. The Tracker
// registers its own bookkeeping resource at PriorityFileDescriptors, ahead
// of any descriptor it will track.
func NewTracker(coord *cryo.Coordinator, engine policy.Engine, opts TrackerOptions) *Tracker {
	t := &Tracker{
		coord:  coord,
		engine: engine,
		opts:   opts,
		table:  make(map[int32]*Shared),
	}
	coord.Register(passBookkeeping{t}, cryo.PriorityFileDescriptors)
	return t
}

// Track registers the native descriptor fd with the tracker and returns a
// Descriptor representing this caller's ownership of it. Tracking the same
// fd again attaches another owner to the same underlying record; the
// underlying quiesce and revive work happens once no matter how many owners
// attach. name labels this owner in diagnostics.
//
// closer, if non-nil, is invoked by CloseAll when another owner tears the
// shared descriptor down; it should close this owner's logical stream
// without touching the native descriptor.
func (t *Tracker) Track(fd int32, name string, closer func() error) (*Descriptor, error) {
	kind, err := hostfd.QueryKind(int(fd))
	if err != nil {
		return nil, fmt.Errorf("tracking fd %d: %w", fd, err)
	}

	t.mu.Lock()
	s := t.table[fd]
	if s != nil && s.defunct() {
		// The old record is for a descriptor the application already
		// closed; the number now names something new.
		s = nil
	}
	if s == nil {
		s = &Shared{tracker: t, fd: fd, kind: kind}
		if t.opts.TraceOrigin {
			s.origin = log.Stacks(false)
		}
		t.table[fd] = s
	}
	t.mu.Unlock()

	d := &Descriptor{shared: s, name: name, closer: closer}
	s.attach(d)
	d.reg = t.coord.Register(d, cryo.PriorityFileDescriptors)
	return d, nil
}

// TrackStdio tracks the three standard streams. A stream that is already
// closed is skipped rather than reported; short-lived helpers legitimately
// run without one.
func (t *Tracker) TrackStdio() ([]*Descriptor, error) {
	names := [...]string{"stdin", "stdout", "stderr"}
	var ds []*Descriptor
	for fd := int32(0); fd <= 2; fd++ {
		d, err := t.Track(fd, names[fd], nil)
		if err != nil {
			if errors.Is(err, unix.EBADF) {
				continue
			}
			return ds, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}

// Claim asserts, for the current pass, that owner is responsible for fd and
// that the policy's open-descriptor check must not fire for it. A
// conflicting claim panics. Claims are cleared when the pass's restore walk
// begins, so standing claimers must re-claim before every pass.
func (t *Tracker) Claim(fd int32, owner string) {
	t.claims.Claim(fd, owner)
}

// Engine returns the policy engine the tracker resolves against.
func (t *Tracker) Engine() policy.Engine {
	return t.engine
}

// Tracked returns the number of live tracked descriptors.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.table {
		if !s.defunct() {
			n++
		}
	}
	return n
}

// dropIfEmpty removes s from the table once it has no owners left, or once
// it is permanently closed. The number may be reused by the application for
// something new.
func (t *Tracker) drop(s *Shared) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.table[s.fd] == s {
		delete(t.table, s.fd)
	}
}

// passBookkeeping is the Tracker's own resource. Registered before any
// Descriptor, it runs first within the class in both walk directions: it
// logs the pass and clears the claim table as the restore walk begins,
// before any descriptor consults it again.
type passBookkeeping struct {
	t *Tracker
}

// BeforeCheckpoint implements cryo.Resource.BeforeCheckpoint.
func (p passBookkeeping) BeforeCheckpoint(context.Context) error {
	log.Debugf("Descriptor pass starting: %d tracked descriptors", p.t.Tracked())
	return nil
}

// AfterRestore implements cryo.Resource.AfterRestore.
func (p passBookkeeping) AfterRestore(context.Context) error {
	p.t.claims.Reset()
	return nil
}

// String implements fmt.Stringer.String.
func (p passBookkeeping) String() string {
	return "fd-tracker"
}
