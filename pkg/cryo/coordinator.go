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
	"context"
	"fmt"
	"slices"
	"time"

	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/snapshot"
	"cryo.dev/cryo/pkg/sync"
)

// Coordinator owns the per-process table of registered Resources and runs
// checkpoint/restore passes over them. Application threads keep running
// while a pass is under way; only the resources themselves are quiesced.
//
// The zero Coordinator is not usable; call NewCoordinator.
type Coordinator struct {
	mu sync.Mutex

	// classes maps each priority to its registrations, insertion order
	// preserved. Guarded by mu.
	classes map[Priority][]*Registration

	// passActive is true from the start of BeforeCheckpoint until
	// AfterRestore completes. Guarded by mu.
	passActive bool

	// deferred holds registrations made while a pass was active. They join
	// classes when the pass closes. Guarded by mu.
	deferred []*Registration

	// participants is the ordered snapshot of the pass in progress. Guarded
	// by mu.
	participants []*Registration

	// gen is the checkpoint generation. Guarded by mu.
	gen Generation

	// Don't use sync.Map or WaitGroup for waiters because they need to be
	// registered, unregistered and signaled independently. Guarded by mu.
	waiters map[*checkpointWaiter]struct{}

	// stats accumulates across passes. Guarded by mu.
	stats Stats
}

// Stats describes a Coordinator's activity so far.
type Stats struct {
	// Resources is the number of currently registered resources, deferred
	// registrations included.
	Resources int

	// CheckpointFailures counts BeforeCheckpoint walks that collected at
	// least one hook failure.
	CheckpointFailures uint64

	// RestoreFailures counts AfterRestore walks that collected at least one
	// hook failure.
	RestoreFailures uint64

	// LastPassDuration is the wall time of the most recent full pass.
	LastPassDuration time.Duration
}

// NewCoordinator returns an empty Coordinator. Build one per process at
// startup and thread it through explicitly.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		classes: make(map[Priority][]*Registration),
		waiters: make(map[*checkpointWaiter]struct{}),
	}
}

// Registration represents one resource's membership in a Coordinator. It is
// returned by Register and revoked with Unregister.
type Registration struct {
	coord    *Coordinator
	resource Resource
	priority Priority

	// removed marks the registration revoked. A removed entry is skipped by
	// any walk that has not reached it yet. Guarded by coord.mu.
	removed bool

	// ranBefore is true once BeforeCheckpoint has been invoked in the
	// current pass. Only such entries are visited by AfterRestore. Guarded
	// by coord.mu.
	ranBefore bool
}

// Priority returns the class the resource was registered at.
func (r *Registration) Priority() Priority {
	return r.priority
}

// Unregister revokes the registration. While a pass is running the entry is
// skipped by the remaining walks and dropped when the pass closes; otherwise
// it is dropped immediately. Unregister is idempotent.
func (r *Registration) Unregister() {
	c := r.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.removed {
		return
	}
	r.removed = true
	if !c.passActive {
		c.pruneLocked(r.priority)
	}
}

// Register adds r at priority p. A registration made while a pass is running
// takes effect when the pass closes; the new resource does not participate
// in the pass already under way. Registering from inside a hook callback is
// disallowed; it will not deadlock, but its participation semantics are
// undefined.
func (c *Coordinator) Register(r Resource, p Priority) *Registration {
	reg := &Registration{coord: c, resource: r, priority: p}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.passActive {
		c.deferred = append(c.deferred, reg)
	} else {
		c.classes[p] = append(c.classes[p], reg)
	}
	return reg
}

// BeforeCheckpoint runs every registered resource's BeforeCheckpoint hook,
// walking priority classes in ascending order and resources within a class
// in registration order. Hook failures never abort the walk: every resource
// gets its chance to quiesce, and all failures come back together as a
// *CheckpointError.
//
// BeforeCheckpoint opens a pass. Callers must pair it with AfterRestore even
// when BeforeCheckpoint fails, so that resources quiesced before the failure
// are brought back; CheckpointRestore does exactly that.
func (c *Coordinator) BeforeCheckpoint(ctx context.Context) error {
	c.mu.Lock()
	if c.passActive {
		c.mu.Unlock()
		return fmt.Errorf("checkpoint pass already in progress")
	}
	c.passActive = true
	participants := c.walkOrderLocked()
	c.participants = participants
	for _, reg := range participants {
		reg.ranBefore = false
	}
	c.mu.Unlock()

	log.Infof("Quiescing %d resources before checkpoint", len(participants))
	var errs []*ResourceError
	for _, reg := range participants {
		c.mu.Lock()
		if reg.removed {
			c.mu.Unlock()
			continue
		}
		reg.ranBefore = true
		c.mu.Unlock()

		if err := reg.resource.BeforeCheckpoint(ctx); err != nil {
			log.Warningf("Resource %s refused to quiesce: %v", describe(reg.resource), err)
			errs = append(errs, &ResourceError{
				Priority: reg.priority,
				Desc:     describe(reg.resource),
				Err:      err,
			})
		}
	}
	if len(errs) > 0 {
		c.mu.Lock()
		c.stats.CheckpointFailures++
		c.mu.Unlock()
		return &CheckpointError{Errors: errs}
	}
	return nil
}

// AfterRestore runs the AfterRestore hook of every resource whose
// BeforeCheckpoint was invoked in the current pass, in the same ascending
// priority order. It is unconditionally best-effort: per-resource failures
// are collected and returned together as a *RestoreError once every
// participant has been visited. Completing AfterRestore closes the pass and
// applies deferred registrations.
func (c *Coordinator) AfterRestore(ctx context.Context) error {
	c.mu.Lock()
	participants := c.participants
	c.mu.Unlock()

	var errs []*ResourceError
	for _, reg := range participants {
		c.mu.Lock()
		skip := reg.removed || !reg.ranBefore
		c.mu.Unlock()
		if skip {
			continue
		}

		if err := reg.resource.AfterRestore(ctx); err != nil {
			log.Warningf("Resource %s failed to restore: %v", describe(reg.resource), err)
			errs = append(errs, &ResourceError{
				Priority: reg.priority,
				Desc:     describe(reg.resource),
				Err:      err,
			})
		}
	}

	c.mu.Lock()
	c.participants = nil
	c.closePassLocked()
	if len(errs) > 0 {
		c.stats.RestoreFailures++
	}
	c.mu.Unlock()

	if len(errs) > 0 {
		return &RestoreError{Errors: errs}
	}
	return nil
}

// CheckpointRestore runs one full pass: BeforeCheckpoint, the snapshot
// mechanism, AfterRestore. The restore phase runs unconditionally once the
// pass has started; there is no way to abandon a pass with descriptors still
// closed. The caller gets back either nil or the error of the phase that
// failed first, with the process fully live again either way. The checkpoint
// generation is bumped and waiters are notified regardless of outcome.
func (c *Coordinator) CheckpointRestore(ctx context.Context, m snapshot.Mechanism) error {
	start := time.Now()
	passErr := c.BeforeCheckpoint(ctx)

	restored := false
	if passErr == nil {
		var err error
		restored, err = m.Snapshot(ctx)
		if err != nil {
			log.Warningf("Snapshot mechanism failed: %v", err)
			passErr = err
		}
	}

	if err := c.AfterRestore(ctx); err != nil {
		if passErr == nil {
			passErr = err
		} else {
			// The pass already failed; the rollback outcome is secondary.
			log.Warningf("Rollback restore reported: %v", err)
		}
	}

	c.completeAttempt(restored, time.Since(start), passErr)
	return passErr
}

// Stats returns a snapshot of the Coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Resources = c.countLocked()
	return s
}

func (c *Coordinator) countLocked() int {
	n := 0
	for _, regs := range c.classes {
		for _, reg := range regs {
			if !reg.removed {
				n++
			}
		}
	}
	for _, reg := range c.deferred {
		if !reg.removed {
			n++
		}
	}
	return n
}

// walkOrderLocked returns every class's registrations in ascending priority
// order, insertion order within a class.
func (c *Coordinator) walkOrderLocked() []*Registration {
	prios := make([]Priority, 0, len(c.classes))
	for p := range c.classes {
		prios = append(prios, p)
	}
	slices.Sort(prios)
	var regs []*Registration
	for _, p := range prios {
		regs = append(regs, c.classes[p]...)
	}
	return regs
}

// closePassLocked prunes removed registrations, applies deferred ones and
// reopens the Coordinator for direct registration.
func (c *Coordinator) closePassLocked() {
	for p := range c.classes {
		c.pruneLocked(p)
	}
	for _, reg := range c.deferred {
		if reg.removed {
			continue
		}
		c.classes[reg.priority] = append(c.classes[reg.priority], reg)
	}
	c.deferred = nil
	c.passActive = false
}

// pruneLocked drops removed entries from class p.
func (c *Coordinator) pruneLocked(p Priority) {
	kept := c.classes[p][:0]
	for _, reg := range c.classes[p] {
		if !reg.removed {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(c.classes, p)
		return
	}
	c.classes[p] = kept
}
