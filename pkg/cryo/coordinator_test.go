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
	"errors"
	"fmt"
	"testing"
	"time"

	"cryo.dev/cryo/pkg/snapshot"
	"github.com/google/go-cmp/cmp"
)

// recorder appends an event per hook invocation so tests can assert on the
// exact walk order.
type recorder struct {
	name      string
	events    *[]string
	beforeErr error
	afterErr  error
}

func (r *recorder) BeforeCheckpoint(context.Context) error {
	*r.events = append(*r.events, r.name+":before")
	return r.beforeErr
}

func (r *recorder) AfterRestore(context.Context) error {
	*r.events = append(*r.events, r.name+":after")
	return r.afterErr
}

func (r *recorder) String() string {
	return r.name
}

func TestWalkOrder(t *testing.T) {
	var events []string
	c := NewCoordinator()
	c.Register(&recorder{name: "n1", events: &events}, PriorityNormal)
	c.Register(&recorder{name: "fd1", events: &events}, PriorityFileDescriptors)
	c.Register(&recorder{name: "notify", events: &events}, PriorityNotifiers)
	c.Register(&recorder{name: "n2", events: &events}, PriorityNormal)
	c.Register(&recorder{name: "fd2", events: &events}, PriorityFileDescriptors)

	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}

	// Ascending priority both directions, registration order within a class.
	want := []string{
		"fd1:before", "fd2:before", "n1:before", "n2:before", "notify:before",
		"fd1:after", "fd2:after", "n1:after", "n2:after", "notify:after",
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("walk order mismatch (-want +got):\n%s", diff)
	}
}

func TestBeforeFailureRunsSiblingsAndRollback(t *testing.T) {
	var events []string
	c := NewCoordinator()
	c.Register(&recorder{name: "y", events: &events}, PriorityFileDescriptors)
	c.Register(&recorder{name: "x", events: &events, beforeErr: errors.New("still open")}, PriorityNormal)
	c.Register(&recorder{name: "z", events: &events}, PriorityNormal)

	err := c.CheckpointRestore(context.Background(), snapshot.Nop())
	if err == nil {
		t.Fatalf("CheckpointRestore succeeded, want checkpoint error")
	}
	var cerr *CheckpointError
	if !errors.As(err, &cerr) {
		t.Fatalf("CheckpointRestore returned %T (%v), want *CheckpointError", err, err)
	}
	if len(cerr.Errors) != 1 || cerr.Errors[0].Desc != "x" {
		t.Errorf("aggregated errors = %+v, want single entry for x", cerr.Errors)
	}

	// x's failure must not stop z's quiesce, and the rollback must revive y
	// (and everything else that ran) before the error surfaces.
	want := []string{
		"y:before", "x:before", "z:before",
		"y:after", "x:after", "z:after",
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregatedCheckpointError(t *testing.T) {
	var events []string
	c := NewCoordinator()
	c.Register(&recorder{name: "a", events: &events, beforeErr: errors.New("a open")}, PriorityNormal)
	c.Register(&recorder{name: "b", events: &events, beforeErr: errors.New("b open")}, PriorityNormal)

	err := c.BeforeCheckpoint(context.Background())
	var cerr *CheckpointError
	if !errors.As(err, &cerr) {
		t.Fatalf("BeforeCheckpoint returned %T (%v), want *CheckpointError", err, err)
	}
	if len(cerr.Errors) != 2 {
		t.Fatalf("got %d aggregated errors, want 2: %v", len(cerr.Errors), cerr)
	}
	for i, desc := range []string{"a", "b"} {
		if cerr.Errors[i].Desc != desc {
			t.Errorf("error %d is for %q, want %q", i, cerr.Errors[i].Desc, desc)
		}
		if cerr.Errors[i].Priority != PriorityNormal {
			t.Errorf("error %d priority = %v, want %v", i, cerr.Errors[i].Priority, PriorityNormal)
		}
	}

	// Mandatory rollback.
	if err := c.AfterRestore(context.Background()); err != nil {
		t.Fatalf("AfterRestore failed: %v", err)
	}
}

func TestRestoreBestEffort(t *testing.T) {
	var events []string
	c := NewCoordinator()
	c.Register(&recorder{name: "a", events: &events, afterErr: errors.New("reopen failed")}, PriorityNormal)
	c.Register(&recorder{name: "b", events: &events}, PriorityNormal)

	err := c.CheckpointRestore(context.Background(), snapshot.Nop())
	var rerr *RestoreError
	if !errors.As(err, &rerr) {
		t.Fatalf("CheckpointRestore returned %T (%v), want *RestoreError", err, err)
	}
	if len(rerr.Errors) != 1 || rerr.Errors[0].Desc != "a" {
		t.Errorf("aggregated errors = %+v, want single entry for a", rerr.Errors)
	}

	// b's restore ran despite a's failure.
	want := []string{"a:before", "b:before", "a:after", "b:after"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterDuringPassIsDeferred(t *testing.T) {
	var events []string
	c := NewCoordinator()
	c.Register(&recorder{name: "a", events: &events}, PriorityNormal)

	late := &recorder{name: "late", events: &events}
	mech := snapshot.MechanismFunc(func(context.Context) (bool, error) {
		// Concurrent registration while the pass is frozen mid-flight.
		c.Register(late, PriorityFileDescriptors)
		return false, nil
	})
	if err := c.CheckpointRestore(context.Background(), mech); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}

	// late must not have participated.
	want := []string{"a:before", "a:after"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("first pass events mismatch (-want +got):\n%s", diff)
	}

	// It participates fully in the next pass, at its own priority.
	events = events[:0]
	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("second CheckpointRestore failed: %v", err)
	}
	want = []string{"late:before", "a:before", "late:after", "a:after"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("second pass events mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisterDuringPassSkipsRestore(t *testing.T) {
	var events []string
	c := NewCoordinator()
	gone := &recorder{name: "gone", events: &events}
	reg := c.Register(gone, PriorityNormal)
	c.Register(&recorder{name: "stays", events: &events}, PriorityNormal)

	mech := snapshot.MechanismFunc(func(context.Context) (bool, error) {
		reg.Unregister()
		return false, nil
	})
	if err := c.CheckpointRestore(context.Background(), mech); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}

	want := []string{"gone:before", "stays:before", "stays:after"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := c.Stats().Resources; got != 1 {
		t.Errorf("Resources = %d after unregister, want 1", got)
	}
}

func TestUnregisterOutsidePass(t *testing.T) {
	var events []string
	c := NewCoordinator()
	reg := c.Register(&recorder{name: "a", events: &events}, PriorityNormal)
	reg.Unregister()
	reg.Unregister() // idempotent

	if got := c.Stats().Resources; got != 0 {
		t.Fatalf("Resources = %d, want 0", got)
	}
	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("unregistered resource ran: %v", events)
	}
}

func TestNestedPassRejected(t *testing.T) {
	c := NewCoordinator()
	if err := c.BeforeCheckpoint(context.Background()); err != nil {
		t.Fatalf("BeforeCheckpoint failed: %v", err)
	}
	if err := c.BeforeCheckpoint(context.Background()); err == nil {
		t.Fatalf("nested BeforeCheckpoint succeeded, want error")
	}
	if err := c.AfterRestore(context.Background()); err != nil {
		t.Fatalf("AfterRestore failed: %v", err)
	}
	// Pass closed; a new one is allowed again.
	if err := c.BeforeCheckpoint(context.Background()); err != nil {
		t.Fatalf("BeforeCheckpoint after pass close failed: %v", err)
	}
	if err := c.AfterRestore(context.Background()); err != nil {
		t.Fatalf("AfterRestore failed: %v", err)
	}
}

func TestGeneration(t *testing.T) {
	var events []string
	c := NewCoordinator()
	if gen := c.Generation(); gen.Count != 0 {
		t.Fatalf("initial generation = %+v, want count 0", gen)
	}

	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}
	if gen := c.Generation(); gen.Count != 1 || gen.Restored {
		t.Errorf("generation after in-place pass = %+v, want {1 false}", gen)
	}

	restoredMech := snapshot.MechanismFunc(func(context.Context) (bool, error) {
		return true, nil
	})
	if err := c.CheckpointRestore(context.Background(), restoredMech); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}
	if gen := c.Generation(); gen.Count != 2 || !gen.Restored {
		t.Errorf("generation after restored pass = %+v, want {2 true}", gen)
	}

	// Failed attempts bump the generation too.
	c.Register(&recorder{name: "bad", events: &events, beforeErr: errors.New("open")}, PriorityNormal)
	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err == nil {
		t.Fatalf("CheckpointRestore succeeded, want error")
	}
	if gen := c.Generation(); gen.Count != 3 {
		t.Errorf("generation after failed pass = %+v, want count 3", gen)
	}
}

func TestWatchCheckpoint(t *testing.T) {
	c := NewCoordinator()
	got := make(chan error, 1)
	var gotGen Generation
	key := c.WatchCheckpoint(func(gen Generation, err error) {
		gotGen = gen
		got <- err
	})
	defer c.UnwatchCheckpoint(key)

	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}

	// Watchers fire synchronously as the pass completes.
	select {
	case err := <-got:
		if err != nil {
			t.Errorf("watcher got error %v, want nil", err)
		}
		if gotGen.Count != 1 || gotGen.Restored {
			t.Errorf("watcher got generation %+v, want {1 false}", gotGen)
		}
	default:
		t.Fatalf("watcher did not fire")
	}
}

func TestWaitForCheckpoint(t *testing.T) {
	c := NewCoordinator()
	wantErr := errors.New("mechanism exploded")
	mech := snapshot.MechanismFunc(func(context.Context) (bool, error) {
		return false, wantErr
	})

	result := make(chan error, 1)
	go func() {
		result <- c.WaitForCheckpoint()
	}()

	// WaitForCheckpoint registers for the generation after the one current
	// at registration time, so keep running passes until it reports.
	for {
		if err := c.CheckpointRestore(context.Background(), mech); !errors.Is(err, wantErr) {
			t.Fatalf("CheckpointRestore returned %v, want %v", err, wantErr)
		}
		select {
		case err := <-result:
			if !errors.Is(err, wantErr) {
				t.Errorf("WaitForCheckpoint returned %v, want %v", err, wantErr)
			}
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStats(t *testing.T) {
	var events []string
	c := NewCoordinator()
	c.Register(&recorder{name: "ok", events: &events}, PriorityNormal)
	bad := c.Register(&recorder{name: "bad", events: &events, beforeErr: errors.New("open")}, PriorityNormal)

	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err == nil {
		t.Fatalf("CheckpointRestore succeeded, want error")
	}
	bad.Unregister()
	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore failed: %v", err)
	}

	s := c.Stats()
	if s.Resources != 1 {
		t.Errorf("Stats.Resources = %d, want 1", s.Resources)
	}
	if s.CheckpointFailures != 1 {
		t.Errorf("Stats.CheckpointFailures = %d, want 1", s.CheckpointFailures)
	}
	if s.RestoreFailures != 0 {
		t.Errorf("Stats.RestoreFailures = %d, want 0", s.RestoreFailures)
	}
}

func TestResourceErrorFormatting(t *testing.T) {
	re := &ResourceError{Priority: PriorityNormal, Desc: "db-pool", Err: errors.New("conn busy")}
	if got, want := re.Error(), "resource db-pool (priority normal): conn busy"; got != want {
		t.Errorf("ResourceError.Error() = %q, want %q", got, want)
	}
	cerr := &CheckpointError{Errors: []*ResourceError{re}}
	if !errors.Is(cerr, re.Err) {
		t.Errorf("errors.Is does not reach the hook error through %v", cerr)
	}
}

func ExampleCoordinator() {
	c := NewCoordinator()
	reg := c.Register(&recorder{name: "cache", events: new([]string)}, PriorityNormal)
	defer reg.Unregister()

	if err := c.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		fmt.Println("pass failed:", err)
		return
	}
	fmt.Println("count:", c.Generation().Count)
	// Output: count: 1
}
