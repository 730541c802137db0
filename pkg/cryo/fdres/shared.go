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
	"context"
	"errors"
	"fmt"

	"cryo.dev/cryo/pkg/cleanup"
	"cryo.dev/cryo/pkg/cryo"
	"cryo.dev/cryo/pkg/cryo/policy"
	"cryo.dev/cryo/pkg/fd"
	"cryo.dev/cryo/pkg/hostfd"
	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/sync"
)

// Shared is the state of one native descriptor, shared by every logical
// owner attached to it.
//
// State machine: open -> closed for checkpoint (snap != nil) -> open again,
// or closed for good (closed == true). Each Shared has its own lock;
// unrelated descriptors never contend.
type Shared struct {
	tracker *Tracker

	// fd is the native descriptor number this record is about. The number
	// itself never changes: restore re-publishes the same number.
	fd int32

	// mu guards everything below.
	mu sync.Mutex

	// kind is refreshed on every pass while the descriptor is open.
	kind hostfd.Kind

	// snap is non-nil iff the descriptor was closed by a checkpoint action
	// and has not yet been reopened.
	snap *Snapshot

	// closed marks a descriptor that is gone for good: closed by the
	// application, kept closed by restore policy, or torn down by CloseAll.
	closed bool

	// owners in attach order. owners[0] is the distinguished first owner
	// for diagnostics.
	owners []*Descriptor

	// closedAll marks that CloseAll already ran; a second call is a no-op.
	closedAll bool

	// origin is the stack recorded at first track, when tracing is on.
	origin []byte
}

// FD returns the native descriptor number.
func (s *Shared) FD() int32 {
	return s.fd
}

// ClosedForCheckpoint returns the pending restoration snapshot, or nil if
// the descriptor is not currently closed for checkpoint.
func (s *Shared) ClosedForCheckpoint() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Shared) attach(d *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = append(s.owners, d)
}

// defunct reports whether this record no longer represents a live or
// restorable descriptor.
func (s *Shared) defunct() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && s.snap == nil
}

// identityLocked builds the matching identity for the current pass. The
// path is queried fresh: the object behind the number may have been renamed
// since the last pass.
func (s *Shared) identityLocked() policy.Identity {
	id := policy.Identity{FD: s.fd, Kind: s.kind}
	if path, err := hostfd.QueryPath(int(s.fd)); err == nil {
		id.Description = path
	} else if len(s.owners) > 0 {
		id.Description = s.owners[0].name
	}
	return id
}

// beforeCheckpoint quiesces the descriptor once per pass, no matter how
// many owners call it.
func (s *Shared) beforeCheckpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap != nil {
		// A sibling owner already quiesced this descriptor in this pass.
		return nil
	}
	if s.closed {
		return nil
	}

	// The application may have closed the descriptor itself since the last
	// pass; that is its right, and there is nothing left to account for.
	kind, err := hostfd.QueryKind(int(s.fd))
	if err != nil {
		log.Debugf("Descriptor %d was closed outside a checkpoint, dropping it", s.fd)
		s.closed = true
		return nil
	}
	s.kind = kind

	id := s.identityLocked()
	switch action := s.tracker.engine.CheckpointAction(id); action {
	case policy.ActionError:
		if !s.tracker.claims.ClaimWeak(s.fd, s.claimLabelLocked()) {
			// Already claimed, either by a well-known consumer before the
			// pass or by a sibling's earlier report. Nothing to add.
			return nil
		}
		return &OpenResourceError{Identity: id, Origin: s.origin}

	case policy.ActionWarnClose:
		log.Warningf("Descriptor %v is open at checkpoint; closing it", id)
		return s.closeForCheckpointLocked(id)

	case policy.ActionClose:
		return s.closeForCheckpointLocked(id)

	default:
		return fmt.Errorf("descriptor %v: impossible checkpoint action %v", id, action)
	}
}

func (s *Shared) claimLabelLocked() string {
	if len(s.owners) > 0 {
		return s.owners[0].name
	}
	return fmt.Sprintf("fd %d", s.fd)
}

// closeForCheckpointLocked records the restoration snapshot and closes the
// native descriptor. The descriptor's own teardown hooks do not run; from
// here until restore, the snapshot is what is authoritative.
func (s *Shared) closeForCheckpointLocked(id policy.Identity) error {
	snap, err := takeSnapshot(s.fd, s.kind)
	if err != nil {
		return err
	}
	if err := hostfd.Close(int(s.fd)); err != nil {
		return fmt.Errorf("closing descriptor %v for checkpoint: %w", id, err)
	}
	s.snap = snap
	log.Debugf("Descriptor %v closed for checkpoint (offset %d)", id, snap.Offset)
	return nil
}

// afterRestore brings the descriptor back according to the restore policy.
// Safe to call once per owner; only the first call after a close does work.
func (s *Shared) afterRestore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		// Never closed in this pass: open descriptor (claimed or error
		// case), or closed for good.
		return nil
	}
	snap := s.snap
	id := snap.Identity()
	action, substitute := s.tracker.engine.RestoreAction(id)

	// There is no meaningful "same socket" to come back to.
	if snap.Kind == hostfd.KindSocket && action != policy.RestoreKeepClosed {
		s.snap = nil
		s.closed = true
		return &SocketRestoreError{Identity: id, Action: action}
	}

	switch action {
	case policy.RestoreKeepClosed:
		s.snap = nil
		s.closed = true
		log.Debugf("Descriptor %v stays closed per policy", id)
		return nil

	case policy.RestoreReopen:
		return s.reopenLocked(snap.Path, snap, false)

	case policy.RestoreReopenAtEnd:
		return s.reopenLocked(snap.Path, snap, true)

	case policy.RestoreSubstitute:
		return s.reopenLocked(substitute, snap, false)

	case policy.RestoreSubstituteAtEnd:
		return s.reopenLocked(substitute, snap, true)

	case policy.RestoreReopenOrNull:
		err := s.reopenLocked(snap.Path, snap, false)
		if err == nil {
			return nil
		}
		log.Warningf("Reopening %q at fd %d failed (%v); substituting the null device", snap.Path, snap.FD, err)
		return s.openNullLocked(snap)

	default:
		return fmt.Errorf("descriptor %v: impossible restore action %v", id, action)
	}
}

// reopenLocked opens path with the snapshot's flags, re-publishes the
// original descriptor number and seeks to the recorded offset or to end of
// file. On success the snapshot is discarded and the descriptor is live
// again. A published descriptor whose position cannot be set is withdrawn:
// it stays closed for good rather than live at a wrong offset.
func (s *Shared) reopenLocked(path string, snap *Snapshot, atEnd bool) error {
	nf, err := fd.Open(path, snap.Flags, 0)
	if err != nil {
		return &ReopenError{FD: snap.FD, Path: path, Err: err}
	}
	if err := s.publishLocked(nf, snap); err != nil {
		return &ReopenError{FD: snap.FD, Path: path, Err: err}
	}
	cu := cleanup.Make(func() {
		hostfd.Close(int(snap.FD))
		s.snap = nil
		s.closed = true
	})
	defer cu.Clean()

	// Terminals and pipes have no offset to put back; everything else gets
	// the recorded position or the end of file.
	seekable, err := hostfd.Seekable(int(snap.FD))
	if err == nil && seekable {
		if atEnd {
			_, err = hostfd.SeekEnd(int(snap.FD))
		} else {
			err = hostfd.Seek(int(snap.FD), snap.Offset)
		}
		if err != nil {
			return &ReopenError{FD: snap.FD, Path: path, Err: fmt.Errorf("seeking: %w", err)}
		}
	}

	cu.Release()
	s.snap = nil
	s.closed = false
	log.Debugf("Descriptor %d reopened as %q", snap.FD, path)
	return nil
}

// openNullLocked opens the null device at the original descriptor number,
// preserving the access mode so reads and writes keep "working".
func (s *Shared) openNullLocked(snap *Snapshot) error {
	nullfd, err := hostfd.OpenNullDevice(snap.Flags)
	if err != nil {
		return &ReopenError{FD: snap.FD, Path: "/dev/null", Err: err}
	}
	if err := s.publishLocked(fd.New(nullfd), snap); err != nil {
		return &ReopenError{FD: snap.FD, Path: "/dev/null", Err: err}
	}
	s.snap = nil
	s.closed = false
	return nil
}

// publishLocked moves nf onto the original descriptor number, consuming nf.
func (s *Shared) publishLocked(nf *fd.FD, snap *Snapshot) error {
	if nf.FD() == int(snap.FD) {
		// The open landed on the number we wanted.
		nf.Release()
		return nil
	}
	defer nf.Close()
	if err := hostfd.DupAt(nf.FD(), int(snap.FD)); err != nil {
		return fmt.Errorf("publishing as fd %d: %w", snap.FD, err)
	}
	return nil
}

// CloseAll closes the shared descriptor on behalf of releaser: every other
// owner's closer runs first, their failures collected rather than
// short-circuiting, then the native descriptor is closed once. All owners
// are unregistered from the Coordinator. A second call is a pure no-op. The
// first failure is returned with the others attached.
func (s *Shared) CloseAll(releaser *Descriptor) error {
	s.mu.Lock()
	if s.closedAll {
		s.mu.Unlock()
		return nil
	}
	s.closedAll = true

	var errs []error
	for _, o := range s.owners {
		if o == releaser || o.closer == nil {
			continue
		}
		if err := o.closer(); err != nil {
			errs = append(errs, fmt.Errorf("closing owner %s of fd %d: %w", o.name, s.fd, err))
		}
	}

	// The releaser performs the real native close, unless a checkpoint
	// action or the application already did.
	if !s.closed && s.snap == nil {
		if err := hostfd.Close(int(s.fd)); err != nil {
			errs = append(errs, fmt.Errorf("closing fd %d: %w", s.fd, err))
		}
	}
	s.closed = true
	s.snap = nil
	owners := s.owners
	s.mu.Unlock()

	for _, o := range owners {
		o.reg.Unregister()
	}
	s.tracker.drop(s)
	return errors.Join(errs...)
}

// Descriptor is one logical owner's handle on a tracked descriptor. It is
// the resource registered with the Coordinator: all owners of the same
// native descriptor are registered, but the underlying work runs once per
// pass.
type Descriptor struct {
	shared *Shared
	name   string
	closer func() error
	reg    *cryo.Registration
}

// Shared returns the underlying shared record.
func (d *Descriptor) Shared() *Shared {
	return d.shared
}

// BeforeCheckpoint implements cryo.Resource.BeforeCheckpoint.
func (d *Descriptor) BeforeCheckpoint(context.Context) error {
	return d.shared.beforeCheckpoint()
}

// AfterRestore implements cryo.Resource.AfterRestore.
func (d *Descriptor) AfterRestore(context.Context) error {
	return d.shared.afterRestore()
}

// CloseAll tears down the shared descriptor with this owner as the
// releaser. See Shared.CloseAll.
func (d *Descriptor) CloseAll() error {
	return d.shared.CloseAll(d)
}

// Untrack detaches this owner without touching the native descriptor. The
// last owner leaving drops the shared record from the tracker.
func (d *Descriptor) Untrack() {
	d.reg.Unregister()
	s := d.shared
	s.mu.Lock()
	kept := s.owners[:0]
	for _, o := range s.owners {
		if o != d {
			kept = append(kept, o)
		}
	}
	s.owners = kept
	empty := len(kept) == 0
	s.mu.Unlock()
	if empty {
		s.tracker.drop(s)
	}
}

// String implements fmt.Stringer.String.
func (d *Descriptor) String() string {
	if d.name != "" {
		return fmt.Sprintf("fd %d (%s)", d.shared.fd, d.name)
	}
	return fmt.Sprintf("fd %d", d.shared.fd)
}
