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

	"cryo.dev/cryo/pkg/sync"
)

// ClaimTable records, per pass, which owner has laid claim to each native
// descriptor. Entries are write-once per pass: they deduplicate "left open"
// reporting when several owners reference the same descriptor, and let a
// well-known consumer suppress the open-descriptor check for a descriptor
// it is responsible for.
type ClaimTable struct {
	mu     sync.Mutex
	claims map[int32]string
}

// Claim asserts that owner is solely responsible for fd in this pass. A
// conflicting claim by a different owner is a programming error: two
// subsystems believe they own the same descriptor, and neither result can
// be trusted. That panics immediately rather than surfacing later as a
// corrupted restore. Re-claiming with the same owner label is allowed.
func (ct *ClaimTable) Claim(fd int32, owner string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if prev, ok := ct.claims[fd]; ok && prev != owner {
		panic(fmt.Sprintf("fd %d claimed by both %q and %q in the same checkpoint pass", fd, prev, owner))
	}
	ct.set(fd, owner)
}

// ClaimWeak lays a claim on fd unless one already exists, and reports
// whether this call created it. The caller that gets true is the one that
// reports the descriptor; everyone else treats it as already handled.
func (ct *ClaimTable) ClaimWeak(fd int32, owner string) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if _, ok := ct.claims[fd]; ok {
		return false
	}
	ct.set(fd, owner)
	return true
}

// Claimant returns the owner holding fd, if any.
func (ct *ClaimTable) Claimant(fd int32) (string, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	owner, ok := ct.claims[fd]
	return owner, ok
}

// Reset discards every claim. It runs between passes.
func (ct *ClaimTable) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.claims = nil
}

func (ct *ClaimTable) set(fd int32, owner string) {
	if ct.claims == nil {
		ct.claims = make(map[int32]string)
	}
	ct.claims[fd] = owner
}
