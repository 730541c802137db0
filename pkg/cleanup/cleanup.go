// Copyright 2023 The Cryo Authors
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

// Package cleanup defers rollback work that a success path can cancel.
package cleanup

// Cleanup holds rollback functions that Clean runs in reverse order of
// registration. Usage:
//
//	cu := cleanup.Make(func() { f.Close() })
//	defer cu.Clean() // runs unless released
//	...
//	cu.Release() // on success
type Cleanup struct {
	cleaners []func()
}

// Make returns a Cleanup with f registered.
func Make(f func()) Cleanup {
	return Cleanup{cleaners: []func(){f}}
}

// Add registers another rollback function.
func (c *Cleanup) Add(f func()) {
	c.cleaners = append(c.cleaners, f)
}

// Clean runs the registered functions newest-first and empties the set, so
// a second Clean is a no-op.
func (c *Cleanup) Clean() {
	clean(c.cleaners)
	c.cleaners = nil
}

// Release empties the set without running anything. The returned function
// runs the released set, for callers that hand rollback off elsewhere.
func (c *Cleanup) Release() func() {
	old := c.cleaners
	c.cleaners = nil
	return func() { clean(old) }
}

func clean(cleaners []func()) {
	for i := len(cleaners) - 1; i >= 0; i-- {
		cleaners[i]()
	}
}
