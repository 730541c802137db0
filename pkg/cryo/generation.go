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
	"time"

	"cryo.dev/cryo/pkg/log"
)

// Generation stores information about the last checkpoint attempt.
type Generation struct {
	// Count is incremented every time a pass completes, even if the
	// checkpoint failed.
	Count uint32

	// Restored indicates whether the current instance resumed in place
	// after the capture or was reconstructed from the image.
	Restored bool
}

// Generation returns the current checkpoint generation.
func (c *Coordinator) Generation() Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

type checkpointWaiter struct {
	// count is the generation this waiter is interested in.
	count uint32

	// callback runs when the generation reaches count. It is called with
	// the Coordinator's lock held and must not call back into it.
	callback func(Generation, error)
}

// WatchCheckpoint registers cb to run when the next pass completes,
// successfully or not. The returned key cancels the watch via
// UnwatchCheckpoint.
func (c *Coordinator) WatchCheckpoint(cb func(Generation, error)) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &checkpointWaiter{
		count:    c.gen.Count + 1,
		callback: cb,
	}
	c.waiters[w] = struct{}{}
	return w
}

// UnwatchCheckpoint cancels a WatchCheckpoint registration.
func (c *Coordinator) UnwatchCheckpoint(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := key.(*checkpointWaiter); ok {
		delete(c.waiters, w)
	}
}

// WaitForCheckpoint blocks until the next pass completes and returns its
// outcome.
func (c *Coordinator) WaitForCheckpoint() error {
	// Send the pass result to a channel and wait on it.
	ch := make(chan error, 1)
	callback := func(_ Generation, err error) { ch <- err }
	key := c.WatchCheckpoint(callback)
	defer c.UnwatchCheckpoint(key)
	return <-ch
}

// completeAttempt records the outcome of a pass and wakes waiters.
func (c *Coordinator) completeAttempt(restored bool, d time.Duration, err error) {
	if err == nil {
		if restored {
			log.Infof("Restore completed successfully.")
		} else {
			log.Infof("Checkpoint completed successfully.")
		}
	} else {
		log.Warningf("Checkpoint attempt failed with error: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen.Count++
	c.gen.Restored = restored
	c.stats.LastPassDuration = d

	for w := range c.waiters {
		if w.count <= c.gen.Count {
			w.callback(c.gen, err)
			delete(c.waiters, w)
		}
	}
}
