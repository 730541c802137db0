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

package sync

import (
	"sync/atomic"
)

// WaitGroupErr is a WaitGroup that carries the first error reported by any
// task in the group. Later errors are discarded.
type WaitGroupErr struct {
	WaitGroup

	err atomic.Pointer[error]
}

// Go runs f in a new goroutine counted by the group. A non-nil return
// becomes the group error if it is the first.
func (w *WaitGroupErr) Go(f func() error) {
	w.Add(1)
	go func() {
		defer w.Done()
		if err := f(); err != nil {
			w.ReportError(err)
		}
	}()
}

// ReportError records err as the group error unless one is already set. It
// does not Done the group.
func (w *WaitGroupErr) ReportError(err error) {
	w.err.CompareAndSwap(nil, &err)
}

// Error waits for the group and returns the first reported error, nil if
// every task finished clean.
func (w *WaitGroupErr) Error() error {
	w.Wait()
	if p := w.err.Load(); p != nil {
		return *p
	}
	return nil
}
