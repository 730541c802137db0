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

package policy

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/sync"
	"github.com/fsnotify/fsnotify"
)

// Store holds the active Set and swaps it wholesale on reconfiguration.
// Rules are never mutated in place: a pass that started with one Set keeps
// resolving against it even if a reload lands mid-pass.
//
// Store implements Engine.
type Store struct {
	set atomic.Pointer[Set]
}

// NewStore returns a Store with set active. A nil set means the built-in
// defaults only.
func NewStore(set *Set) *Store {
	s := &Store{}
	if set == nil {
		set = &Set{}
	}
	s.set.Store(set)
	return s
}

// Get returns the active Set.
func (s *Store) Get() *Set {
	return s.set.Load()
}

// Swap installs set as the active Set.
func (s *Store) Swap(set *Set) {
	if set == nil {
		set = &Set{}
	}
	s.set.Store(set)
}

// CheckpointAction implements Engine.CheckpointAction.
func (s *Store) CheckpointAction(id Identity) CheckpointAction {
	return s.Get().CheckpointAction(id)
}

// RestoreAction implements Engine.RestoreAction.
func (s *Store) RestoreAction(id Identity) (RestoreAction, string) {
	return s.Get().RestoreAction(id)
}

// Watcher reloads a rule file whenever it changes and swaps the result into
// a Store. A file that fails to load keeps the previous Set active.
type Watcher struct {
	store *Store
	path  string
	fw    *fsnotify.Watcher
	wg    sync.WaitGroup

	// warn rate-limits reload noise; a tool rewriting a broken file fires
	// several events per save.
	warn log.Logger
}

// WatchFile loads path into store and starts watching it. The initial load
// failing is an error; later reload failures only log.
func WatchFile(store *Store, path string) (*Watcher, error) {
	set, err := Load(path)
	if err != nil {
		return nil, err
	}
	store.Swap(set)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory rather than the file: most editors and config
	// management tools replace the file, which would end the watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		store: store,
		path:  path,
		fw:    fw,
		warn:  log.BasicRateLimitedLogger(30 * time.Second),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			set, err := Load(w.path)
			if err != nil {
				w.warn.Warningf("Policy reload failed, keeping previous rules: %v", err)
				continue
			}
			w.store.Swap(set)
			log.Infof("Policy reloaded from %q: %d rules", w.path, set.Len())

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.warn.Warningf("Policy watcher: %v", err)
		}
	}
}

// Close stops watching. The Store keeps whatever Set was last active.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
