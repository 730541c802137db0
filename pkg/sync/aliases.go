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

// Package sync provides synchronization primitives.
//
// All types in this package are aliases of their standard library
// counterparts. The package exists so that call sites name a single
// import and instrumented implementations can be swapped in without
// touching callers.
package sync

import (
	"sync"
)

// Aliases of standard library types.
type (
	// Mutex is an alias of standard sync.Mutex.
	Mutex = sync.Mutex

	// RWMutex is an alias of standard sync.RWMutex.
	RWMutex = sync.RWMutex

	// Cond is an alias of standard sync.Cond.
	Cond = sync.Cond

	// Locker is an alias of standard sync.Locker.
	Locker = sync.Locker

	// Once is an alias of standard sync.Once.
	Once = sync.Once

	// Pool is an alias of standard sync.Pool.
	Pool = sync.Pool

	// WaitGroup is an alias of standard sync.WaitGroup.
	WaitGroup = sync.WaitGroup

	// Map is an alias of standard sync.Map.
	Map = sync.Map
)

// NewCond is a wrapper around sync.NewCond.
func NewCond(l Locker) *Cond {
	return sync.NewCond(l)
}

// OnceFunc is a wrapper around sync.OnceFunc.
func OnceFunc(f func()) func() {
	return sync.OnceFunc(f)
}
