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

// Package fd provides an owning wrapper around host file descriptors.
//
// Unlike os.File, an FD never enters the runtime poller, so the raw number
// stays valid for syscall-level work like dup3 republication.
package fd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var errClosedFD = errors.New("descriptor already closed")

// ReadWriter implements io.ReadWriter over a descriptor number it does not
// own.
type ReadWriter struct {
	// fd is swapped to -1 when an owning FD is closed or released.
	fd atomic.Int64
}

var _ io.ReadWriter = (*ReadWriter)(nil)

// NewReadWriter returns a ReadWriter over fd. Ownership stays with the
// caller.
func NewReadWriter(fd int) *ReadWriter {
	rw := &ReadWriter{}
	rw.fd.Store(int64(fd))
	return rw
}

// Read implements io.Reader.Read.
func (r *ReadWriter) Read(b []byte) (int, error) {
	n, err := unix.Read(r.FD(), b)
	if n < 0 {
		n = 0
	}
	if n == 0 && len(b) > 0 && err == nil {
		// A zero-byte read with no error is how the raw syscall spells
		// end of file.
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer.Write. Short writes are continued and EINTR is
// retried, so a nil error means all of b was written.
func (r *ReadWriter) Write(b []byte) (int, error) {
	off := 0
	for off < len(b) {
		n, err := unix.Write(r.FD(), b[off:])
		if n > 0 {
			off += n
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == nil {
			// No progress and no error leaves nothing to retry on.
			panic(fmt.Sprintf("write returned 0 of %d bytes with no error", len(b)-off))
		}
		return off, err
	}
	return off, nil
}

// FD returns the descriptor number. Ownership stays where it was.
func (r *ReadWriter) FD() int {
	return int(r.fd.Load())
}

// String implements fmt.Stringer.String.
func (r *ReadWriter) String() string {
	return fmt.Sprintf("fd %d", r.FD())
}

// FD owns a host file descriptor and closes it when garbage collected.
// Close or Release beforehand to control the close point.
//
// Calling Close or Release concurrently with any other method is undefined,
// as with os.File.
type FD struct {
	ReadWriter
}

// New takes ownership of fd. A negative fd yields an FD whose operations
// all fail.
func New(fd int) *FD {
	f := &FD{}
	f.fd.Store(int64(fd))
	if fd >= 0 {
		runtime.SetFinalizer(f, (*FD).Close)
	}
	return f
}

// Open is equivalent to open(2).
func Open(path string, openmode int, perm uint32) (*FD, error) {
	fd, err := unix.Open(path, openmode|unix.O_LARGEFILE, perm)
	if err != nil {
		return nil, err
	}
	return New(fd), nil
}

// Close closes the descriptor. Calls after the first return an error.
func (f *FD) Close() error {
	fd := f.fd.Swap(-1)
	if fd < 0 {
		return errClosedFD
	}
	runtime.SetFinalizer(f, nil)
	return unix.Close(int(fd))
}

// Release relinquishes ownership and returns the raw descriptor, -1 if the
// FD was already closed or released.
func (f *FD) Release() int {
	fd := f.fd.Swap(-1)
	if fd < 0 {
		return -1
	}
	runtime.SetFinalizer(f, nil)
	return int(fd)
}

// ReleaseToFile hands the descriptor over to an os.File named name.
func (f *FD) ReleaseToFile(name string) *os.File {
	return os.NewFile(uintptr(f.Release()), name)
}
