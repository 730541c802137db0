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

// Package hostfd queries and manipulates host file descriptor state.
//
// The functions here operate on raw descriptor numbers rather than os.File
// so that callers retain full control over descriptor lifetimes. Snapshots
// of descriptor state taken before a checkpoint must observe the descriptor
// exactly as the host kernel sees it, without the Go runtime's pollers or
// finalizers in the way.
package hostfd

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Kind classifies the host object behind a descriptor.
type Kind int

const (
	// KindUnknown is anything not otherwise classified.
	KindUnknown Kind = iota

	// KindFile is a path-backed object: regular files, directories, and
	// device nodes.
	KindFile

	// KindSocket is any socket, regardless of family.
	KindSocket

	// KindPipe is a pipe or FIFO endpoint.
	KindPipe
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSocket:
		return "socket"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// QueryKind classifies fd using fstat(2).
func QueryKind(fd int) (Kind, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return KindUnknown, err
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR, unix.S_IFCHR, unix.S_IFBLK:
		return KindFile, nil
	case unix.S_IFSOCK:
		return KindSocket, nil
	case unix.S_IFIFO:
		return KindPipe, nil
	default:
		return KindUnknown, nil
	}
}

// QueryPath returns the path fd refers to, as reported by /proc/self/fd.
// For objects with no path, e.g. sockets and pipes, the result is the
// kernel's symbolic form such as "socket:[1234]".
func QueryPath(fd int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
}

// QueryFlags returns fd's file status flags, as with fcntl(F_GETFL). The
// result includes the access mode and any status flags the descriptor was
// opened or later configured with.
func QueryFlags(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
}

// QueryOffset returns fd's current file offset.
func QueryOffset(fd int) (int64, error) {
	return unix.Seek(fd, 0, unix.SEEK_CUR)
}

// Seekable reports whether fd has a file offset worth recording. Regular
// files and block devices do; terminals, pipes and sockets either reject
// lseek or ignore it.
func Seekable(fd int) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false, err
	}
	t := st.Mode & unix.S_IFMT
	return t == unix.S_IFREG || t == unix.S_IFBLK, nil
}

// Open opens path with the given status flags. The returned descriptor does
// not have close-on-exec set.
func Open(path string, flags int, perm uint32) (int, error) {
	return unix.Open(path, flags, perm)
}

// OpenNullDevice opens /dev/null preserving only the access mode bits of
// flags.
func OpenNullDevice(flags int) (int, error) {
	return unix.Open(os.DevNull, flags&unix.O_ACCMODE, 0)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// Seek sets fd's absolute file offset.
func Seek(fd int, offset int64) error {
	_, err := unix.Seek(fd, offset, unix.SEEK_SET)
	return err
}

// SeekEnd moves fd's offset to end of file and returns the resulting offset.
func SeekEnd(fd int) (int64, error) {
	return unix.Seek(fd, 0, unix.SEEK_END)
}

// DupAt duplicates oldfd onto newfd, silently closing newfd if it was open.
// The close-on-exec flag is cleared on newfd. oldfd and newfd must differ;
// dup3(2) rejects equal descriptors.
func DupAt(oldfd, newfd int) error {
	return unix.Dup3(oldfd, newfd, 0)
}

// SetCloexec sets or clears the close-on-exec flag on fd.
func SetCloexec(fd int, set bool) error {
	arg := 0
	if set {
		arg = unix.FD_CLOEXEC
	}
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, arg)
	return err
}
