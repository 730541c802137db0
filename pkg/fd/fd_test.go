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

package fd

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSetNegOne(t *testing.T) {
	f := New(-1)

	if _, err := f.Write([]byte("a")); err == nil {
		t.Errorf("Write to -1 fd succeeded, want error")
	}
	if err := f.Close(); err == nil {
		t.Errorf("Close on -1 fd succeeded, want error")
	}
}

func TestOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := Open(path, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	buf := make([]byte, 7)
	if n, err := f.Read(buf); err != nil || string(buf[:n]) != "payload" {
		t.Fatalf("Read: got %q, %v, want \"payload\", nil", buf[:n], err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := f.Close(); err == nil {
		t.Errorf("second Close succeeded, want error")
	}
	if got := f.FD(); got != -1 {
		t.Errorf("FD() after Close: got %d, want -1", got)
	}
}

func TestRelease(t *testing.T) {
	f, err := Open(os.DevNull, unix.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("Open(%q): %v", os.DevNull, err)
	}

	raw := f.Release()
	if raw < 0 {
		t.Fatalf("Release returned %d, want a valid fd", raw)
	}
	// The FD gave up ownership; the raw number must still be open.
	if _, err := unix.Write(raw, []byte("x")); err != nil {
		t.Errorf("writing to released fd %d: %v", raw, err)
	}
	if err := unix.Close(raw); err != nil {
		t.Errorf("closing released fd %d: %v", raw, err)
	}
	if err := f.Close(); err == nil {
		t.Errorf("Close after Release succeeded, want error")
	}
}

func TestReleaseToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	f, err := Open(path, unix.O_WRONLY|unix.O_CREAT, 0644)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}

	of := f.ReleaseToFile("released file")
	defer of.Close()
	if _, err := of.WriteString("handed over"); err != nil {
		t.Fatalf("writing through the os.File: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "handed over" {
		t.Errorf("file content: got %q, want %q", data, "handed over")
	}
}

func TestPipeReadWriter(t *testing.T) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	r, w := New(p[0]), New(p[1])
	defer r.Close()

	if _, err := w.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(writer): %v", err)
	}

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("Read: got %q, %v, want \"ping\", nil", buf[:n], err)
	}
}
