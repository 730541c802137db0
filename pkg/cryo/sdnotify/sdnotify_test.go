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

package sdnotify

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryo.dev/cryo/pkg/cryo"
	"cryo.dev/cryo/pkg/snapshot"
)

// listenNotify stands in for the service manager's notification socket.
func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading notification: %v", err)
	}
	return string(buf[:n])
}

func TestNotifierPass(t *testing.T) {
	conn := listenNotify(t)
	coord := cryo.NewCoordinator()
	n := Register(coord)
	defer n.Unregister()

	if err := coord.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore: %v", err)
	}

	before := readState(t, conn)
	if !strings.HasPrefix(before, "STATUS=") {
		t.Errorf("first notification = %q, want a STATUS update", before)
	}
	after := readState(t, conn)
	if !strings.Contains(after, "READY=1") {
		t.Errorf("second notification = %q, want READY=1", after)
	}
	if want := fmt.Sprintf("MAINPID=%d", os.Getpid()); !strings.Contains(after, want) {
		t.Errorf("second notification = %q, want %s", after, want)
	}
}

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	coord := cryo.NewCoordinator()
	Register(coord)
	if err := coord.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Errorf("CheckpointRestore without a notify socket: %v", err)
	}
}

func TestNotifierNeverFailsThePass(t *testing.T) {
	// A socket path that exists but is not listening: sends fail.
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "gone.sock"))
	coord := cryo.NewCoordinator()
	Register(coord)
	if err := coord.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Errorf("CheckpointRestore with a dead notify socket: %v", err)
	}
}
