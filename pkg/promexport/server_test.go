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

package promexport

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"cryo.dev/cryo/pkg/cryo"
	"cryo.dev/cryo/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape %s: %v", addr, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading scrape body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape %s: status %d", addr, resp.StatusCode)
	}
	return string(body)
}

func TestServerCheckpointRestore(t *testing.T) {
	coord := cryo.NewCoordinator()
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(coord)); err != nil {
		t.Fatalf("registering collector: %v", err)
	}

	srv := NewServer("127.0.0.1:0", reg)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())
	coord.Register(srv, cryo.PriorityNormal)

	first := srv.Addr()
	if first == "" {
		t.Fatal("Addr is empty after Start")
	}
	if body := scrape(t, first); !strings.Contains(body, "cryo_registered_resources") {
		t.Errorf("scrape output missing coordinator metrics:\n%s", body)
	}

	captured := false
	mech := snapshot.MechanismFunc(func(context.Context) (bool, error) {
		// The image must not carry a listening socket.
		if conn, err := net.Dial("tcp", first); err == nil {
			conn.Close()
			t.Error("exporter still accepting connections during capture")
		}
		captured = true
		return false, nil
	})
	if err := coord.CheckpointRestore(context.Background(), mech); err != nil {
		t.Fatalf("CheckpointRestore: %v", err)
	}
	if !captured {
		t.Fatal("mechanism never ran")
	}

	second := srv.Addr()
	if second == "" {
		t.Fatal("exporter did not come back after restore")
	}
	if body := scrape(t, second); !strings.Contains(body, "cryo_checkpoint_attempts_total 1") {
		t.Errorf("scrape after restore missing the completed pass:\n%s", body)
	}
}

func TestServerStoppedStaysDown(t *testing.T) {
	coord := cryo.NewCoordinator()
	srv := NewServer("127.0.0.1:0", prometheus.NewRegistry())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	coord.Register(srv, cryo.PriorityNormal)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := coord.CheckpointRestore(context.Background(), snapshot.Nop()); err != nil {
		t.Fatalf("CheckpointRestore: %v", err)
	}
	if addr := srv.Addr(); addr != "" {
		t.Errorf("stopped exporter came back on %s after a pass", addr)
	}
}

func TestServerDoubleStart(t *testing.T) {
	srv := NewServer("127.0.0.1:0", prometheus.NewRegistry())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())
	if err := srv.Start(); err == nil {
		t.Error("second Start succeeded")
	}
}
