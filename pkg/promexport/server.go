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
	"fmt"
	"net"
	"net/http"
	"time"

	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves a Gatherer over HTTP and participates in checkpoint and
// restore. A listening TCP socket cannot be carried through a process image,
// so the Server shuts its listener down before a checkpoint and binds a fresh
// one when execution resumes. Register it with the Coordinator at
// cryo.PriorityNormal.
type Server struct {
	addr    string
	handler http.Handler

	mu sync.Mutex
	// srv and serving belong to the current incarnation of the listener;
	// both are nil while the Server is down.
	srv     *http.Server
	serving *sync.WaitGroupErr
	bound   string
	resume  bool
}

// NewServer returns a Server exposing g on addr under /metrics. The server
// does not listen until Start is called.
func NewServer(addr string, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &Server{
		addr:    addr,
		handler: mux,
	}
}

// Start binds the listener and begins serving. It returns once the socket is
// bound; serving continues on a background goroutine whose failure is
// reported by the next Stop or BeforeCheckpoint.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Server) startLocked() error {
	if s.srv != nil {
		return fmt.Errorf("exporter already serving on %s", s.bound)
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("exporter listen on %s: %w", s.addr, err)
	}
	// An http.Server cannot serve again once shut down, so every
	// incarnation gets a fresh one.
	srv := &http.Server{
		Handler:     s.handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	wg := &sync.WaitGroupErr{}
	wg.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	s.srv = srv
	s.serving = wg
	s.bound = ln.Addr().String()
	log.Infof("Metrics exporter listening on %s", s.bound)
	return nil
}

// Addr returns the address of the live listener, or "" while the Server is
// down. A Server configured with port 0 may come back on a different port
// after a restore.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *Server) stopLocked(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	if serr := s.serving.Error(); err == nil {
		err = serr
	}
	s.srv = nil
	s.serving = nil
	s.bound = ""
	return err
}

// Stop shuts the exporter down for good. In-flight scrapes are allowed to
// finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = false
	return s.stopLocked(ctx)
}

// BeforeCheckpoint implements cryo.Resource.BeforeCheckpoint. It shuts the
// listener down so that the image carries no listening socket. A Server that
// was not serving is left alone.
func (s *Server) BeforeCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	// Shutdown closes the listener even when draining fails, so the
	// restore side re-listens regardless of the error.
	s.resume = true
	if err := s.stopLocked(ctx); err != nil {
		return fmt.Errorf("stopping exporter on %s: %w", s.addr, err)
	}
	return nil
}

// AfterRestore implements cryo.Resource.AfterRestore. It re-binds the
// configured address if BeforeCheckpoint took the listener down.
func (s *Server) AfterRestore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resume {
		return nil
	}
	s.resume = false
	return s.startLocked()
}

// String implements fmt.Stringer.String.
func (s *Server) String() string {
	return "metrics-exporter"
}
