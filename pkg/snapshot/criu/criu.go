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

// Package criu implements a snapshot.Mechanism over CRIU in swrk mode.
//
// The mechanism dumps its own process into an image directory. A process
// that calls Snapshot and is dumped with LeaveRunning resumes immediately
// and keeps going; one dumped without it stays frozen in the image until a
// restorer (cryoctl restore) resurrects it. Either way execution continues
// right after the dump, so Snapshot tells the two apart with a marker file
// the restorer drops into the image directory first.
package criu

import (
	"context"
	"fmt"
	"os"
	"time"

	"cryo.dev/cryo/pkg/log"
	gocriu "github.com/checkpoint-restore/go-criu/v7"
	"github.com/checkpoint-restore/go-criu/v7/rpc"
	"github.com/checkpoint-restore/go-criu/v7/utils"
	"github.com/mohae/deepcopy"
	"google.golang.org/protobuf/proto"
)

const (
	defaultLogLevel    = 4
	dumpLogFilename    = "dump.log"
	restoreLogFilename = "restore.log"
)

// Options configures a Mechanism.
type Options struct {
	// ImagesDir is the directory the image is written to and read from.
	ImagesDir string

	// WorkDir is where criu writes its logs and scratch files. Empty means
	// the image directory.
	WorkDir string

	// CriuPath overrides the criu binary looked up on PATH.
	CriuPath string

	// ID names the imaged process in the image metadata.
	ID string

	// PolicyDigest identifies the descriptor policy active at dump time,
	// typically policy.Set.Digest(). Recorded in the image metadata.
	PolicyDigest string

	// LogLevel is criu's verbosity.
	LogLevel int32

	// LeaveRunning resumes the process right after the dump instead of
	// leaving it frozen in the image.
	LeaveRunning bool

	// TCPEstablished dumps established TCP connections instead of
	// refusing them.
	TCPEstablished bool

	// ShellJob allows dumping a process attached to a terminal session.
	ShellJob bool

	// FileLocks dumps held file locks.
	FileLocks bool

	// Hook runs around the dump: mode "save" before it, "restore" or
	// "resume" after, depending on which side of the image the process
	// woke up on.
	Hook Hook
}

// Mechanism dumps the calling process with CRIU. It implements
// snapshot.Mechanism.
type Mechanism struct {
	opts   Options
	dir    *Dir
	passes uint32
}

// New returns a Mechanism for opts, creating the image directory if needed.
// opts is deep-copied: the caller may keep mutating its own copy.
func New(opts Options) (*Mechanism, error) {
	opts = deepcopy.Copy(opts).(Options)
	if opts.LogLevel == 0 {
		opts.LogLevel = defaultLogLevel
	}
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("pid-%d", os.Getpid())
	}
	dir, err := OpenDir(opts.ImagesDir)
	if err != nil {
		return nil, err
	}
	return &Mechanism{opts: opts, dir: dir}, nil
}

// Dir returns the mechanism's image directory.
func (m *Mechanism) Dir() *Dir {
	return m.dir
}

// Snapshot implements snapshot.Mechanism.Snapshot. It dumps the calling
// process into the image directory and reports whether execution is
// continuing in a restored instance.
func (m *Mechanism) Snapshot(ctx context.Context) (bool, error) {
	// A marker left over from the previous incarnation must not make this
	// dump look like a restore.
	if err := m.dir.ClearRestoreMarker(); err != nil {
		return false, err
	}

	m.passes++
	hostname, _ := os.Hostname()
	meta := &Metadata{
		ID:           m.opts.ID,
		PID:          os.Getpid(),
		Argv:         os.Args,
		Hostname:     hostname,
		Generation:   m.passes,
		PolicyDigest: m.opts.PolicyDigest,
		CreatedAt:    time.Now(),
	}
	if err := m.dir.SaveMetadata(meta); err != nil {
		return false, err
	}

	if err := m.opts.Hook.Run(ctx, HookSave); err != nil {
		return false, err
	}

	img, imgFd, err := m.dir.openForCriu()
	if err != nil {
		return false, err
	}
	defer img.Close()

	dumpOpts := m.dumpOpts(imgFd)
	var work *os.File
	if m.opts.WorkDir != "" {
		workDir, err := OpenDir(m.opts.WorkDir)
		if err != nil {
			return false, err
		}
		var workFd int32
		work, workFd, err = workDir.openForCriu()
		if err != nil {
			return false, err
		}
		defer work.Close()
		dumpOpts.WorkDirFd = proto.Int32(workFd)
	}

	log.Infof("Dumping process %d into %q", os.Getpid(), m.dir.Path())
	c := m.criu()
	if err := c.Dump(dumpOpts, &dumpNotify{dir: m.dir, meta: meta}); err != nil {
		return false, fmt.Errorf("criu dump: %w", err)
	}

	// From here on we are either the original process carrying on after
	// its dump, or a restored instance waking up inside it.
	restored, err := m.dir.RestoreMarker()
	if err != nil {
		return false, err
	}
	mode := HookResume
	if restored {
		mode = HookRestore
		if err := m.dir.ClearRestoreMarker(); err != nil {
			return true, err
		}
	}
	if err := m.opts.Hook.Run(ctx, mode); err != nil {
		return restored, err
	}
	return restored, nil
}

// dumpOpts builds the criu RPC options for a self-dump into imgFd.
func (m *Mechanism) dumpOpts(imgFd int32) *rpc.CriuOpts {
	return &rpc.CriuOpts{
		ImagesDirFd:    proto.Int32(imgFd),
		LogLevel:       proto.Int32(m.opts.LogLevel),
		LogFile:        proto.String(dumpLogFilename),
		LeaveRunning:   proto.Bool(m.opts.LeaveRunning),
		TcpEstablished: proto.Bool(m.opts.TCPEstablished),
		ShellJob:       proto.Bool(m.opts.ShellJob),
		FileLocks:      proto.Bool(m.opts.FileLocks),
	}
}

func (m *Mechanism) criu() *gocriu.Criu {
	c := gocriu.MakeCriu()
	if m.opts.CriuPath != "" {
		c.SetCriuPath(m.opts.CriuPath)
	}
	return c
}

// Restore resurrects the process imaged in opts.ImagesDir and returns its
// pid. It runs in a restorer process, never in the checkpointed process
// itself. The restored process observes the marker this function drops and
// completes its own Snapshot call with restored set.
func Restore(opts Options) (int32, error) {
	dir, err := OpenDir(opts.ImagesDir)
	if err != nil {
		return 0, err
	}
	meta, err := dir.LoadMetadata()
	if err != nil {
		return 0, err
	}
	if !meta.Complete {
		return 0, fmt.Errorf("image %q in %q is incomplete, refusing to restore", meta.ID, dir.Path())
	}

	if err := dir.WriteRestoreMarker(); err != nil {
		return 0, err
	}
	img, imgFd, err := dir.openForCriu()
	if err != nil {
		return 0, err
	}
	defer img.Close()

	logLevel := opts.LogLevel
	if logLevel == 0 {
		logLevel = defaultLogLevel
	}
	restoreOpts := &rpc.CriuOpts{
		ImagesDirFd:    proto.Int32(imgFd),
		LogLevel:       proto.Int32(logLevel),
		LogFile:        proto.String(restoreLogFilename),
		TcpEstablished: proto.Bool(opts.TCPEstablished),
		ShellJob:       proto.Bool(opts.ShellJob),
		FileLocks:      proto.Bool(opts.FileLocks),
		RstSibling:     proto.Bool(true),
	}

	log.Infof("Restoring image %q (generation %d, dumped as pid %d)", meta.ID, meta.Generation, meta.PID)
	c := gocriu.MakeCriu()
	if opts.CriuPath != "" {
		c.SetCriuPath(opts.CriuPath)
	}
	nfy := &restoreNotify{}
	if err := c.Restore(restoreOpts, nfy); err != nil {
		dir.ClearRestoreMarker()
		return 0, fmt.Errorf("criu restore: %w", err)
	}
	return nfy.pid, nil
}

// Available reports whether a usable criu binary is installed.
func Available() error {
	return utils.CheckForCriu(utils.PodCriuVersion)
}

// Version returns the version the criu binary reports, encoded as
// major*10000 + minor*100 + sublevel.
func Version(criuPath string) (int, error) {
	c := gocriu.MakeCriu()
	if criuPath != "" {
		c.SetCriuPath(criuPath)
	}
	return c.GetCriuVersion()
}

// dumpNotify finalizes the image metadata once criu has it all on disk.
type dumpNotify struct {
	gocriu.NoNotify
	dir  *Dir
	meta *Metadata
}

// PreDump implements gocriu.Notify.PreDump.
func (n *dumpNotify) PreDump() error {
	log.Debugf("criu: pre-dump")
	return nil
}

// PostDump implements gocriu.Notify.PostDump.
func (n *dumpNotify) PostDump() error {
	n.meta.Complete = true
	if err := n.dir.SaveMetadata(n.meta); err != nil {
		return err
	}
	log.Debugf("criu: post-dump, image finalized in %q", n.dir.Path())
	return nil
}

// restoreNotify captures the restored pid.
type restoreNotify struct {
	gocriu.NoNotify
	pid int32
}

// PreRestore implements gocriu.Notify.PreRestore.
func (n *restoreNotify) PreRestore() error {
	log.Debugf("criu: pre-restore")
	return nil
}

// PostRestore implements gocriu.Notify.PostRestore.
func (n *restoreNotify) PostRestore(pid int32) error {
	n.pid = pid
	log.Infof("criu: post-restore, process restored as pid %d", pid)
	return nil
}

// PostResume implements gocriu.Notify.PostResume.
func (n *restoreNotify) PostResume() error {
	log.Debugf("criu: post-resume")
	return nil
}
