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

// Package config provides the configuration that applies to cryoctl as a
// whole, as opposed to the flags of an individual subcommand. Config fields
// are bound to command line flags through the `flag` struct tag.
package config

import (
	"fmt"
	"strings"
	"time"

	"cryo.dev/cryo/pkg/log"
	"cryo.dev/cryo/pkg/snapshot/criu"
)

// Config holds cryoctl's global configuration.
type Config struct {
	// ImagesDir is the image directory commands operate on.
	ImagesDir string `flag:"images-dir"`

	// WorkDir is where criu writes its logs and scratch files.
	WorkDir string `flag:"work-dir"`

	// CriuPath overrides the criu binary looked up on PATH.
	CriuPath string `flag:"criu"`

	// PolicyFile is the descriptor policy rule file.
	PolicyFile string `flag:"policy"`

	// LogFilename is the file cryoctl error messages are appended to.
	LogFilename string `flag:"log"`

	// LogFormat is the format of LogFilename: text, json or json-k8s.
	LogFormat string `flag:"log-format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// DebugLog is an additional file for debug logs.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the format of DebugLog.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr sends debug logs to stderr as well.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// TCPEstablished lets criu handle established TCP connections.
	TCPEstablished bool `flag:"tcp-established"`

	// ShellJob lets criu handle a process attached to a terminal session.
	ShellJob bool `flag:"shell-job"`

	// FileLocks lets criu handle held file locks.
	FileLocks bool `flag:"file-locks"`

	// HookArgv is the checkpoint hook binary and its arguments, split by
	// spaces.
	HookArgv string `flag:"checkpoint-hook"`

	// HookTimeout bounds each checkpoint hook invocation.
	HookTimeout time.Duration `flag:"checkpoint-hook-timeout"`
}

// validate checks the consistency of the configuration.
func (c *Config) validate() error {
	if err := validLogFormat(c.LogFormat); err != nil {
		return err
	}
	if err := validLogFormat(c.DebugLogFormat); err != nil {
		return err
	}
	if c.HookTimeout < 0 {
		return fmt.Errorf("invalid checkpoint-hook-timeout %v", c.HookTimeout)
	}
	return nil
}

func validLogFormat(format string) error {
	switch format {
	case "text", "json", "json-k8s":
		return nil
	}
	return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
}

// CriuOptions converts the configuration to snapshot options for the criu
// mechanism.
func (c *Config) CriuOptions() criu.Options {
	opts := criu.Options{
		ImagesDir:      c.ImagesDir,
		WorkDir:        c.WorkDir,
		CriuPath:       c.CriuPath,
		TCPEstablished: c.TCPEstablished,
		ShellJob:       c.ShellJob,
		FileLocks:      c.FileLocks,
	}
	if c.HookArgv != "" {
		opts.Hook = criu.Hook{
			Argv:    strings.Split(c.HookArgv, " "),
			Timeout: c.HookTimeout,
		}
	}
	return opts
}

// Log logs the effective configuration.
func (c *Config) Log() {
	log.Infof("Config: %+v", c)
}
