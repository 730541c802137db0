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

// Package sdnotify mirrors checkpoint activity into the systemd service
// manager, for processes running as a Type=notify unit.
//
// The notifier registers at PriorityNotifiers, the last class in both walk
// directions: the status update goes out once every other resource has
// quiesced, and READY=1 goes out once every other resource is live again.
// Outside systemd (NOTIFY_SOCKET unset) every notification is a no-op.
package sdnotify

import (
	"context"
	"fmt"
	"os"

	"cryo.dev/cryo/pkg/cryo"
	"cryo.dev/cryo/pkg/log"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier is the resource that talks to the service manager. Notification
// failures are logged and never fail a pass: losing a status line is not
// worth losing a checkpoint.
type Notifier struct {
	reg *cryo.Registration
}

// Register attaches a Notifier to coord.
func Register(coord *cryo.Coordinator) *Notifier {
	n := &Notifier{}
	n.reg = coord.Register(n, cryo.PriorityNotifiers)
	return n
}

// Unregister detaches the Notifier.
func (n *Notifier) Unregister() {
	n.reg.Unregister()
}

// BeforeCheckpoint implements cryo.Resource.BeforeCheckpoint.
func (n *Notifier) BeforeCheckpoint(context.Context) error {
	n.send("STATUS=checkpointing, resources quiesced")
	return nil
}

// AfterRestore implements cryo.Resource.AfterRestore.
//
// MAINPID is re-announced: after a restore into a fresh process the service
// manager's notion of the main process is stale.
func (n *Notifier) AfterRestore(context.Context) error {
	n.send(fmt.Sprintf("%s\nSTATUS=running\nMAINPID=%d", daemon.SdNotifyReady, os.Getpid()))
	return nil
}

func (n *Notifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warningf("sd_notify failed: %v", err)
		return
	}
	if !sent {
		log.Debugf("sd_notify skipped: not running under systemd")
	}
}

// String implements fmt.Stringer.String.
func (n *Notifier) String() string {
	return "sd-notify"
}
