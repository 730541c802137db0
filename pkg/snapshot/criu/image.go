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

package criu

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryo.dev/cryo/pkg/hostfd"
	"github.com/gofrs/flock"
)

const (
	// metadataFilename is the name of the metadata file relative to the
	// image directory that describes the image.
	metadataFilename = "meta.json"

	// metadataLockFilename is the name of a lock file in the image
	// directory that is used to prevent concurrent modifications to the
	// image and its metadata.
	metadataLockFilename = "meta.lock"

	// restoreMarkerFilename is the name of the marker file a restorer
	// drops into the image directory before resurrecting the process. The
	// woken process finds it and knows it came back from the image rather
	// than straight through its dump call.
	restoreMarkerFilename = "restored"
)

// Metadata describes the image held in an image directory. It is written
// before the dump starts and finalized once the image is complete, so a
// restorer can tell a usable image from an aborted one.
type Metadata struct {
	// ID names the imaged process.
	ID string `json:"id"`

	// PID is the process id at dump time.
	PID int `json:"pid"`

	// Argv is the imaged process's command line.
	Argv []string `json:"argv,omitempty"`

	// Hostname is the host the dump was taken on.
	Hostname string `json:"hostname"`

	// Generation counts the dumps taken through this mechanism instance.
	Generation uint32 `json:"generation"`

	// PolicyDigest identifies the descriptor policy active at dump time.
	PolicyDigest string `json:"policyDigest,omitempty"`

	// CreatedAt is when the dump started.
	CreatedAt time.Time `json:"createdAt"`

	// Complete is set once the whole image is on disk.
	Complete bool `json:"complete"`
}

// Dir is an image directory. All metadata accesses take a file lock, so
// multiple processes (the checkpointed process, a restorer, an inspector)
// can safely look at the same directory.
type Dir struct {
	path string
}

// OpenDir returns a Dir for path, creating the directory if needed.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0711); err != nil {
		return nil, fmt.Errorf("creating image directory %q: %v", path, err)
	}
	return &Dir{path: path}, nil
}

// Path returns the image directory path.
func (d *Dir) Path() string {
	return d.path
}

// lock takes the file lock on the image directory's lock file.
func (d *Dir) lock() (func() error, error) {
	f := filepath.Join(d.path, metadataLockFilename)
	l := flock.New(f)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring lock on image lock file %q: %v", f, err)
	}
	return l.Unlock, nil
}

// SaveMetadata writes meta to the image directory.
func (d *Dir) SaveMetadata(meta *Metadata) error {
	unlock, err := d.lock()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling image metadata: %v", err)
	}
	metaFile := filepath.Join(d.path, metadataFilename)
	if err := os.WriteFile(metaFile, data, 0640); err != nil {
		return fmt.Errorf("writing image metadata: %v", err)
	}
	return nil
}

// LoadMetadata reads the image metadata. A missing metadata file keeps its
// 'not found' error so callers can distinguish an empty directory from a
// broken one.
func (d *Dir) LoadMetadata() (*Metadata, error) {
	unlock, err := d.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	metaFile := filepath.Join(d.path, metadataFilename)
	data, err := os.ReadFile(metaFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reading image metadata: %v", err)
	}
	meta := &Metadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("unmarshaling image metadata from %q: %v", metaFile, err)
	}
	return meta, nil
}

// WriteRestoreMarker drops the restore marker. Restorers call this right
// before resurrecting the image.
func (d *Dir) WriteRestoreMarker() error {
	marker := filepath.Join(d.path, restoreMarkerFilename)
	if err := os.WriteFile(marker, nil, 0640); err != nil {
		return fmt.Errorf("writing restore marker: %v", err)
	}
	return nil
}

// ClearRestoreMarker removes the restore marker if present.
func (d *Dir) ClearRestoreMarker() error {
	marker := filepath.Join(d.path, restoreMarkerFilename)
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing restore marker: %v", err)
	}
	return nil
}

// RestoreMarker reports whether the restore marker is present.
func (d *Dir) RestoreMarker() (bool, error) {
	_, err := os.Stat(filepath.Join(d.path, restoreMarkerFilename))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking restore marker: %v", err)
}

// openForCriu opens the image directory and clears CLOEXEC on the
// descriptor. Go opens everything close-on-exec, but the criu child spawned
// in swrk mode must inherit this descriptor for ImagesDirFd to mean
// anything there.
func (d *Dir) openForCriu() (*os.File, int32, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening image directory %q: %v", d.path, err)
	}
	if err := hostfd.SetCloexec(int(f.Fd()), false); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("clearing CLOEXEC on image directory %q: %v", d.path, err)
	}
	return f, int32(f.Fd()), nil
}
