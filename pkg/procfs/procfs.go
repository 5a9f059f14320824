// Copyright 2022 Intel Corporation. All Rights Reserved.
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

// Package procfs lists processes and threads and reads their parents.
package procfs

import (
	"io/fs"
	"syscall"

	"github.com/pkg/errors"
	prom "github.com/prometheus/procfs"
)

const (
	// DefaultMountPoint is the usual mount point of the proc filesystem.
	DefaultMountPoint = prom.DefaultMountPoint
)

// ErrNoSuchProcess is returned for processes or threads which are gone.
var ErrNoSuchProcess = errors.New("no such process")

// IsNoSuchProcess returns true if err indicates that the target process
// or thread does not exist (any more).
func IsNoSuchProcess(err error) bool {
	return errors.Is(err, ErrNoSuchProcess) ||
		errors.Is(err, syscall.ESRCH) ||
		errors.Is(err, fs.ErrNotExist)
}

// FS is a proc filesystem.
type FS struct {
	fs prom.FS
}

// NewFS returns the proc filesystem mounted at mountPoint.
func NewFS(mountPoint string) (*FS, error) {
	pfs, err := prom.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrapf(err, "procfs: failed to open %s", mountPoint)
	}
	return &FS{fs: pfs}, nil
}

// ListPids lists the ids of all processes.
func (f *FS) ListPids() ([]uint32, error) {
	procs, err := f.fs.AllProcs()
	if err != nil {
		return nil, errors.Wrap(err, "procfs: failed to list processes")
	}
	return procIDs(procs), nil
}

// ListTids lists the ids of all threads of a process.
func (f *FS) ListTids(pid uint32) ([]uint32, error) {
	threads, err := f.fs.AllThreads(int(pid))
	if err != nil {
		return nil, notFound(err, "procfs: failed to list threads of %d", pid)
	}
	return procIDs(threads), nil
}

// ReadPPID reads the parent process id of a process.
func (f *FS) ReadPPID(pid uint32) (uint32, error) {
	proc, err := f.fs.Proc(int(pid))
	if err != nil {
		return 0, notFound(err, "procfs: no process %d", pid)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, notFound(err, "procfs: failed to read stat of %d", pid)
	}
	return uint32(stat.PPID), nil
}

func procIDs(procs prom.Procs) []uint32 {
	ids := make([]uint32, 0, len(procs))
	for _, p := range procs {
		ids = append(ids, uint32(p.PID))
	}
	return ids
}

func notFound(err error, format string, args ...interface{}) error {
	if IsNoSuchProcess(err) {
		return errors.Wrapf(ErrNoSuchProcess, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
