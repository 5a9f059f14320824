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

// Package pidfile guards against running more than one balancer at a
// time. Two balancers would keep overriding each other's priorities.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ErrRunning is returned if another live process owns the PID file.
var ErrRunning = errors.New("already running")

// PidFile is a PID file owned by the current process once acquired.
type PidFile struct {
	path string
	file *os.File
}

// New returns a PID file at the given path, or at the default path if
// path is empty.
func New(path string) *PidFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Acquire creates the PID file and writes os.Getpid() to it. A stale PID
// file, left behind by a process which no longer exists, is replaced. If
// the owner is alive Acquire fails with ErrRunning.
func (p *PidFile) Acquire() error {
	if p.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file directory")
	}

	err := p.create()
	if err == nil || !os.IsExist(errors.Cause(err)) {
		return err
	}

	owner, err := p.OwnerPid()
	if err != nil {
		return err
	}
	if owner > 0 && owner != os.Getpid() {
		return errors.Wrapf(ErrRunning, "PID file %s owned by process %d", p.path, owner)
	}

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove stale PID file")
	}
	return p.create()
}

func (p *PidFile) create() error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}
	if _, err := f.Write([]byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
		f.Close()
		os.Remove(p.path)
		return errors.Wrap(err, "failed to write PID file")
	}
	p.file = f
	return nil
}

// Read returns the process ID found in the PID file, 0 if there is no file.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	content := strings.TrimSpace(string(buf))
	if content == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(content)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", content)
	}

	return pid, nil
}

// OwnerPid returns the ID of the live process owning the PID file, or 0
// if no live process owns it.
func (p *PidFile) OwnerPid() (int, error) {
	pid, err := p.Read()
	if err != nil || pid <= 0 {
		return pid, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return -1, errors.Wrapf(err, "failed to look up process %d", pid)
	}

	switch err = proc.Signal(syscall.Signal(0)); {
	case err == nil, errors.Is(err, syscall.EPERM):
		return pid, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return 0, nil
	}

	return -1, errors.Wrapf(err, "failed to check process %d", pid)
}

// Release closes and removes the PID file if it is owned by us.
func (p *PidFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.file.Close()
	p.file = nil

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// DefaultPath returns the default PID file path.
func DefaultPath() string {
	name := "ioprio-balancer"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "run", name+".pid")
}
