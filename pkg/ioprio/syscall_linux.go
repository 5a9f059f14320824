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

//go:build linux

package ioprio

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ioprioWhoProcess selects a single thread (or the caller, for pid 0).
const ioprioWhoProcess = 1

// Set sets the I/O priority of a process. A pid of 0 is the caller.
// The returned error keeps the errno, ESRCH for a process which is gone.
func Set(pid uint32, p Priority) error {
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), uintptr(p.Value()))
	if errno != 0 {
		return errors.Wrapf(errno, "ioprio_set(%d, %s) failed", pid, p)
	}
	return nil
}

// Get returns the I/O priority of a process. A pid of 0 is the caller.
func Get(pid uint32) (Priority, error) {
	v, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET, ioprioWhoProcess, uintptr(pid), 0)
	if errno != 0 {
		return Priority{}, errors.Wrapf(errno, "ioprio_get(%d) failed", pid)
	}
	return FromValue(uint16(v)), nil
}
