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

// Package sysfs discovers system properties from sysfs.
package sysfs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/utils/cpuset"
)

// SysRoot is where sysfs is mounted.
var SysRoot = "/sys"

const (
	sysfsCPUPath = "devices/system/cpu"
)

// OnlineCPUs returns the set of online CPUs.
func OnlineCPUs() (cpuset.CPUSet, error) {
	return readCPUList("online")
}

// PossibleCPUs returns the set of CPUs which can ever be online.
func PossibleCPUs() (cpuset.CPUSet, error) {
	return readCPUList("possible")
}

// ExitEventCPUs returns the CPUs to subscribe to task exit events on.
// It falls back to 0-(NumCPU-1) if sysfs is not available.
func ExitEventCPUs() cpuset.CPUSet {
	cpus, err := PossibleCPUs()
	if err == nil && cpus.Size() > 0 {
		return cpus
	}
	if cpus, err = OnlineCPUs(); err == nil && cpus.Size() > 0 {
		return cpus
	}

	ids := make([]int, runtime.NumCPU())
	for i := range ids {
		ids[i] = i
	}
	return cpuset.New(ids...)
}

func readCPUList(entry string) (cpuset.CPUSet, error) {
	path := filepath.Join(SysRoot, sysfsCPUPath, entry)
	data, err := os.ReadFile(path)
	if err != nil {
		return cpuset.New(), errors.Wrapf(err, "sysfs: failed to read %s", path)
	}
	cpus, err := cpuset.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return cpuset.New(), errors.Wrapf(err, "sysfs: failed to parse %s", path)
	}
	return cpus, nil
}
