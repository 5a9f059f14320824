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

package ioprio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// sysfsRoot is where sysfs is mounted.
var sysfsRoot = "/sys"

// schedulerFiles expands (with glob) to block device scheduler files.
const schedulerFiles = "block/*/queue/scheduler"

// prioritySchedulers are the I/O schedulers which honor I/O priorities.
var prioritySchedulers = map[string]bool{
	"bfq":         true,
	"cfq":         true,
	"mq-deadline": true,
}

// Schedulers returns the active I/O scheduler of each block device.
func Schedulers() (map[string]string, error) {
	ios := map[string]string{}

	pattern := filepath.Join(sysfsRoot, schedulerFiles)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid I/O scheduler wildcard %q", pattern)
	}

	for _, file := range files {
		dev := filepath.Base(filepath.Dir(filepath.Dir(file)))
		data, err := os.ReadFile(file)
		if err != nil {
			// A block device may be disconnected. Continue without error.
			log.Warn("failed to read I/O scheduler %q: %v", file, err)
			continue
		}

		sched := parseScheduler(strings.TrimSpace(string(data)))
		if sched == "" {
			return nil, errors.Errorf("could not parse current scheduler in %q", file)
		}

		ios["/dev/"+dev] = sched
	}

	return ios, nil
}

// parseScheduler picks the active, bracketed entry of a scheduler list.
func parseScheduler(data string) string {
	if strings.IndexByte(data, ' ') == -1 {
		return strings.Trim(data, "[]")
	}
	openB := strings.Index(data, "[")
	closeB := strings.Index(data, "]")
	if -1 < openB && openB < closeB {
		return data[openB+1 : closeB]
	}
	return ""
}

// IgnoringDevices returns the devices whose active scheduler ignores
// I/O priorities, sorted by name.
func IgnoringDevices(schedulers map[string]string) []string {
	var devs []string
	for dev, sched := range schedulers {
		if !prioritySchedulers[sched] {
			devs = append(devs, dev)
		}
	}
	sort.Strings(devs)
	return devs
}

// CheckSchedulers warns about block devices where I/O priorities have no effect.
func CheckSchedulers() {
	schedulers, err := Schedulers()
	if err != nil {
		log.Warn("I/O scheduler detection failed: %v", err)
		return
	}
	for _, dev := range IgnoringDevices(schedulers) {
		log.Warn("%s uses I/O scheduler %q which ignores I/O priorities (use bfq or mq-deadline)",
			dev, schedulers[dev])
	}
}
