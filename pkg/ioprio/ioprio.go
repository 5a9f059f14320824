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

// Package ioprio implements reading and setting the I/O scheduling
// priority of processes.
package ioprio

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	logger "github.com/intel/ioprio-balancer/pkg/log"
)

var log logger.Logger = logger.NewLogger("ioprio")

// Class is an I/O scheduling class.
type Class uint16

const (
	// ClassNone is the default class, derived from CPU niceness.
	ClassNone Class = iota
	// ClassRT is the realtime class.
	ClassRT
	// ClassBE is the best-effort class.
	ClassBE
	// ClassIdle only gets disk time when nobody else needs it.
	ClassIdle
)

const (
	classShift = 13
	dataMask   = 1<<classShift - 1

	// DefaultLevel is the default level within the RT and BE classes.
	DefaultLevel = 4
	// MaxLevel is the lowest priority level within the RT and BE classes.
	MaxLevel = 7
)

var classNames = map[Class]string{
	ClassNone: "none",
	ClassRT:   "rt",
	ClassBE:   "be",
	ClassIdle: "idle",
}

var classByName = map[string]Class{
	"none":        ClassNone,
	"rt":          ClassRT,
	"realtime":    ClassRT,
	"be":          ClassBE,
	"best-effort": ClassBE,
	"idle":        ClassIdle,
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "class#" + strconv.Itoa(int(c))
}

// Priority is an I/O scheduling class and a level within the class.
type Priority struct {
	Class Class
	Data  uint16
}

var (
	// None restores the default, niceness-derived priority.
	None = Priority{Class: ClassNone}
	// Idle is the lowest possible priority.
	Idle = Priority{Class: ClassIdle}
)

// Value returns the priority as passed to the kernel.
func (p Priority) Value() uint16 {
	return uint16(p.Class)<<classShift | p.Data&dataMask
}

// FromValue converts a kernel priority value.
func FromValue(v uint16) Priority {
	return Priority{Class: Class(v >> classShift), Data: v & dataMask}
}

// Validate checks that the priority level is valid for its class.
func (p Priority) Validate() error {
	switch p.Class {
	case ClassRT, ClassBE:
		if p.Data > MaxLevel {
			return errors.Errorf("invalid %s level %d, must be 0-%d", p.Class, p.Data, MaxLevel)
		}
	case ClassNone, ClassIdle:
		if p.Data != 0 {
			return errors.Errorf("class %s does not take a level (%d)", p.Class, p.Data)
		}
	default:
		return errors.Errorf("invalid I/O scheduling class %d", p.Class)
	}
	return nil
}

func (p Priority) String() string {
	switch p.Class {
	case ClassRT, ClassBE:
		return fmt.Sprintf("%s:%d", p.Class, p.Data)
	}
	return p.Class.String()
}

// Parse parses a priority of the form class[:level], for instance
// "idle", "be:4" or "rt:0". RT and BE default to DefaultLevel.
func Parse(value string) (Priority, error) {
	name, level, hasLevel := strings.Cut(strings.TrimSpace(value), ":")

	class, ok := classByName[strings.ToLower(name)]
	if !ok {
		return Priority{}, errors.Errorf("invalid I/O priority %q: unknown class %q", value, name)
	}

	p := Priority{Class: class}
	switch {
	case hasLevel:
		data, err := strconv.ParseUint(level, 10, 16)
		if err != nil {
			return Priority{}, errors.Wrapf(err, "invalid I/O priority %q", value)
		}
		p.Data = uint16(data)
	case class == ClassRT || class == ClassBE:
		p.Data = DefaultLevel
	}

	if err := p.Validate(); err != nil {
		return Priority{}, errors.Wrapf(err, "invalid I/O priority %q", value)
	}

	return p, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Setter sets priorities of processes using the system calls. The
// kernel keeps a priority per thread. Unless Threads is set, only the
// main thread of a process gets the priority.
type Setter struct {
	// Threads lists the threads of a process.
	Threads func(pid uint32) ([]uint32, error)

	set func(uint32, Priority) error
}

// SetPriority sets the I/O priority of a process. Threads which exit
// meanwhile are ignored, the returned error is ESRCH only if the main
// thread is gone.
func (s Setter) SetPriority(pid uint32, p Priority) error {
	set := s.set
	if set == nil {
		set = Set
	}

	if err := set(pid, p); err != nil {
		return err
	}
	if s.Threads == nil {
		return nil
	}

	tids, err := s.Threads(pid)
	if err != nil {
		return err
	}
	for _, tid := range tids {
		if tid == pid {
			continue
		}
		if err := set(tid, p); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}

	return nil
}
