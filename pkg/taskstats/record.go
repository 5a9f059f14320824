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

package taskstats

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// RecordSize is the size of an encoded accounting record.
	RecordSize = 352
	// MinRecordVersion is the oldest record layout we understand.
	MinRecordVersion = 10
	// CommLen is the maximum length of a command name.
	CommLen = 32
)

// SchedPolicy is the scheduling policy of a task.
type SchedPolicy uint8

// Scheduling policies, as in sched_setscheduler(2).
const (
	SchedNormal SchedPolicy = iota
	SchedFIFO
	SchedRR
	SchedBatch
	_
	SchedIdle
	SchedDeadline
)

func (p SchedPolicy) String() string {
	switch p {
	case SchedNormal:
		return "normal"
	case SchedFIFO:
		return "fifo"
	case SchedRR:
		return "rr"
	case SchedBatch:
		return "batch"
	case SchedIdle:
		return "idle"
	case SchedDeadline:
		return "deadline"
	}
	return fmt.Sprintf("policy#%d", uint8(p))
}

// Record is a per-task or per-process accounting snapshot.
type Record struct {
	Version  uint16
	ExitCode uint32
	Flag     uint8
	Nice     uint8

	CPUCount      uint64
	CPUDelayTotal uint64
	BlkIOCount    uint64
	BlkIODelay    uint64
	SwapinCount   uint64
	SwapinDelay   uint64

	CPURunRealTotal    uint64
	CPURunVirtualTotal uint64

	Comm  string
	Sched SchedPolicy
	UID   uint32
	GID   uint32
	PID   uint32
	PPID  uint32
	Btime uint32

	Etime uint64
	Utime uint64
	Stime uint64

	MinFlt uint64
	MajFlt uint64

	CoreMem    uint64
	VirtMem    uint64
	HiwaterRSS uint64
	HiwaterVM  uint64

	ReadChar            uint64
	WriteChar           uint64
	ReadSyscalls        uint64
	WriteSyscalls       uint64
	ReadBytes           uint64
	WriteBytes          uint64
	CancelledWriteBytes uint64

	Nvcsw  uint64
	Nivcsw uint64

	UtimeScaled           uint64
	StimeScaled           uint64
	CPUScaledRunRealTotal uint64

	FreepagesCount uint64
	FreepagesDelay uint64
	ThrashingCount uint64
	ThrashingDelay uint64

	Btime64 uint64

	// alignment padding, kept for byte-exact round trips
	pad0 [2]byte
	pad1 [6]byte
	pad2 [7]byte
	pad3 [4]byte
}

// u64field maps a 64-bit field to its offset in an encoded record.
type u64field struct {
	off int
	ptr func(*Record) *uint64
}

var u64fields = []u64field{
	{16, func(r *Record) *uint64 { return &r.CPUCount }},
	{24, func(r *Record) *uint64 { return &r.CPUDelayTotal }},
	{32, func(r *Record) *uint64 { return &r.BlkIOCount }},
	{40, func(r *Record) *uint64 { return &r.BlkIODelay }},
	{48, func(r *Record) *uint64 { return &r.SwapinCount }},
	{56, func(r *Record) *uint64 { return &r.SwapinDelay }},
	{64, func(r *Record) *uint64 { return &r.CPURunRealTotal }},
	{72, func(r *Record) *uint64 { return &r.CPURunVirtualTotal }},
	{144, func(r *Record) *uint64 { return &r.Etime }},
	{152, func(r *Record) *uint64 { return &r.Utime }},
	{160, func(r *Record) *uint64 { return &r.Stime }},
	{168, func(r *Record) *uint64 { return &r.MinFlt }},
	{176, func(r *Record) *uint64 { return &r.MajFlt }},
	{184, func(r *Record) *uint64 { return &r.CoreMem }},
	{192, func(r *Record) *uint64 { return &r.VirtMem }},
	{200, func(r *Record) *uint64 { return &r.HiwaterRSS }},
	{208, func(r *Record) *uint64 { return &r.HiwaterVM }},
	{216, func(r *Record) *uint64 { return &r.ReadChar }},
	{224, func(r *Record) *uint64 { return &r.WriteChar }},
	{232, func(r *Record) *uint64 { return &r.ReadSyscalls }},
	{240, func(r *Record) *uint64 { return &r.WriteSyscalls }},
	{248, func(r *Record) *uint64 { return &r.ReadBytes }},
	{256, func(r *Record) *uint64 { return &r.WriteBytes }},
	{264, func(r *Record) *uint64 { return &r.CancelledWriteBytes }},
	{272, func(r *Record) *uint64 { return &r.Nvcsw }},
	{280, func(r *Record) *uint64 { return &r.Nivcsw }},
	{288, func(r *Record) *uint64 { return &r.UtimeScaled }},
	{296, func(r *Record) *uint64 { return &r.StimeScaled }},
	{304, func(r *Record) *uint64 { return &r.CPUScaledRunRealTotal }},
	{312, func(r *Record) *uint64 { return &r.FreepagesCount }},
	{320, func(r *Record) *uint64 { return &r.FreepagesDelay }},
	{328, func(r *Record) *uint64 { return &r.ThrashingCount }},
	{336, func(r *Record) *uint64 { return &r.ThrashingDelay }},
	{344, func(r *Record) *uint64 { return &r.Btime64 }},
}

// u32field maps a 32-bit field to its offset in an encoded record.
type u32field struct {
	off int
	ptr func(*Record) *uint32
}

var u32fields = []u32field{
	{4, func(r *Record) *uint32 { return &r.ExitCode }},
	{120, func(r *Record) *uint32 { return &r.UID }},
	{124, func(r *Record) *uint32 { return &r.GID }},
	{128, func(r *Record) *uint32 { return &r.PID }},
	{132, func(r *Record) *uint32 { return &r.PPID }},
	{136, func(r *Record) *uint32 { return &r.Btime }},
}

const (
	offVersion = 0
	offPad0    = 2
	offFlag    = 8
	offNice    = 9
	offPad1    = 10
	offComm    = 80
	offSched   = 112
	offPad2    = 113
	offPad3    = 140
)

// Decode decodes an accounting record. Unless verify is false, the
// record version must be at least MinRecordVersion.
func Decode(b []byte, verify bool) (*Record, error) {
	if len(b) != RecordSize {
		return nil, protocolError("accounting record is %d bytes, expected %d", len(b), RecordSize)
	}

	r := &Record{
		Version: binary.NativeEndian.Uint16(b[offVersion:]),
		Flag:    b[offFlag],
		Nice:    b[offNice],
		Sched:   SchedPolicy(b[offSched]),
	}
	if verify && r.Version < MinRecordVersion {
		return nil, protocolError("accounting record version %d, expected at least %d",
			r.Version, MinRecordVersion)
	}

	comm := b[offComm : offComm+CommLen]
	if idx := bytes.IndexByte(comm, 0); idx >= 0 {
		comm = comm[:idx]
	}
	r.Comm = string(comm)

	for _, f := range u64fields {
		*f.ptr(r) = binary.NativeEndian.Uint64(b[f.off:])
	}
	for _, f := range u32fields {
		*f.ptr(r) = binary.NativeEndian.Uint32(b[f.off:])
	}

	copy(r.pad0[:], b[offPad0:])
	copy(r.pad1[:], b[offPad1:])
	copy(r.pad2[:], b[offPad2:])
	copy(r.pad3[:], b[offPad3:])

	return r, nil
}

// Encode encodes the record into its fixed layout.
func (r *Record) Encode() ([]byte, error) {
	if len(r.Comm) > CommLen {
		return nil, errors.Errorf("taskstats: command name %q longer than %d bytes", r.Comm, CommLen)
	}

	b := make([]byte, RecordSize)
	binary.NativeEndian.PutUint16(b[offVersion:], r.Version)
	b[offFlag] = r.Flag
	b[offNice] = r.Nice
	b[offSched] = uint8(r.Sched)
	copy(b[offComm:], r.Comm)

	for _, f := range u64fields {
		binary.NativeEndian.PutUint64(b[f.off:], *f.ptr(r))
	}
	for _, f := range u32fields {
		binary.NativeEndian.PutUint32(b[f.off:], *f.ptr(r))
	}

	copy(b[offPad0:], r.pad0[:])
	copy(b[offPad1:], r.pad1[:])
	copy(b[offPad2:], r.pad2[:])
	copy(b[offPad3:], r.pad3[:])

	return b, nil
}

// WrittenBytes returns the bytes written to storage, excluding cancelled writes.
func (r *Record) WrittenBytes() int64 {
	return int64(r.WriteBytes) - int64(r.CancelledWriteBytes)
}
