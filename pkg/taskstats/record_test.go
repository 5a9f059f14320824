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
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// randomRecord returns random record bytes with a valid version and a
// NUL-padded command name.
func randomRecord(rnd *rand.Rand, comm string) []byte {
	b := make([]byte, RecordSize)
	rnd.Read(b)
	binary.NativeEndian.PutUint16(b[offVersion:], MinRecordVersion+uint16(rnd.Intn(10)))
	name := make([]byte, CommLen)
	copy(name, comm)
	copy(b[offComm:], name)
	return b
}

func TestRecordRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(352))
	for _, comm := range []string{"", "kworker/0:1", strings.Repeat("x", CommLen-1)} {
		for i := 0; i < 16; i++ {
			b := randomRecord(rnd, comm)

			r, err := Decode(b, true)
			require.NoError(t, err)
			require.Equal(t, comm, r.Comm)

			encoded, err := r.Encode()
			require.NoError(t, err)
			require.Equal(t, b, encoded)
		}
	}
}

func TestRecordFullWidthComm(t *testing.T) {
	rnd := rand.New(rand.NewSource(32))
	b := randomRecord(rnd, "")
	copy(b[offComm:], strings.Repeat("c", CommLen))

	r, err := Decode(b, true)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("c", CommLen), r.Comm)
}

func TestRecordFieldOffsets(t *testing.T) {
	r := &Record{
		Version:             MinRecordVersion,
		ExitCode:            0x11223344,
		Nice:                19,
		Comm:                "dd",
		Sched:               SchedBatch,
		PID:                 4242,
		PPID:                1,
		WriteBytes:          1 << 40,
		CancelledWriteBytes: 4096,
		Btime64:             1700000000,
	}
	b, err := r.Encode()
	require.NoError(t, err)
	require.Len(t, b, RecordSize)

	require.Equal(t, uint16(MinRecordVersion), binary.NativeEndian.Uint16(b[0:]))
	require.Equal(t, uint32(0x11223344), binary.NativeEndian.Uint32(b[4:]))
	require.Equal(t, uint8(19), b[9])
	require.Equal(t, "dd", string(b[80:82]))
	require.Equal(t, uint8(SchedBatch), b[112])
	require.Equal(t, uint32(4242), binary.NativeEndian.Uint32(b[128:]))
	require.Equal(t, uint32(1), binary.NativeEndian.Uint32(b[132:]))
	require.Equal(t, uint64(1<<40), binary.NativeEndian.Uint64(b[256:]))
	require.Equal(t, uint64(4096), binary.NativeEndian.Uint64(b[264:]))
	require.Equal(t, uint64(1700000000), binary.NativeEndian.Uint64(b[344:]))

	require.Equal(t, int64(1<<40-4096), r.WrittenBytes())
	require.Equal(t, "batch", r.Sched.String())
}

func TestRecordLength(t *testing.T) {
	for _, size := range []int{0, RecordSize - 1, RecordSize + 1, 2 * RecordSize} {
		_, err := Decode(make([]byte, size), false)
		var perr *ProtocolError
		require.True(t, errors.As(err, &perr), "size %d: unexpected error %v", size, err)
	}
}

func TestRecordVersion(t *testing.T) {
	b := make([]byte, RecordSize)
	binary.NativeEndian.PutUint16(b, MinRecordVersion-1)

	_, err := Decode(b, true)
	require.Error(t, err)

	r, err := Decode(b, false)
	require.NoError(t, err)
	require.Equal(t, uint16(MinRecordVersion-1), r.Version)

	r, err = Decode(make([]byte, RecordSize), false)
	require.NoError(t, err)
	require.Zero(t, r.Version)
}

func TestRecordCommTooLong(t *testing.T) {
	r := &Record{Version: MinRecordVersion, Comm: strings.Repeat("y", CommLen+1)}
	_, err := r.Encode()
	require.Error(t, err)
}
