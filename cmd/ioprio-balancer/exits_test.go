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

package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/intel/ioprio-balancer/pkg/taskstats"
)

func TestExitStats(t *testing.T) {
	s := newExitStats(func() uint64 { return 7 })

	events := make(chan taskstats.ExitEvent, 3)
	events <- taskstats.ExitEvent{
		Task: &taskstats.Record{PID: 10, Comm: "sh", WriteBytes: 4096, CancelledWriteBytes: 1024},
	}
	events <- taskstats.ExitEvent{
		Task:    &taskstats.Record{PID: 12, Comm: "worker", WriteBytes: 100},
		Process: &taskstats.Record{PID: 11, WriteBytes: 100},
	}
	events <- taskstats.ExitEvent{Err: errors.New("malformed")}
	close(events)

	s.consume(context.Background(), events)

	require.Equal(t, 2.0, testutil.ToFloat64(s.tasks))
	require.Equal(t, 1.0, testutil.ToFloat64(s.processes))
	require.Equal(t, 3172.0, testutil.ToFloat64(s.written))
	require.Equal(t, 1.0, testutil.ToFloat64(s.invalid))
	require.Equal(t, 7.0, testutil.ToFloat64(s.dropped))
	require.Equal(t, 5, testutil.CollectAndCount(s))
}
