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

package monitor

import (
	"sort"
	"time"
)

// topCount is the number of top writers reported in a Status.
const topCount = 5

// Status is a snapshot of the monitor state, taken at the end of a tick.
type Status struct {
	Time         time.Time
	TickDuration time.Duration
	Processes    int
	// Bandwidth is the sum of all bandwidth estimates, in MBps.
	Bandwidth float64
	// RootScore is the score of the whole tree.
	RootScore float64
	// Offender is the throttled subtree, Pid 0 if none.
	Offender        Score
	OffenderCommand string
	// TopWriters are the processes with the highest own bandwidth.
	TopWriters []Writer
	// BandwidthHistory is the total bandwidth of the latest ticks, oldest first.
	BandwidthHistory []float64
	// AvgTickDuration is the moving average of tick durations.
	AvgTickDuration time.Duration

	Ticks             uint64
	SlowTicks         uint64
	Throttles         uint64
	Restores          uint64
	AggregationErrors uint64
	VanishedTasks     uint64
	FetchErrors       uint64
}

// Writer is the write bandwidth estimate of a single process.
type Writer struct {
	Pid       uint32
	Command   string
	Bandwidth float64
}

// Status returns the latest published snapshot. It is safe to call from
// any goroutine.
func (m *Monitor) Status() *Status {
	return m.status.Load()
}

func (m *Monitor) publish(tick time.Duration) {
	s := &Status{
		Time:              m.now(),
		TickDuration:      tick,
		Processes:         len(m.tree),
		Ticks:             m.counters.ticks,
		SlowTicks:         m.counters.slowTicks,
		Throttles:         m.counters.throttles,
		Restores:          m.counters.restores,
		AggregationErrors: m.counters.aggrErrors,
		VanishedTasks:     m.counters.vanished,
		FetchErrors:       m.counters.fetchErrors,
		Bandwidth:         m.totalBandwidth(),
		BandwidthHistory:  m.bandwidth.Last(historyLength),
		AvgTickDuration:   time.Duration(m.cycles.EWMA() * float64(time.Second)),
	}

	writers := make([]Writer, 0, len(m.tree))
	for pid, n := range m.tree {
		writers = append(writers, Writer{Pid: pid, Command: n.command, Bandwidth: n.bandwidth})
	}
	sort.Slice(writers, func(i, j int) bool {
		if writers[i].Bandwidth != writers[j].Bandwidth {
			return writers[i].Bandwidth > writers[j].Bandwidth
		}
		return writers[i].Pid < writers[j].Pid
	})
	if len(writers) > topCount {
		writers = writers[:topCount]
	}
	s.TopWriters = writers

	if _, ok := m.tree[m.opts.RootPid]; ok {
		s.RootScore, _ = m.score(m.opts.RootPid, map[uint32]struct{}{})
	}
	if m.offender != 0 {
		s.Offender, _ = m.findOffender(m.offender)
		s.Offender.Pid = m.offender
		if n, ok := m.tree[m.offender]; ok {
			s.OffenderCommand = n.command
		}
	}

	m.status.Store(s)
}

func (m *Monitor) totalBandwidth() float64 {
	total := 0.0
	for _, n := range m.tree {
		total += n.bandwidth
	}
	return total
}
