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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/ioprio-balancer/pkg/metrics"
	"github.com/intel/ioprio-balancer/pkg/taskstats"
)

// exitStats accounts for exited tasks.
type exitStats struct {
	tasks     prometheus.Counter
	processes prometheus.Counter
	written   prometheus.Counter
	invalid   prometheus.Counter
	dropped   prometheus.CounterFunc
}

func newExitStats(dropped func() uint64) *exitStats {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "exit",
			Name:      name,
			Help:      help,
		}
	}
	return &exitStats{
		tasks:     prometheus.NewCounter(opts("tasks_total", "Number of exited tasks.")),
		processes: prometheus.NewCounter(opts("processes_total", "Number of exited multithreaded processes.")),
		written:   prometheus.NewCounter(opts("written_bytes_total", "Bytes written to storage by exited tasks.")),
		invalid:   prometheus.NewCounter(opts("invalid_events_total", "Number of malformed exit events.")),
		dropped: prometheus.NewCounterFunc(opts("dropped_events_total", "Number of exit events lost to overflows."),
			func() float64 { return float64(dropped()) }),
	}
}

// Describe implements prometheus.Collector interface
func (s *exitStats) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range s.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector interface
func (s *exitStats) Collect(ch chan<- prometheus.Metric) {
	for _, c := range s.collectors() {
		c.Collect(ch)
	}
}

func (s *exitStats) collectors() []prometheus.Collector {
	return []prometheus.Collector{s.tasks, s.processes, s.written, s.invalid, s.dropped}
}

// consume accounts for exit events until the channel is closed.
func (s *exitStats) consume(ctx context.Context, events <-chan taskstats.ExitEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.account(e)
		}
	}
}

func (s *exitStats) account(e taskstats.ExitEvent) {
	if e.Err != nil {
		s.invalid.Inc()
		return
	}

	t := e.Task
	s.tasks.Inc()
	if written := t.WrittenBytes(); written > 0 {
		s.written.Add(float64(written))
	}
	log.Debug("task exited: tid %d %q uid %d, read %d, wrote %d bytes",
		t.PID, t.Comm, t.UID, t.ReadBytes, t.WriteBytes)

	if p := e.Process; p != nil {
		s.processes.Inc()
		log.Debug("  belonging to process %d, read %d, wrote %d bytes",
			p.PID, p.ReadBytes, p.WriteBytes)
	}
}
