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
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/ioprio-balancer/pkg/metrics"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	processesDesc = iota
	bandwidthDesc
	rootScoreDesc
	offenderDesc
	writerDesc
	tickDurationDesc
	ticksDesc
	eventsDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	processesDesc: prometheus.NewDesc(
		metrics.Namespace+"_processes",
		"Number of tracked processes.",
		nil, nil,
	),
	bandwidthDesc: prometheus.NewDesc(
		metrics.Namespace+"_write_bandwidth_mbps",
		"Sum of the write bandwidth estimates of all processes.",
		nil, nil,
	),
	rootScoreDesc: prometheus.NewDesc(
		metrics.Namespace+"_root_score_mbps",
		"Score of the whole process tree.",
		nil, nil,
	),
	offenderDesc: prometheus.NewDesc(
		metrics.Namespace+"_offender_score_mbps",
		"Score of the throttled process subtree.",
		[]string{
			"pid",
			"command",
		}, nil,
	),
	writerDesc: prometheus.NewDesc(
		metrics.Namespace+"_top_writer_mbps",
		"Write bandwidth estimate of the top writing processes.",
		[]string{
			"pid",
			"command",
		}, nil,
	),
	tickDurationDesc: prometheus.NewDesc(
		metrics.Namespace+"_tick_duration_seconds",
		"Duration of the latest control loop tick and its moving average.",
		[]string{
			"type",
		}, nil,
	),
	ticksDesc: prometheus.NewDesc(
		metrics.Namespace+"_ticks_total",
		"Number of control loop ticks.",
		[]string{
			"type",
		}, nil,
	),
	eventsDesc: prometheus.NewDesc(
		metrics.Namespace+"_monitor_events_total",
		"Number of monitor events by type.",
		[]string{
			"type",
		}, nil,
	),
}

type collector struct {
	m *Monitor
}

// NewCollector creates a prometheus collector for the monitor status.
func NewCollector(m *Monitor) prometheus.Collector {
	return &collector{m: m}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Status()

	gauge := func(desc int, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(descriptors[desc], prometheus.GaugeValue, value, labels...)
	}
	counter := func(desc int, value uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(descriptors[desc], prometheus.CounterValue, float64(value), labels...)
	}

	gauge(processesDesc, float64(s.Processes))
	gauge(bandwidthDesc, s.Bandwidth)
	gauge(rootScoreDesc, s.RootScore)
	if s.Offender.Pid != 0 {
		gauge(offenderDesc, s.Offender.Score, pidLabel(s.Offender.Pid), commandLabel(s.OffenderCommand))
	}
	for _, w := range s.TopWriters {
		gauge(writerDesc, w.Bandwidth, pidLabel(w.Pid), commandLabel(w.Command))
	}

	gauge(tickDurationDesc, s.TickDuration.Seconds(), "latest")
	gauge(tickDurationDesc, s.AvgTickDuration.Seconds(), "average")

	counter(ticksDesc, s.Ticks, "all")
	counter(ticksDesc, s.SlowTicks, "slow")

	counter(eventsDesc, s.Throttles, "throttle")
	counter(eventsDesc, s.Restores, "restore")
	counter(eventsDesc, s.AggregationErrors, "aggregation-error")
	counter(eventsDesc, s.VanishedTasks, "vanished-task")
	counter(eventsDesc, s.FetchErrors, "fetch-error")
}

func pidLabel(pid uint32) string {
	return strconv.FormatUint(uint64(pid), 10)
}

// commandLabel makes a command name usable as a label value.
func commandLabel(command string) string {
	return strings.ToValidUTF8(command, "?")
}
