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

// Package monitor implements the process tree monitor. The monitor
// periodically samples the per-thread I/O accounting of every process,
// keeps a decayed disk write bandwidth estimate for each process, and
// demotes the I/O priority of the process subtree which hogs the disk
// until its bandwidth drops back to an acceptable level.
//
// The tree and the throttling state are owned by the goroutine running
// the monitor. Observers can only read the Status snapshot published at
// the end of every tick.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/ioprio-balancer/pkg/config"
	"github.com/intel/ioprio-balancer/pkg/ioprio"
	logger "github.com/intel/ioprio-balancer/pkg/log"
	"github.com/intel/ioprio-balancer/pkg/metricsring"
	"github.com/intel/ioprio-balancer/pkg/taskstats"
)

const (
	// diagnosticInterval limits the rate of repetitive diagnostics.
	diagnosticInterval = 30 * time.Second
	// historyLength is the number of ticks kept in the history.
	historyLength = 30
)

var log logger.Logger = logger.NewLogger("monitor")

// Fetcher fetches the accounting record of a single task.
type Fetcher interface {
	GetTask(ctx context.Context, pid uint32) (*taskstats.Record, error)
}

// ProcessLister lists processes and their threads.
type ProcessLister interface {
	ListPids() ([]uint32, error)
	ListTids(pid uint32) ([]uint32, error)
	ReadPPID(pid uint32) (uint32, error)
}

// PrioritySetter sets the I/O priority of a process.
type PrioritySetter interface {
	SetPriority(pid uint32, prio ioprio.Priority) error
}

// Monitor tracks the process tree and balances disk write bandwidth.
type Monitor struct {
	opts     *config.Options
	alpha    float64 // smoothing factor of bandwidth estimates
	diskMBps float64

	fetcher Fetcher
	procs   ProcessLister
	setter  PrioritySetter

	tree     map[uint32]*node
	offender uint32
	last     time.Time
	now      func() time.Time

	counters  counters
	cycles    *metricsring.MetricsRing // tick durations, seconds
	bandwidth *metricsring.MetricsRing // total bandwidth estimates, MBps
	status    atomic.Pointer[Status]

	// rate-limited loggers for repetitive diagnostics
	slow logger.Logger
	aggr logger.Logger
}

// counters are cumulative monitor event counts.
type counters struct {
	ticks       uint64
	slowTicks   uint64
	throttles   uint64
	restores    uint64
	aggrErrors  uint64
	vanished    uint64
	fetchErrors uint64
}

// New creates a monitor with the given configuration.
func New(opts *config.Options, fetcher Fetcher, procs ProcessLister, setter PrioritySetter) (*Monitor, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "monitor: invalid configuration")
	}

	m := &Monitor{
		opts:      opts,
		alpha:     opts.Alpha(),
		diskMBps:  opts.DiskBandwidthMBps(),
		fetcher:   fetcher,
		procs:     procs,
		setter:    setter,
		tree:      make(map[uint32]*node),
		now:       time.Now,
		cycles:    metricsring.NewMetricsRing(historyLength),
		bandwidth: metricsring.NewMetricsRing(historyLength),
		slow:      logger.RateLimit(log, logger.Interval(diagnosticInterval)),
		aggr:      logger.RateLimit(log, logger.Interval(diagnosticInterval)),
	}
	m.status.Store(&Status{})

	return m, nil
}

// Populate builds the initial process tree. It must be called once
// before the monitor is started.
func (m *Monitor) Populate(ctx context.Context) error {
	log.Info("populating the process tree...")

	m.last = m.now()
	s, err := m.sample(ctx)
	if err != nil {
		return err
	}
	for pid, p := range s.processes {
		m.tree[pid] = newNode(p)
	}
	m.rebuildChildren()
	m.publish(0)

	log.Info("tracking %d processes", len(m.tree))
	return nil
}

// Run runs the control loop until the context is cancelled or a tick
// fails. Cancellation is not an error.
func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(m.opts.SampleInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("balancing disk bandwidth (%.1f MBps) every %s", m.diskMBps, interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Tick runs a single sample-reconcile-enforce cycle.
func (m *Monitor) Tick(ctx context.Context) error {
	start := m.now()
	elapsed := start.Sub(m.last)
	m.last = start

	interval := time.Duration(m.opts.SampleInterval)
	if float64(elapsed) > float64(interval)*m.opts.WarnThreshold {
		m.counters.slowTicks++
		m.slow.Warn("loop cycle took %s more than the %s interval", elapsed-interval, interval)
	}

	s, err := m.sample(ctx)
	if err != nil {
		return err
	}

	m.reconcile(s, elapsed)
	m.rebuildChildren()

	if err := m.enforce(ctx); err != nil {
		return err
	}

	took := m.now().Sub(start)
	m.counters.ticks++
	m.cycles.Push(took.Seconds(), start)
	m.bandwidth.Push(m.totalBandwidth(), start)
	m.publish(took)

	return nil
}

// Restore restores the priority of the throttled subtree, if any.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.offender == 0 {
		return nil
	}

	pid := m.offender
	log.Debug("restoring I/O priority of process subtree %d", pid)
	if err := m.applyPriority(ctx, m.opts.RestorePriority, pid); err != nil {
		return err
	}
	m.offender = 0
	m.counters.restores++

	return nil
}

// Offender returns the root of the throttled subtree, or 0 if none.
func (m *Monitor) Offender() uint32 {
	return m.offender
}
