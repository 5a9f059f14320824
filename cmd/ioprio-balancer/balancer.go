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
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/ioprio-balancer/pkg/config"
	"github.com/intel/ioprio-balancer/pkg/ioprio"
	"github.com/intel/ioprio-balancer/pkg/metrics"
	"github.com/intel/ioprio-balancer/pkg/monitor"
	"github.com/intel/ioprio-balancer/pkg/netlink"
	"github.com/intel/ioprio-balancer/pkg/procfs"
	"github.com/intel/ioprio-balancer/pkg/sysfs"
	"github.com/intel/ioprio-balancer/pkg/taskstats"
)

// balancer wires the monitor to the system.
type balancer struct {
	opts    *config.Options
	procs   *procfs.FS
	setter  ioprio.Setter
	pool    *taskstats.Pool
	events  *taskstats.Client // nil if exit events are disabled
	cpus    string            // CPUs registered for exit events
	exits   *exitStats
	monitor *monitor.Monitor
	metrics *metrics.Registry
}

func newBalancer(ctx context.Context, opts *config.Options) (*balancer, error) {
	procs, err := procfs.NewFS(opts.ProcRoot)
	if err != nil {
		return nil, err
	}

	b := &balancer{
		opts:    opts,
		procs:   procs,
		setter:  ioprio.Setter{Threads: procs.ListTids},
		metrics: metrics.NewRegistry(),
	}

	b.setOwnPriority()
	ioprio.CheckSchedulers()

	if err := b.open(ctx); err != nil {
		b.close()
		return nil, err
	}

	return b, nil
}

func (b *balancer) open(ctx context.Context) error {
	var err error

	b.pool, err = taskstats.OpenPool(ctx, b.opts.FetchSockets)
	if err != nil {
		return errors.Wrap(err, "failed to open taskstats sockets")
	}

	b.monitor, err = monitor.New(b.opts, b.pool, b.procs, b.setter)
	if err != nil {
		return err
	}
	err = b.metrics.RegisterCollector("monitor", func() (prometheus.Collector, error) {
		return monitor.NewCollector(b.monitor), nil
	})
	if err != nil {
		return err
	}

	if !b.opts.ExitEvents {
		return nil
	}

	b.events, err = taskstats.Open(ctx, netlink.WithReceiveBuffer(int(b.opts.EventBufferSize.Value())))
	if err != nil {
		return errors.Wrap(err, "failed to open taskstats event socket")
	}
	b.exits = newExitStats(b.events.Dropped)

	return b.metrics.RegisterCollector("exits", func() (prometheus.Collector, error) {
		return b.exits, nil
	})
}

// setOwnPriority demotes our own I/O priority. Failing to do so is not fatal.
func (b *balancer) setOwnPriority() {
	self := uint32(os.Getpid())
	if err := b.setter.SetPriority(self, b.opts.SelfPriority); err != nil {
		log.Warn("failed to set own I/O priority to %s: %v", b.opts.SelfPriority, err)
		return
	}
	log.Info("own I/O priority set to %s", b.opts.SelfPriority)
}

// run balances until ctx is cancelled or an error occurs, then restores
// the priority of any throttled processes.
func (b *balancer) run(ctx context.Context) error {
	if err := b.monitor.Populate(ctx); err != nil {
		return err
	}

	if b.events != nil {
		cpus := sysfs.ExitEventCPUs().String()
		if err := b.events.RegisterCPUMask(ctx, cpus); err != nil {
			return errors.Wrapf(err, "failed to register for exit events on CPUs %s", cpus)
		}
		b.cpus = cpus
		log.Info("tracking task exits on CPUs %s", cpus)
		go b.exits.consume(ctx, b.events.Events(ctx))
	}

	g, err := b.metrics.Gatherer()
	if err != nil {
		return err
	}
	stopDump := setupMetricsDump(syscall.SIGUSR2, g)
	defer stopDump()

	log.Info("balancer ready")
	err = b.monitor.Run(ctx)

	if rerr := b.monitor.Restore(context.Background()); rerr != nil {
		log.Error("failed to restore I/O priorities: %v", rerr)
		if err == nil {
			err = rerr
		}
	}

	return err
}

func (b *balancer) close() {
	if b.events != nil {
		if b.cpus != "" {
			if err := b.events.DeregisterCPUMask(context.Background(), b.cpus); err != nil {
				log.Warn("failed to deregister exit events: %v", err)
			}
		}
		b.events.Close()
		b.events = nil
	}
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			log.Warn("failed to close taskstats sockets: %v", err)
		}
		b.pool = nil
	}
}

// setupMetricsDump dumps all metrics to the log whenever sig is received.
func setupMetricsDump(sig os.Signal, g prometheus.Gatherer) func() {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sig)

	go func() {
		for {
			select {
			case <-ch:
				metrics.Dump(g)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
