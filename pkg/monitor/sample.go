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
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/intel/ioprio-balancer/pkg/procfs"
	"github.com/intel/ioprio-balancer/pkg/taskstats"
)

// ProcessData is the accounting of a process, aggregated over its threads.
type ProcessData struct {
	Pid          uint32
	Command      string
	Parent       uint32
	WrittenBytes int64
}

// AggregationError is returned when the threads of a process do not agree
// on the parent process.
type AggregationError struct {
	Pid     uint32
	Parents []uint32
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("process %d: threads disagree on parent process %v", e.Pid, e.Parents)
}

// sampled is the outcome of sampling all processes.
type sampled struct {
	processes map[uint32]*ProcessData
	// processes which failed to aggregate, kept as they are
	failed map[uint32]error
}

// taskResult is the outcome of fetching a single task.
type taskResult struct {
	pid    uint32
	tid    uint32
	record *taskstats.Record // nil if the task is gone
}

// pendingProcess collects the task records of a process.
type pendingProcess struct {
	remaining int
	records   map[uint32]*taskstats.Record
}

// sample fetches the accounting records of all threads of all processes.
// Fetches run concurrently, their results are aggregated here as they
// come in.
func (m *Monitor) sample(ctx context.Context) (*sampled, error) {
	pids, err := m.procs.ListPids()
	if err != nil {
		return nil, errors.Wrap(err, "monitor: failed to list processes")
	}

	pending := make(map[uint32]*pendingProcess, len(pids))
	tasks := make([]taskResult, 0, len(pids))
	for _, pid := range pids {
		tids, err := m.procs.ListTids(pid)
		if err != nil {
			if procfs.IsNoSuchProcess(err) {
				continue
			}
			return nil, errors.Wrapf(err, "monitor: failed to list threads of %d", pid)
		}
		if len(tids) == 0 {
			continue
		}
		pending[pid] = &pendingProcess{
			remaining: len(tids),
			records:   make(map[uint32]*taskstats.Record, len(tids)),
		}
		for _, tid := range tids {
			tasks = append(tasks, taskResult{pid: pid, tid: tid})
		}
	}

	results := make(chan taskResult, m.opts.FetchConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.FetchConcurrency)

	var fetchErr error
	go func() {
		defer close(results)
		for _, t := range tasks {
			if gctx.Err() != nil {
				break
			}
			t := t
			g.Go(func() error {
				rec, err := m.fetcher.GetTask(gctx, t.tid)
				switch {
				case err == nil:
					t.record = rec
				case procfs.IsNoSuchProcess(err):
				default:
					return errors.Wrapf(err, "monitor: failed to fetch task %d of process %d", t.tid, t.pid)
				}
				results <- t
				return nil
			})
		}
		fetchErr = g.Wait()
	}()

	s := &sampled{
		processes: make(map[uint32]*ProcessData, len(pending)),
		failed:    make(map[uint32]error),
	}
	for r := range results {
		p := pending[r.pid]
		p.remaining--
		if r.record != nil {
			p.records[r.tid] = r.record
		} else {
			m.counters.vanished++
		}
		if p.remaining > 0 || len(p.records) == 0 {
			continue
		}

		data, err := aggregate(r.pid, p.records)
		if err != nil {
			m.counters.aggrErrors++
			m.aggr.Warn("%v", err)
			s.failed[r.pid] = err
		} else {
			s.processes[r.pid] = data
		}
		delete(pending, r.pid)
	}

	if fetchErr != nil {
		m.counters.fetchErrors++
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "monitor: sampling interrupted")
	}

	return s, nil
}

// aggregate sums the written bytes of the threads of a process.
func aggregate(pid uint32, records map[uint32]*taskstats.Record) (*ProcessData, error) {
	tids := make([]uint32, 0, len(records))
	for tid := range records {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	p := &ProcessData{Pid: pid}
	for i, tid := range tids {
		r := records[tid]
		if i == 0 {
			p.Parent = r.PPID
		} else if r.PPID != p.Parent {
			return nil, &AggregationError{Pid: pid, Parents: parentsOf(tids, records)}
		}
		p.WrittenBytes += r.WrittenBytes()
	}

	if main, ok := records[pid]; ok {
		p.Command = main.Comm
	}

	return p, nil
}

func parentsOf(tids []uint32, records map[uint32]*taskstats.Record) []uint32 {
	parents := make([]uint32, 0, len(tids))
	for _, tid := range tids {
		parents = append(parents, records[tid].PPID)
	}
	return parents
}
