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

	"github.com/pkg/errors"

	"github.com/intel/ioprio-balancer/pkg/ioprio"
	"github.com/intel/ioprio-balancer/pkg/procfs"
)

// enforce throttles the worst offender or restores the throttled
// subtree once it has calmed down.
func (m *Monitor) enforce(ctx context.Context) error {
	if m.offender != 0 {
		best, _ := m.findOffender(m.offender)
		if best.Score >= m.opts.InnocentThreshold*m.diskMBps {
			return nil
		}
		log.Info("unrestricting process subtree %d (score %.2f MBps)", m.offender, best.Score)
		return m.Restore(ctx)
	}

	root := m.opts.RootPid
	best, ok := m.findOffender(root)
	if !ok {
		log.Debug("root process %d is not tracked", root)
		return nil
	}
	if best.Pid == root || best.Score <= m.opts.OffenderThreshold*m.diskMBps {
		return nil
	}

	log.Info("restricting process %d %q (score %.2f MBps)", best.Pid, m.tree[best.Pid].command, best.Score)
	m.offender = best.Pid
	m.counters.throttles++

	return m.applyPriority(ctx, m.opts.ThrottlePriority, best.Pid)
}

// applyPriority sets the priority of the given processes and all their
// descendants, breadth-first. Children are looked up from a fresh process
// listing at every level so that processes forked meanwhile are caught.
func (m *Monitor) applyPriority(ctx context.Context, prio ioprio.Priority, roots ...uint32) error {
	visited := make(map[uint32]struct{})
	frontier := roots

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "monitor: priority update interrupted")
		}

		level := make(map[uint32]struct{}, len(frontier))
		for _, pid := range frontier {
			visited[pid] = struct{}{}
			level[pid] = struct{}{}
			if err := m.setter.SetPriority(pid, prio); err != nil {
				if procfs.IsNoSuchProcess(err) {
					continue
				}
				return errors.Wrapf(err, "monitor: failed to set I/O priority of %d to %s", pid, prio)
			}
			log.Debug("I/O priority of %d set to %s", pid, prio)
		}

		pids, err := m.procs.ListPids()
		if err != nil {
			return errors.Wrap(err, "monitor: failed to list processes")
		}

		var next []uint32
		for _, pid := range pids {
			if _, ok := visited[pid]; ok {
				continue
			}
			parent, err := m.parentOf(pid)
			if err != nil {
				if procfs.IsNoSuchProcess(err) {
					continue
				}
				return err
			}
			if _, ok := level[parent]; ok {
				next = append(next, pid)
			}
		}
		frontier = next
	}

	return nil
}

// parentOf returns the parent of a process, from the tree if tracked.
func (m *Monitor) parentOf(pid uint32) (uint32, error) {
	if n, ok := m.tree[pid]; ok {
		return n.parent, nil
	}
	return m.procs.ReadPPID(pid)
}
