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

const bytesPerMB = 1e6

// node is the tracked state of a process.
type node struct {
	parent       uint32
	children     []uint32
	writtenBytes int64
	bandwidth    float64 // decayed write bandwidth estimate, MBps
	command      string
}

// Score is the score of a process subtree.
type Score struct {
	Pid   uint32
	Score float64
}

func newNode(p *ProcessData) *node {
	return &node{
		parent:       p.Parent,
		writtenBytes: p.WrittenBytes,
		command:      p.Command,
	}
}

// reconcile updates the tree with a new sample. Processes missing from
// the sample are removed, except the ones which failed to aggregate.
func (m *Monitor) reconcile(s *sampled, elapsed time.Duration) {
	for pid := range m.tree {
		if _, ok := s.processes[pid]; ok {
			continue
		}
		if _, ok := s.failed[pid]; ok {
			continue
		}
		delete(m.tree, pid)
	}

	if m.offender != 0 {
		if _, ok := m.tree[m.offender]; !ok {
			log.Info("throttled process %d is gone", m.offender)
			m.offender = 0
		}
	}

	millis := float64(elapsed) / float64(time.Millisecond)
	for pid, p := range s.processes {
		n, ok := m.tree[pid]
		if !ok {
			m.tree[pid] = newNode(p)
			continue
		}

		n.parent = p.Parent
		if p.Command != "" {
			n.command = p.Command
		}

		delta := p.WrittenBytes - n.writtenBytes
		n.writtenBytes = p.WrittenBytes
		if millis <= 0 {
			continue
		}
		instant := float64(delta) / millis * 1000 / bytesPerMB
		n.bandwidth += m.alpha * (instant - n.bandwidth)
	}
}

// rebuildChildren recomputes the children of every node.
func (m *Monitor) rebuildChildren() {
	for _, n := range m.tree {
		n.children = n.children[:0]
	}
	for pid, n := range m.tree {
		if n.parent == pid {
			continue
		}
		if parent, ok := m.tree[n.parent]; ok {
			parent.children = append(parent.children, pid)
		}
	}
	for _, n := range m.tree {
		sort.Slice(n.children, func(i, j int) bool { return n.children[i] < n.children[j] })
	}
}

// findOffender returns the highest scoring process of the subtree
// rooted at pid. The score of a process is its own bandwidth plus the
// scores of its children weighted by the parent factor. On ties the
// process found first wins.
func (m *Monitor) findOffender(pid uint32) (Score, bool) {
	if _, ok := m.tree[pid]; !ok {
		return Score{}, false
	}
	_, best := m.score(pid, map[uint32]struct{}{})
	return best, true
}

// score returns the score of pid and the best score within its subtree.
func (m *Monitor) score(pid uint32, seen map[uint32]struct{}) (float64, Score) {
	seen[pid] = struct{}{}
	n := m.tree[pid]

	var (
		best     Score
		found    bool
		children float64
	)
	for _, child := range n.children {
		if _, ok := seen[child]; ok {
			continue
		}
		s, b := m.score(child, seen)
		children += s
		if !found || b.Score > best.Score {
			best, found = b, true
		}
	}

	own := n.bandwidth + m.opts.ParentFactor*children
	if !found || own > best.Score {
		best = Score{Pid: pid, Score: own}
	}

	return own, best
}
