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
	"context"

	"github.com/intel/ioprio-balancer/pkg/netlink"
)

// ExitEvent reports the exit of a task. Process is set only when the
// exiting task was the last thread of a multithreaded process.
type ExitEvent struct {
	Task    *Record
	Process *Record
	Err     error
}

// Events decodes exit events until ctx is done or the client is closed.
// Malformed events are delivered with Err set. The socket must have been
// subscribed with RegisterCPUMask to receive any events.
func (c *Client) Events(ctx context.Context) <-chan ExitEvent {
	events := make(chan ExitEvent)

	go func() {
		defer close(events)
		notifications := c.t.Notifications()
		for {
			var (
				m  netlink.Message
				ok bool
			)
			select {
			case m, ok = <-notifications:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}

			e, err := DecodeExitEvent(&m)
			if err != nil {
				log.Debug("invalid exit event: %v", err)
				e = ExitEvent{Err: err}
			}

			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events
}

// DecodeExitEvent decodes an exit event notification.
func DecodeExitEvent(m *netlink.Message) (ExitEvent, error) {
	if m.Command != CmdNew {
		return ExitEvent{}, protocolError("unexpected command %d in event", m.Command)
	}

	msg, err := DecodeMessage(m.Data)
	if err != nil {
		return ExitEvent{}, err
	}

	if msg.AggrPid == nil {
		return ExitEvent{}, protocolError("exit event has no per-task aggregate")
	}
	if msg.AggrPid.Pid == nil {
		return ExitEvent{}, protocolError("exit event has no pid")
	}
	pid := *msg.AggrPid.Pid

	task, err := decodeStats(msg.AggrPid, true)
	if err != nil {
		return ExitEvent{}, err
	}
	if task.PID != pid {
		return ExitEvent{}, protocolError("exit event for task %d has record for %d", pid, task.PID)
	}

	e := ExitEvent{Task: task}
	if msg.AggrTgid == nil {
		return e, nil
	}

	if msg.AggrTgid.Tgid == nil || *msg.AggrTgid.Tgid == 0 {
		return ExitEvent{}, protocolError("exit event for task %d has process aggregate without tgid", pid)
	}
	if e.Process, err = decodeProcessStats(msg.AggrTgid, *msg.AggrTgid.Tgid, false); err != nil {
		return ExitEvent{}, err
	}

	return e, nil
}
