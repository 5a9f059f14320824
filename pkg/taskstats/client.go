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

// Package taskstats implements a client for the kernel per-task and
// per-process accounting interface.
package taskstats

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	logger "github.com/intel/ioprio-balancer/pkg/log"
	"github.com/intel/ioprio-balancer/pkg/netlink"
)

var log logger.Logger = logger.NewLogger("taskstats")

// transport is the netlink connection used by a Client.
type transport interface {
	Request(ctx context.Context, cmd uint8, data []byte) ([]netlink.Message, error)
	Notifications() <-chan netlink.Message
	Dropped() uint64
	Close() error
}

// Client talks to the taskstats family over a single socket. A socket
// has at most one request in flight; concurrent calls are serialized.
type Client struct {
	t transport
}

// Open opens a client on a new socket.
func Open(ctx context.Context, opts ...netlink.Option) (*Client, error) {
	conn, err := netlink.Dial(ctx, FamilyName, FamilyMinVersion, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{t: conn}, nil
}

// Close closes the client socket.
func (c *Client) Close() error {
	return c.t.Close()
}

// GetTask fetches the accounting record of a single task (thread).
func (c *Client) GetTask(ctx context.Context, pid uint32) (*Record, error) {
	msg, err := c.get(ctx, &CommandMessage{Pid: &pid})
	if err != nil {
		return nil, errors.Wrapf(err, "taskstats: failed to get task %d", pid)
	}

	if msg.AggrPid == nil {
		return nil, protocolError("reply for task %d has no per-task aggregate", pid)
	}
	if msg.AggrPid.Pid == nil || *msg.AggrPid.Pid != pid {
		return nil, protocolError("reply for task %d carries pid %s", pid, fmtPtr(msg.AggrPid.Pid))
	}

	r, err := decodeStats(msg.AggrPid, true)
	if err != nil {
		return nil, err
	}
	if r.PID != pid {
		return nil, protocolError("record for task %d has pid %d", pid, r.PID)
	}

	return r, nil
}

// GetProcess fetches the accounting record summed over all threads of a
// process. The kernel leaves the identity fields of such records unset,
// except possibly the pid, which is set to the tgid.
func (c *Client) GetProcess(ctx context.Context, tgid uint32) (*Record, error) {
	msg, err := c.get(ctx, &CommandMessage{Tgid: &tgid})
	if err != nil {
		return nil, errors.Wrapf(err, "taskstats: failed to get process %d", tgid)
	}

	if msg.AggrTgid == nil {
		return nil, protocolError("reply for process %d has no per-process aggregate", tgid)
	}
	if msg.AggrTgid.Tgid == nil || *msg.AggrTgid.Tgid != tgid {
		return nil, protocolError("reply for process %d carries tgid %s", tgid, fmtPtr(msg.AggrTgid.Tgid))
	}

	return decodeProcessStats(msg.AggrTgid, tgid, true)
}

// RegisterCPUMask subscribes this socket to exit events of tasks on the
// given CPUs, for instance "0-7".
func (c *Client) RegisterCPUMask(ctx context.Context, cpus string) error {
	return c.command(ctx, &CommandMessage{RegisterCPUMask: &cpus})
}

// DeregisterCPUMask cancels an exit event subscription.
func (c *Client) DeregisterCPUMask(ctx context.Context, cpus string) error {
	return c.command(ctx, &CommandMessage{DeregisterCPUMask: &cpus})
}

// Dropped returns the number of exit events lost due to a full queue.
func (c *Client) Dropped() uint64 {
	return c.t.Dropped()
}

func (c *Client) command(ctx context.Context, cmd *CommandMessage) error {
	req, err := cmd.Encode()
	if err != nil {
		return err
	}
	replies, err := c.t.Request(ctx, CmdGet, req)
	if err != nil {
		return errors.Wrap(err, "taskstats: command failed")
	}
	if len(replies) != 0 {
		return protocolError("expected no replies to command, got %d", len(replies))
	}
	return nil
}

func (c *Client) get(ctx context.Context, cmd *CommandMessage) (*Message, error) {
	req, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	replies, err := c.t.Request(ctx, CmdGet, req)
	if err != nil {
		return nil, err
	}
	if len(replies) != 1 {
		return nil, protocolError("expected a single reply, got %d", len(replies))
	}
	return DecodeMessage(replies[0].Data)
}

func decodeStats(m *Message, verify bool) (*Record, error) {
	if m.Stats == nil {
		return nil, protocolError("aggregate has no accounting record")
	}
	return Decode(m.Stats, verify)
}

// decodeProcessStats decodes a per-process record, filling in its pid.
// The kernel may leave the pid unset. Only the trailer of an exit event
// also leaves the version unset, so verify it everywhere else.
func decodeProcessStats(m *Message, tgid uint32, verify bool) (*Record, error) {
	r, err := decodeStats(m, verify)
	if err != nil {
		return nil, err
	}
	if r.PID != 0 && r.PID != tgid {
		return nil, protocolError("record for process %d has pid %d", tgid, r.PID)
	}
	r.PID = tgid
	return r, nil
}

func fmtPtr(p *uint32) string {
	if p == nil {
		return "<none>"
	}
	return strconv.FormatUint(uint64(*p), 10)
}
