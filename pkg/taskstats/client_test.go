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
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/intel/ioprio-balancer/pkg/netlink"
)

// fakeTransport answers requests with canned replies.
type fakeTransport struct {
	requests []*CommandMessage
	reply    func(cmd *CommandMessage) ([]netlink.Message, error)
	notify   chan netlink.Message
}

func newFakeTransport(reply func(*CommandMessage) ([]netlink.Message, error)) *fakeTransport {
	return &fakeTransport{reply: reply, notify: make(chan netlink.Message, 8)}
}

func (f *fakeTransport) Request(_ context.Context, cmd uint8, data []byte) ([]netlink.Message, error) {
	if cmd != CmdGet {
		return nil, errors.Errorf("unexpected command %d", cmd)
	}
	req, err := DecodeCommand(data)
	if err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req)
	return f.reply(req)
}

func (f *fakeTransport) Notifications() <-chan netlink.Message { return f.notify }
func (f *fakeTransport) Dropped() uint64                       { return 0 }
func (f *fakeTransport) Close() error                          { return nil }

func u32(v uint32) *uint32 { return &v }

func record(t *testing.T, version uint16, pid uint32, written, cancelled uint64) []byte {
	r := &Record{
		Version:             version,
		PID:                 pid,
		PPID:                1,
		Comm:                "writer",
		WriteBytes:          written,
		CancelledWriteBytes: cancelled,
	}
	b, err := r.Encode()
	require.NoError(t, err)
	return b
}

func reply(t *testing.T, cmd uint8, m *Message) netlink.Message {
	data, err := m.Encode()
	require.NoError(t, err)
	return netlink.Message{
		Header:  netlink.Header{Type: 0x17},
		Command: cmd,
		Version: 1,
		Data:    data,
	}
}

func TestMessagePresence(t *testing.T) {
	tcases := []struct {
		name string
		msg  *Message
	}{
		{
			name: "empty",
			msg:  &Message{},
		},
		{
			name: "zero pid is present",
			msg:  &Message{Pid: u32(0)},
		},
		{
			name: "exit event",
			msg: &Message{
				AggrPid:  &Message{Pid: u32(10), Stats: []byte{1, 2, 3}},
				AggrTgid: &Message{Tgid: u32(9), Stats: []byte{4}},
			},
		},
		{
			name: "null marker",
			msg:  &Message{Tgid: u32(5), Null: true},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.msg.Encode()
			require.NoError(t, err)
			decoded, err := DecodeMessage(data)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.msg, decoded); diff != "" {
				t.Errorf("unexpected round-trip result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandMessage(t *testing.T) {
	mask := "0-3"
	data, err := (&CommandMessage{Pid: u32(7), RegisterCPUMask: &mask}).Encode()
	require.NoError(t, err)

	cmd, err := DecodeCommand(data)
	require.NoError(t, err)
	require.Equal(t, uint32(7), *cmd.Pid)
	require.Nil(t, cmd.Tgid)
	require.Equal(t, "0-3", *cmd.RegisterCPUMask)
	require.Nil(t, cmd.DeregisterCPUMask)
}

func TestGetTask(t *testing.T) {
	tcases := []struct {
		name     string
		replies  func(t *testing.T, pid uint32) []netlink.Message
		err      error
		protocol bool
	}{
		{
			name: "ok",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return []netlink.Message{reply(t, CmdNew, &Message{
					AggrPid: &Message{Pid: &pid, Stats: record(t, 10, pid, 100, 20)},
				})}
			},
		},
		{
			name: "vanished",
			err:  syscall.ESRCH,
		},
		{
			name: "no replies",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return nil
			},
			protocol: true,
		},
		{
			name: "two replies",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				m := reply(t, CmdNew, &Message{AggrPid: &Message{Pid: &pid, Stats: record(t, 10, pid, 0, 0)}})
				return []netlink.Message{m, m}
			},
			protocol: true,
		},
		{
			name: "no aggregate",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return []netlink.Message{reply(t, CmdNew, &Message{Pid: &pid})}
			},
			protocol: true,
		},
		{
			name: "wrong aggregate pid",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return []netlink.Message{reply(t, CmdNew, &Message{
					AggrPid: &Message{Pid: u32(pid + 1), Stats: record(t, 10, pid, 0, 0)},
				})}
			},
			protocol: true,
		},
		{
			name: "wrong record pid",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return []netlink.Message{reply(t, CmdNew, &Message{
					AggrPid: &Message{Pid: &pid, Stats: record(t, 10, pid+1, 0, 0)},
				})}
			},
			protocol: true,
		},
		{
			name: "old record",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return []netlink.Message{reply(t, CmdNew, &Message{
					AggrPid: &Message{Pid: &pid, Stats: record(t, 9, pid, 0, 0)},
				})}
			},
			protocol: true,
		},
		{
			name: "short record",
			replies: func(t *testing.T, pid uint32) []netlink.Message {
				return []netlink.Message{reply(t, CmdNew, &Message{
					AggrPid: &Message{Pid: &pid, Stats: record(t, 10, pid, 0, 0)[:RecordSize-8]},
				})}
			},
			protocol: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ft := newFakeTransport(func(cmd *CommandMessage) ([]netlink.Message, error) {
				require.NotNil(t, cmd.Pid)
				require.Nil(t, cmd.Tgid)
				if tc.err != nil {
					return nil, tc.err
				}
				return tc.replies(t, *cmd.Pid), nil
			})
			c := &Client{t: ft}

			r, err := c.GetTask(context.Background(), 1234)
			switch {
			case tc.err != nil:
				require.ErrorIs(t, err, tc.err)
			case tc.protocol:
				var perr *ProtocolError
				require.True(t, errors.As(err, &perr), "unexpected error %v", err)
			default:
				require.NoError(t, err)
				require.Equal(t, uint32(1234), r.PID)
				require.Equal(t, int64(80), r.WrittenBytes())
			}
		})
	}
}

func TestGetProcess(t *testing.T) {
	for _, wirePid := range []uint32{0, 77} {
		ft := newFakeTransport(func(cmd *CommandMessage) ([]netlink.Message, error) {
			require.NotNil(t, cmd.Tgid)
			return []netlink.Message{reply(t, CmdNew, &Message{
				AggrTgid: &Message{Tgid: cmd.Tgid, Stats: record(t, 10, wirePid, 500, 0)},
			})}, nil
		})
		c := &Client{t: ft}

		r, err := c.GetProcess(context.Background(), 77)
		require.NoError(t, err)
		require.Equal(t, uint32(77), r.PID)
		require.Equal(t, uint64(500), r.WriteBytes)
	}

	for _, version := range []uint16{0, MinRecordVersion - 1} {
		ft := newFakeTransport(func(cmd *CommandMessage) ([]netlink.Message, error) {
			return []netlink.Message{reply(t, CmdNew, &Message{
				AggrTgid: &Message{Tgid: cmd.Tgid, Stats: record(t, version, 77, 500, 0)},
			})}, nil
		})
		_, err := (&Client{t: ft}).GetProcess(context.Background(), 77)
		var perr *ProtocolError
		require.True(t, errors.As(err, &perr), "version %d: unexpected error %v", version, err)
	}

	ft := newFakeTransport(func(cmd *CommandMessage) ([]netlink.Message, error) {
		return []netlink.Message{reply(t, CmdNew, &Message{
			AggrTgid: &Message{Tgid: cmd.Tgid, Stats: record(t, 10, 78, 0, 0)},
		})}, nil
	})
	_, err := (&Client{t: ft}).GetProcess(context.Background(), 77)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "unexpected error %v", err)
}

func TestCPUMaskRegistration(t *testing.T) {
	ft := newFakeTransport(func(cmd *CommandMessage) ([]netlink.Message, error) {
		return nil, nil
	})
	c := &Client{t: ft}

	require.NoError(t, c.RegisterCPUMask(context.Background(), "0-7"))
	require.NoError(t, c.DeregisterCPUMask(context.Background(), "0-7"))

	require.Len(t, ft.requests, 2)
	require.Equal(t, "0-7", *ft.requests[0].RegisterCPUMask)
	require.Nil(t, ft.requests[0].DeregisterCPUMask)
	require.Equal(t, "0-7", *ft.requests[1].DeregisterCPUMask)
	require.Nil(t, ft.requests[1].RegisterCPUMask)
}

func TestDecodeExitEvent(t *testing.T) {
	tcases := []struct {
		name     string
		cmd      uint8
		msg      func(t *testing.T) *Message
		process  bool
		protocol bool
	}{
		{
			name: "single task",
			cmd:  CmdNew,
			msg: func(t *testing.T) *Message {
				return &Message{AggrPid: &Message{Pid: u32(101), Stats: record(t, 10, 101, 10, 0)}}
			},
		},
		{
			name: "last thread, zero pid trailer",
			cmd:  CmdNew,
			msg: func(t *testing.T) *Message {
				return &Message{
					AggrPid:  &Message{Pid: u32(101), Stats: record(t, 10, 101, 10, 0)},
					AggrTgid: &Message{Tgid: u32(100), Stats: record(t, 0, 0, 0, 0)},
				}
			},
			process: true,
		},
		{
			name: "last thread, tgid trailer",
			cmd:  CmdNew,
			msg: func(t *testing.T) *Message {
				return &Message{
					AggrPid:  &Message{Pid: u32(101), Stats: record(t, 10, 101, 10, 0)},
					AggrTgid: &Message{Tgid: u32(100), Stats: record(t, 10, 100, 0, 0)},
				}
			},
			process: true,
		},
		{
			name: "trailer with foreign pid",
			cmd:  CmdNew,
			msg: func(t *testing.T) *Message {
				return &Message{
					AggrPid:  &Message{Pid: u32(101), Stats: record(t, 10, 101, 10, 0)},
					AggrTgid: &Message{Tgid: u32(100), Stats: record(t, 10, 55, 0, 0)},
				}
			},
			protocol: true,
		},
		{
			name: "trailer without tgid",
			cmd:  CmdNew,
			msg: func(t *testing.T) *Message {
				return &Message{
					AggrPid:  &Message{Pid: u32(101), Stats: record(t, 10, 101, 10, 0)},
					AggrTgid: &Message{Stats: record(t, 0, 0, 0, 0)},
				}
			},
			protocol: true,
		},
		{
			name: "missing task aggregate",
			cmd:  CmdNew,
			msg: func(t *testing.T) *Message {
				return &Message{AggrTgid: &Message{Tgid: u32(100), Stats: record(t, 0, 0, 0, 0)}}
			},
			protocol: true,
		},
		{
			name: "unexpected command",
			cmd:  CmdGet,
			msg: func(t *testing.T) *Message {
				return &Message{AggrPid: &Message{Pid: u32(101), Stats: record(t, 10, 101, 10, 0)}}
			},
			protocol: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			m := reply(t, tc.cmd, tc.msg(t))
			e, err := DecodeExitEvent(&m)
			if tc.protocol {
				var perr *ProtocolError
				require.True(t, errors.As(err, &perr), "unexpected error %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, uint32(101), e.Task.PID)
			if !tc.process {
				require.Nil(t, e.Process)
				return
			}
			require.NotNil(t, e.Process)
			require.Equal(t, uint32(100), e.Process.PID)
		})
	}
}

func TestEvents(t *testing.T) {
	ft := newFakeTransport(nil)
	c := &Client{t: ft}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Events(ctx)

	ft.notify <- reply(t, CmdNew, &Message{AggrPid: &Message{Pid: u32(5), Stats: record(t, 10, 5, 0, 0)}})
	ft.notify <- reply(t, CmdNew, &Message{Pid: u32(5)})
	close(ft.notify)

	var received []ExitEvent
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-events:
			if !ok {
				done = true
				break
			}
			received = append(received, e)
		case <-timeout:
			t.Fatal("timeout waiting for events")
		}
	}

	require.Len(t, received, 2)
	require.NoError(t, received[0].Err)
	require.Equal(t, uint32(5), received[0].Task.PID)
	require.Error(t, received[1].Err)
}
