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

package netlink

import (
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

const (
	// pollInterval bounds how long a blocked Receive takes to notice Close.
	pollInterval = 250 * time.Millisecond
	// kernelPort is the port ID of the kernel.
	kernelPort uint32 = 0
)

// sysSocket is a NETLINK_GENERIC socket in the current network namespace.
type sysSocket struct {
	s      *nl.NetlinkSocket
	port   uint32
	closed uint32
}

func openSocket(o *options) (socket, error) {
	s, err := nl.GetNetlinkSocketAt(netns.None(), netns.None(), unix.NETLINK_GENERIC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create socket")
	}

	if o.receiveBuffer > 0 {
		// SO_RCVBUFFORCE needs CAP_NET_ADMIN, fall back to the capped one
		err := unix.SetsockoptInt(s.GetFd(), unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, o.receiveBuffer)
		if err != nil {
			err = unix.SetsockoptInt(s.GetFd(), unix.SOL_SOCKET, unix.SO_RCVBUF, o.receiveBuffer)
		}
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "failed to set receive buffer to %d", o.receiveBuffer)
		}
	}

	tv := unix.NsecToTimeval(pollInterval.Nanoseconds())
	if err := s.SetReceiveTimeout(&tv); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to set receive timeout")
	}

	port, err := s.GetPid()
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to get socket port ID")
	}

	return &sysSocket{s: s, port: port}, nil
}

func (s *sysSocket) PortID() uint32 {
	return s.port
}

func (s *sysSocket) Send(req *nl.NetlinkRequest) error {
	if s.isClosed() {
		return os.ErrClosed
	}
	return s.s.Send(req)
}

func (s *sysSocket) Receive() ([]syscall.NetlinkMessage, error) {
	for {
		if s.isClosed() {
			return nil, os.ErrClosed
		}

		msgs, from, err := s.s.Receive()
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOBUFS):
			return nil, errOverrun
		case err != nil:
			if s.isClosed() {
				return nil, os.ErrClosed
			}
			return nil, err
		}

		if from.Pid != kernelPort {
			log.Debug("dropping datagram from port %d, not the kernel", from.Pid)
			continue
		}
		return msgs, nil
	}
}

func (s *sysSocket) Close() error {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		s.s.Close()
	}
	return nil
}

func (s *sysSocket) isClosed() bool {
	return atomic.LoadUint32(&s.closed) != 0
}
