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
	"syscall"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// Netlink message types below MinType are control messages.
const (
	TypeNoop  uint16 = unix.NLMSG_NOOP
	TypeError uint16 = unix.NLMSG_ERROR
	TypeDone  uint16 = unix.NLMSG_DONE
	MinType   uint16 = unix.NLMSG_MIN_TYPE
)

// Netlink message flags.
const (
	FlagRequest uint16 = unix.NLM_F_REQUEST
	FlagMulti   uint16 = unix.NLM_F_MULTI
	FlagAck     uint16 = unix.NLM_F_ACK
	FlagRoot    uint16 = unix.NLM_F_ROOT
	FlagMatch   uint16 = unix.NLM_F_MATCH
	FlagDump           = FlagRoot | FlagMatch
)

// Header is a netlink message header.
type Header struct {
	Length   uint32
	Type     uint16
	Flags    uint16
	Sequence uint32
	PortID   uint32
}

// Message is a netlink message. For generic netlink messages Command and
// Version carry the generic header and Data the attribute stream. For
// control messages Data is the raw payload.
type Message struct {
	Header  Header
	Command uint8
	Version uint8
	Data    []byte
}

// IsControl returns true for netlink control messages.
func (m *Message) IsControl() bool {
	return m.Header.Type < MinType
}

// ErrorCode returns the (negative errno) code of an error message,
// 0 for an acknowledgement.
func (m *Message) ErrorCode() int32 {
	if m.Header.Type != TypeError || len(m.Data) < 4 {
		return 0
	}
	return int32(nl.NativeEndian().Uint32(m.Data))
}

// newRequest builds a generic netlink request. The sequence number is
// allocated by nl and is unique within the process.
func newRequest(typ, flags uint16, cmd, version uint8, data []byte) *nl.NetlinkRequest {
	req := nl.NewNetlinkRequest(int(typ), int(flags&^FlagRequest))
	req.AddData(&nl.Genlmsg{Command: cmd, Version: version})
	if len(data) > 0 {
		req.AddRawData(data)
	}
	return req
}

// messageFromSyscall converts a received message, splitting off the
// generic header of non-control messages.
func messageFromSyscall(sm syscall.NetlinkMessage) (Message, error) {
	m := Message{
		Header: Header{
			Length:   sm.Header.Len,
			Type:     sm.Header.Type,
			Flags:    sm.Header.Flags,
			Sequence: sm.Header.Seq,
			PortID:   sm.Header.Pid,
		},
	}

	if m.IsControl() {
		m.Data = sm.Data
		return m, nil
	}

	if len(sm.Data) < nl.SizeofGenlmsg {
		return Message{}, errors.Errorf("netlink: truncated generic header in message type %d",
			m.Header.Type)
	}
	genl := nl.DeserializeGenlmsg(sm.Data)
	m.Command = genl.Command
	m.Version = genl.Version
	m.Data = sm.Data[nl.SizeofGenlmsg:]

	return m, nil
}

// ParseMessages splits a received datagram into messages.
func ParseMessages(b []byte) ([]Message, error) {
	sms, err := syscall.ParseNetlinkMessage(b)
	if err != nil {
		return nil, errors.Wrapf(err, "netlink: malformed datagram (%d bytes)", len(b))
	}

	msgs := make([]Message, 0, len(sms))
	for _, sm := range sms {
		m, err := messageFromSyscall(sm)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}
