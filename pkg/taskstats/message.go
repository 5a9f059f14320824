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
	"fmt"

	"github.com/intel/ioprio-balancer/pkg/netlink"
)

const (
	// FamilyName is the generic netlink family of taskstats.
	FamilyName = "TASKSTATS"
	// FamilyMinVersion is the oldest family version we can talk to.
	FamilyMinVersion = 1
)

// Taskstats commands.
const (
	CmdGet uint8 = 1
	CmdNew uint8 = 2
)

// Command attributes.
const (
	CmdAttrPid               uint16 = 1
	CmdAttrTgid              uint16 = 2
	CmdAttrRegisterCPUMask   uint16 = 3
	CmdAttrDeregisterCPUMask uint16 = 4
)

// Response attributes.
const (
	AttrPid      uint16 = 1
	AttrTgid     uint16 = 2
	AttrStats    uint16 = 3
	AttrAggrPid  uint16 = 4
	AttrAggrTgid uint16 = 5
	AttrNull     uint16 = 6
)

var messageSchema = netlink.Schema{
	AttrPid:   {Name: "pid", Kind: netlink.KindU32},
	AttrTgid:  {Name: "tgid", Kind: netlink.KindU32},
	AttrStats: {Name: "stats", Kind: netlink.KindRaw},
	AttrNull:  {Name: "null", Kind: netlink.KindFlag},
}

var commandSchema = netlink.Schema{
	CmdAttrPid:               {Name: "pid", Kind: netlink.KindU32},
	CmdAttrTgid:              {Name: "tgid", Kind: netlink.KindU32},
	CmdAttrRegisterCPUMask:   {Name: "register-cpumask", Kind: netlink.KindString},
	CmdAttrDeregisterCPUMask: {Name: "deregister-cpumask", Kind: netlink.KindString},
}

func init() {
	messageSchema[AttrAggrPid] = netlink.Field{Name: "aggr-pid", Kind: netlink.KindNested, Nested: messageSchema}
	messageSchema[AttrAggrTgid] = netlink.Field{Name: "aggr-tgid", Kind: netlink.KindNested, Nested: messageSchema}
}

// ProtocolError is a response which does not have the expected shape.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string {
	return "taskstats: protocol error: " + e.msg
}

func protocolError(format string, args ...interface{}) error {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// Message is a taskstats response or event. Nil fields were absent.
type Message struct {
	Pid      *uint32
	Tgid     *uint32
	Stats    []byte
	AggrPid  *Message
	AggrTgid *Message
	Null     bool
}

// DecodeMessage decodes a taskstats message attribute stream.
func DecodeMessage(data []byte) (*Message, error) {
	fields, err := messageSchema.Decode(data)
	if err != nil {
		return nil, err
	}
	return messageFromFields(fields), nil
}

func messageFromFields(fields netlink.Fields) *Message {
	m := &Message{}
	if v, ok := fields[AttrPid]; ok {
		m.Pid = u32ptr(v)
	}
	if v, ok := fields[AttrTgid]; ok {
		m.Tgid = u32ptr(v)
	}
	if v, ok := fields[AttrStats]; ok {
		m.Stats = v.Raw
		if m.Stats == nil {
			m.Stats = []byte{}
		}
	}
	if v, ok := fields[AttrAggrPid]; ok {
		m.AggrPid = messageFromFields(v.Nested)
	}
	if v, ok := fields[AttrAggrTgid]; ok {
		m.AggrTgid = messageFromFields(v.Nested)
	}
	_, m.Null = fields[AttrNull]
	return m
}

// Encode encodes the message into an attribute stream.
func (m *Message) Encode() ([]byte, error) {
	return messageSchema.Encode(m.fields())
}

func (m *Message) fields() netlink.Fields {
	fields := netlink.Fields{}
	if m.Pid != nil {
		fields[AttrPid] = netlink.U32(*m.Pid)
	}
	if m.Tgid != nil {
		fields[AttrTgid] = netlink.U32(*m.Tgid)
	}
	if m.Stats != nil {
		fields[AttrStats] = netlink.Raw(m.Stats)
	}
	if m.AggrPid != nil {
		fields[AttrAggrPid] = netlink.Nested(m.AggrPid.fields())
	}
	if m.AggrTgid != nil {
		fields[AttrAggrTgid] = netlink.Nested(m.AggrTgid.fields())
	}
	if m.Null {
		fields[AttrNull] = netlink.Flag()
	}
	return fields
}

// CommandMessage is a taskstats request. Nil fields are not sent.
type CommandMessage struct {
	Pid               *uint32
	Tgid              *uint32
	RegisterCPUMask   *string
	DeregisterCPUMask *string
}

// DecodeCommand decodes a taskstats request attribute stream.
func DecodeCommand(data []byte) (*CommandMessage, error) {
	fields, err := commandSchema.Decode(data)
	if err != nil {
		return nil, err
	}

	c := &CommandMessage{}
	if v, ok := fields[CmdAttrPid]; ok {
		c.Pid = u32ptr(v)
	}
	if v, ok := fields[CmdAttrTgid]; ok {
		c.Tgid = u32ptr(v)
	}
	if v, ok := fields[CmdAttrRegisterCPUMask]; ok {
		c.RegisterCPUMask = &v.Str
	}
	if v, ok := fields[CmdAttrDeregisterCPUMask]; ok {
		c.DeregisterCPUMask = &v.Str
	}
	return c, nil
}

// Encode encodes the request into an attribute stream.
func (c *CommandMessage) Encode() ([]byte, error) {
	fields := netlink.Fields{}
	if c.Pid != nil {
		fields[CmdAttrPid] = netlink.U32(*c.Pid)
	}
	if c.Tgid != nil {
		fields[CmdAttrTgid] = netlink.U32(*c.Tgid)
	}
	if c.RegisterCPUMask != nil {
		fields[CmdAttrRegisterCPUMask] = netlink.String(*c.RegisterCPUMask)
	}
	if c.DeregisterCPUMask != nil {
		fields[CmdAttrDeregisterCPUMask] = netlink.String(*c.DeregisterCPUMask)
	}
	return commandSchema.Encode(fields)
}

func u32ptr(v netlink.Value) *uint32 {
	u := uint32(v.Uint)
	return &u
}
