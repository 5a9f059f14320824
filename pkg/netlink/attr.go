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
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

const (
	attrNested       = nl.NLA_F_NESTED
	attrNetByteorder = nl.NLA_F_NET_BYTEORDER
	attrTypeMask     = ^uint16(attrNested | attrNetByteorder)
)

// Attribute is a single netlink attribute.
type Attribute struct {
	// Type is the attribute tag with the nested/byteorder flags masked off.
	Type uint16
	// Nested is true if the attribute was flagged as nested on the wire.
	Nested bool
	// Data is the payload without padding.
	Data []byte
}

// ParseAttributes splits b into a sequence of attributes.
func ParseAttributes(b []byte) ([]Attribute, error) {
	// nl expects a padded stream, the last attribute may come unpadded
	if rem := len(b) % unix.NLA_ALIGNTO; rem != 0 {
		padded := make([]byte, len(b)+unix.NLA_ALIGNTO-rem)
		copy(padded, b)
		b = padded
	}

	ras, err := nl.ParseRouteAttr(b)
	if err != nil {
		return nil, errors.Wrapf(err, "netlink: invalid attribute stream (%d bytes)", len(b))
	}

	attrs := make([]Attribute, 0, len(ras))
	for _, ra := range ras {
		attrs = append(attrs, Attribute{
			Type:   ra.Attr.Type & attrTypeMask,
			Nested: ra.Attr.Type&attrNested != 0,
			Data:   ra.Value,
		})
	}

	return attrs, nil
}

// MarshalAttributes encodes attrs into a padded attribute stream.
func MarshalAttributes(attrs []Attribute) ([]byte, error) {
	var b []byte
	for _, a := range attrs {
		if length := unix.SizeofRtAttr + len(a.Data); length > 0xffff {
			return nil, errors.Errorf("netlink: attribute %d too long (%d bytes)", a.Type, length)
		}
		typ := a.Type & attrTypeMask
		if a.Nested {
			typ |= attrNested
		}
		b = append(b, nl.NewRtAttr(int(typ), a.Data).Serialize()...)
	}
	return b, nil
}
