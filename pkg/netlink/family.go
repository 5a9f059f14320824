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
	"context"

	"github.com/pkg/errors"
)

// Generic netlink controller family.
const (
	CtrlFamilyID     uint16 = 0x10
	CtrlVersion      uint8  = 2
	CtrlCmdGetFamily uint8  = 3

	CtrlAttrFamilyID    uint16 = 1
	CtrlAttrFamilyName  uint16 = 2
	CtrlAttrVersion     uint16 = 3
	CtrlAttrHdrSize     uint16 = 4
	CtrlAttrMaxAttr     uint16 = 5
	CtrlAttrOps         uint16 = 6
	CtrlAttrMcastGroups uint16 = 7

	ctrlAttrMcastGrpName uint16 = 1
	ctrlAttrMcastGrpID   uint16 = 2
)

// ErrFamilyNotFound is returned when no family by the requested name exists.
var ErrFamilyNotFound = errors.New("family not found")

// CtrlSchema is the attribute schema of controller messages. The
// operation and multicast group lists are arrays of nested entries,
// they decode as raw values keyed by their index.
var CtrlSchema = Schema{
	CtrlAttrFamilyID:    {Name: "family-id", Kind: KindU16},
	CtrlAttrFamilyName:  {Name: "family-name", Kind: KindString},
	CtrlAttrVersion:     {Name: "version", Kind: KindU32},
	CtrlAttrHdrSize:     {Name: "hdrsize", Kind: KindU32},
	CtrlAttrMaxAttr:     {Name: "maxattr", Kind: KindU32},
	CtrlAttrOps:         {Name: "ops", Kind: KindNested},
	CtrlAttrMcastGroups: {Name: "mcast-groups", Kind: KindNested},
}

var mcastGroupSchema = Schema{
	ctrlAttrMcastGrpName: {Name: "name", Kind: KindString},
	ctrlAttrMcastGrpID:   {Name: "id", Kind: KindU32},
}

// Family describes a resolved generic netlink family.
type Family struct {
	ID         uint16
	Name       string
	Version    uint32
	HeaderSize uint32
	MaxAttr    uint32
	Groups     map[string]uint32
}

// ParseFamily decodes a controller family description.
func ParseFamily(data []byte) (Family, error) {
	fields, err := CtrlSchema.Decode(data)
	if err != nil {
		return Family{}, err
	}

	f := Family{
		ID:         uint16(fields[CtrlAttrFamilyID].Uint),
		Name:       fields[CtrlAttrFamilyName].Str,
		Version:    uint32(fields[CtrlAttrVersion].Uint),
		HeaderSize: uint32(fields[CtrlAttrHdrSize].Uint),
		MaxAttr:    uint32(fields[CtrlAttrMaxAttr].Uint),
	}

	if groups, ok := fields[CtrlAttrMcastGroups]; ok {
		f.Groups = make(map[string]uint32)
		for _, entry := range groups.Nested {
			grp, err := mcastGroupSchema.Decode(entry.Raw)
			if err != nil {
				return Family{}, errors.Wrapf(err, "family %s: invalid multicast group", f.Name)
			}
			f.Groups[grp[ctrlAttrMcastGrpName].Str] = uint32(grp[ctrlAttrMcastGrpID].Uint)
		}
	}

	return f, nil
}

// resolveFamily looks up the named family from a controller dump.
func (c *Conn) resolveFamily(ctx context.Context, name string, minVersion uint32) (Family, error) {
	replies, err := c.Dump(ctx, CtrlFamilyID, CtrlCmdGetFamily, CtrlVersion, nil)
	if err != nil {
		return Family{}, &TransportError{Op: "resolve family " + name, Err: err}
	}

	for _, r := range replies {
		f, err := ParseFamily(r.Data)
		if err != nil {
			return Family{}, &TransportError{Op: "resolve family " + name, Err: err}
		}
		if f.Name != name {
			continue
		}
		if f.Version < minVersion {
			return Family{}, &TransportError{
				Op:  "resolve family " + name,
				Err: errors.Errorf("version %d is older than required %d", f.Version, minVersion),
			}
		}
		return f, nil
	}

	return Family{}, &TransportError{Op: "resolve family " + name, Err: ErrFamilyNotFound}
}
