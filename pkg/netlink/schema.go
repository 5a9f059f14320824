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
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"
)

// Kind is the payload type of an attribute.
type Kind int

const (
	// KindRaw is an uninterpreted byte payload.
	KindRaw Kind = iota
	// KindU8 is an 8-bit unsigned integer.
	KindU8
	// KindU16 is a 16-bit unsigned integer.
	KindU16
	// KindU32 is a 32-bit unsigned integer.
	KindU32
	// KindU64 is a 64-bit unsigned integer.
	KindU64
	// KindString is a NUL-terminated string.
	KindString
	// KindFlag is a payload-less presence marker.
	KindFlag
	// KindNested is a nested attribute stream.
	KindNested
)

var kindNames = map[Kind]string{
	KindRaw:    "raw",
	KindU8:     "u8",
	KindU16:    "u16",
	KindU32:    "u32",
	KindU64:    "u64",
	KindString: "string",
	KindFlag:   "flag",
	KindNested: "nested",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "<unknown kind>"
}

// Field describes how to decode one attribute tag of a stream.
type Field struct {
	Name   string
	Kind   Kind
	Nested Schema
}

// Schema is the decoding table of one attribute stream.
type Schema map[uint16]Field

// Value is a decoded attribute.
type Value struct {
	Kind   Kind
	Uint   uint64
	Str    string
	Raw    []byte
	Nested Fields
}

// Fields are the decoded attributes of a stream, keyed by tag. A tag
// absent from the map was absent from the stream.
type Fields map[uint16]Value

// U8 returns an 8-bit value.
func U8(v uint8) Value { return Value{Kind: KindU8, Uint: uint64(v)} }

// U16 returns a 16-bit value.
func U16(v uint16) Value { return Value{Kind: KindU16, Uint: uint64(v)} }

// U32 returns a 32-bit value.
func U32(v uint32) Value { return Value{Kind: KindU32, Uint: uint64(v)} }

// U64 returns a 64-bit value.
func U64(v uint64) Value { return Value{Kind: KindU64, Uint: v} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Raw returns a raw byte value.
func Raw(b []byte) Value { return Value{Kind: KindRaw, Raw: b} }

// Flag returns a presence marker.
func Flag() Value { return Value{Kind: KindFlag} }

// Nested returns a nested stream value.
func Nested(f Fields) Value { return Value{Kind: KindNested, Nested: f} }

// Decode decodes an attribute stream. Attributes with tags unknown to the
// schema are kept as raw values. If a tag occurs more than once, the last
// occurrence wins.
func (s Schema) Decode(b []byte) (Fields, error) {
	attrs, err := ParseAttributes(b)
	if err != nil {
		return nil, err
	}

	fields := make(Fields, len(attrs))
	for _, a := range attrs {
		f, ok := s[a.Type]
		if !ok {
			fields[a.Type] = Raw(a.Data)
			continue
		}
		v, err := f.decode(a.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "netlink: failed to decode attribute %s (%d)", f.Name, a.Type)
		}
		fields[a.Type] = v
	}

	return fields, nil
}

func (f Field) decode(b []byte) (Value, error) {
	need := map[Kind]int{KindU8: 1, KindU16: 2, KindU32: 4, KindU64: 8}
	if n, ok := need[f.Kind]; ok && len(b) < n {
		return Value{}, errors.Errorf("%s payload too short (%d bytes)", f.Kind, len(b))
	}

	switch f.Kind {
	case KindU8:
		return U8(b[0]), nil
	case KindU16:
		return U16(nl.NativeEndian().Uint16(b)), nil
	case KindU32:
		return U32(nl.NativeEndian().Uint32(b)), nil
	case KindU64:
		return U64(nl.NativeEndian().Uint64(b)), nil
	case KindString:
		if idx := bytes.IndexByte(b, 0); idx >= 0 {
			b = b[:idx]
		}
		return String(string(b)), nil
	case KindFlag:
		return Flag(), nil
	case KindNested:
		nested, err := f.Nested.Decode(b)
		if err != nil {
			return Value{}, err
		}
		return Nested(nested), nil
	}

	return Raw(b), nil
}

// Encode encodes fields into an attribute stream, in ascending tag order.
// Only the fields present are emitted.
func (s Schema) Encode(fields Fields) ([]byte, error) {
	tags := make([]int, 0, len(fields))
	for tag := range fields {
		tags = append(tags, int(tag))
	}
	sort.Ints(tags)

	attrs := make([]Attribute, 0, len(tags))
	for _, t := range tags {
		tag := uint16(t)
		v := fields[tag]
		f, ok := s[tag]
		if !ok {
			f = Field{Kind: v.Kind}
		}
		if f.Kind != v.Kind {
			return nil, errors.Errorf("netlink: attribute %s (%d) is %s, got %s value",
				f.Name, tag, f.Kind, v.Kind)
		}
		data, err := f.encode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "netlink: failed to encode attribute %s (%d)", f.Name, tag)
		}
		attrs = append(attrs, Attribute{Type: tag, Nested: f.Kind == KindNested, Data: data})
	}

	return MarshalAttributes(attrs)
}

func (f Field) encode(v Value) ([]byte, error) {
	switch v.Kind {
	case KindU8:
		return nl.Uint8Attr(uint8(v.Uint)), nil
	case KindU16:
		return nl.Uint16Attr(uint16(v.Uint)), nil
	case KindU32:
		return nl.Uint32Attr(uint32(v.Uint)), nil
	case KindU64:
		return nl.Uint64Attr(v.Uint), nil
	case KindString:
		return nl.ZeroTerminated(v.Str), nil
	case KindFlag:
		return nil, nil
	case KindNested:
		return f.Nested.Encode(v.Nested)
	}
	return v.Raw, nil
}
