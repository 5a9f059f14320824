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
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	1: {Name: "pid", Kind: KindU32},
	2: {Name: "name", Kind: KindString},
	3: {Name: "blob", Kind: KindRaw},
	4: {Name: "inner", Kind: KindNested},
	5: {Name: "marker", Kind: KindFlag},
	6: {Name: "id", Kind: KindU16},
}

func init() {
	// self-referencing nested stream
	inner := testSchema[4]
	inner.Nested = testSchema
	testSchema[4] = inner
}

func TestParseAttributes(t *testing.T) {
	tcases := []struct {
		name    string
		data    []byte
		attrs   []Attribute
		invalid bool
	}{
		{
			name: "empty",
		},
		{
			name:  "padded",
			data:  []byte{5, 0, 1, 0, 0xaa, 0, 0, 0, 4, 0, 2, 0x80},
			attrs: []Attribute{{Type: 1, Data: []byte{0xaa}}, {Type: 2, Nested: true, Data: []byte{}}},
		},
		{
			name:  "last attribute unpadded",
			data:  []byte{5, 0, 1, 0, 0xaa},
			attrs: []Attribute{{Type: 1, Data: []byte{0xaa}}},
		},
		{
			name:    "truncated header",
			data:    []byte{8, 0, 1},
			invalid: true,
		},
		{
			name:    "overlong",
			data:    []byte{12, 0, 1, 0, 1, 2, 3, 4},
			invalid: true,
		},
		{
			name:    "too short",
			data:    []byte{2, 0, 1, 0},
			invalid: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			if binary.NativeEndian.Uint16([]byte{1, 0}) != 1 {
				t.Skip("test vectors are little-endian")
			}
			attrs, err := ParseAttributes(tc.data)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.attrs, attrs)
		})
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	tcases := []struct {
		name   string
		fields Fields
	}{
		{
			name:   "nothing present",
			fields: Fields{},
		},
		{
			name:   "present zero",
			fields: Fields{1: U32(0)},
		},
		{
			name: "flat",
			fields: Fields{
				1: U32(1234),
				2: String("TASKSTATS"),
				3: Raw([]byte{1, 2, 3, 4, 5}),
				5: Flag(),
				6: U16(0x17),
			},
		},
		{
			name: "nested",
			fields: Fields{
				4: Nested(Fields{
					1: U32(7),
					4: Nested(Fields{
						2: String("deep"),
						4: Nested(Fields{5: Flag()}),
					}),
				}),
			},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := testSchema.Encode(tc.fields)
			require.NoError(t, err)
			require.Zero(t, len(data)%4)

			decoded, err := testSchema.Decode(data)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.fields, decoded); diff != "" {
				t.Errorf("unexpected round-trip result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSchemaSparseEncoding(t *testing.T) {
	data, err := testSchema.Encode(Fields{})
	require.NoError(t, err)
	require.Empty(t, data)

	data, err = testSchema.Encode(Fields{1: U32(0)})
	require.NoError(t, err)
	require.Len(t, data, 8)
}

func TestSchemaUnknownTags(t *testing.T) {
	data, err := MarshalAttributes([]Attribute{
		{Type: 1, Data: binary.NativeEndian.AppendUint32(nil, 42)},
		{Type: 99, Data: []byte("opaque")},
	})
	require.NoError(t, err)

	fields, err := testSchema.Decode(data)
	require.NoError(t, err)
	require.Equal(t, uint64(42), fields[1].Uint)
	require.Equal(t, Raw([]byte("opaque")), fields[99])
}

func TestSchemaErrors(t *testing.T) {
	_, err := testSchema.Encode(Fields{1: String("not a number")})
	require.Error(t, err)

	data, err := MarshalAttributes([]Attribute{{Type: 1, Data: []byte{1, 2}}})
	require.NoError(t, err)
	_, err = testSchema.Decode(data)
	require.Error(t, err)
}
