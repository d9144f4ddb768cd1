// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWireTypeRejectsUnknown(t *testing.T) {
	_, err := resolveWireType(WireType("nope"))
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestWireTypeDecodeTable(t *testing.T) {
	cases := []struct {
		name string
		typ  WireType
		buf  []byte
		want float64
	}{
		{"u8", U8, []byte{0xFF}, 255},
		{"i8", I8, []byte{0xFF}, -1},
		{"u16", U16, []byte{0xE8, 0x03}, 1000},
		{"i16", I16, []byte{0xFF, 0xFF}, -1},
		{"u32", U32, []byte{0xFF, 0xFF, 0xFF, 0xFF}, 4294967295},
		{"i32", I32, []byte{0xFF, 0xFF, 0xFF, 0xFF}, -1},
		{"u64", U64, []byte{1, 0, 0, 0, 0, 0, 0, 0}, 1},
		{"i64", I64, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, -1},
		{"bool true", Bool, []byte{1}, 1},
		{"bool false", Bool, []byte{0}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := resolveWireType(tc.typ)
			require.NoError(t, err)
			assert.Equal(t, tc.want, info.decode(tc.buf))
		})
	}
}

func TestWireTypeWidths(t *testing.T) {
	widths := map[WireType]int{
		U8: 1, I8: 1, U16: 2, I16: 2,
		U32: 4, I32: 4, U64: 8, I64: 8,
		F32: 4, F64: 8, Bool: 1,
	}
	for typ, want := range widths {
		info, err := resolveWireType(typ)
		require.NoError(t, err)
		assert.Equal(t, want, info.width, "wire type %s", typ)
	}
}

func TestF32F64RoundTrip(t *testing.T) {
	f32Info, err := resolveWireType(F32)
	require.NoError(t, err)
	// 1.5f as IEEE-754 little-endian bytes
	assert.InDelta(t, 1.5, f32Info.decode([]byte{0x00, 0x00, 0xC0, 0x3F}), 0.0001)

	f64Info, err := resolveWireType(F64)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f64Info.decode([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF8, 0x3F}), 0.0001)
}
