// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema implements the Schema Registry (C1): the process-wide,
// immutable-after-construction description of the PDU wire format and the
// sensors it carries.
package schema

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WireType identifies one of the fixed-width numeric encodings a PDU field
// may use on the wire. All multi-byte integers are little-endian.
type WireType string

const (
	U8   WireType = "u8"
	I8   WireType = "i8"
	U16  WireType = "u16"
	I16  WireType = "i16"
	U32  WireType = "u32"
	I32  WireType = "i32"
	U64  WireType = "u64"
	I64  WireType = "i64"
	F32  WireType = "f32"
	F64  WireType = "f64"
	Bool WireType = "bool"
)

// decodeFn turns the wire-type's byte width out of buf (already sliced to
// exactly that width) into a float64 sample value.
type decodeFn func(buf []byte) float64

// wireTypeInfo is the resolved (width, decode) pair computed once at
// Registry construction time so that Decode never has to switch on the
// wire-type string on the hot path.
type wireTypeInfo struct {
	width  int
	decode decodeFn
}

var wireTypeTable = map[WireType]wireTypeInfo{
	U8:  {1, func(b []byte) float64 { return float64(b[0]) }},
	I8:  {1, func(b []byte) float64 { return float64(int8(b[0])) }},
	U16: {2, func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }},
	I16: {2, func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }},
	U32: {4, func(b []byte) float64 { return float64(binary.LittleEndian.Uint32(b)) }},
	I32: {4, func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) }},
	U64: {8, func(b []byte) float64 { return float64(binary.LittleEndian.Uint64(b)) }},
	I64: {8, func(b []byte) float64 { return float64(int64(binary.LittleEndian.Uint64(b))) }},
	F32: {4, func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }},
	F64: {8, func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }},
	Bool: {1, func(b []byte) float64 {
		if b[0] != 0 {
			return 1
		}
		return 0
	}},
}

func resolveWireType(t WireType) (wireTypeInfo, error) {
	info, ok := wireTypeTable[t]
	if !ok {
		return wireTypeInfo{}, fmt.Errorf("%w: unknown wire type %q", ErrSchemaInvalid, t)
	}
	return info, nil
}
