// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufst/intermediate-server/internal/schema"
)

// testRegistry builds the E1-E6 scenario schema: pdu_id 0 = CORE with
// valid_bitfield:u32 + eight u16 fields.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	fieldNames := []string{"rpm", "water", "tps", "batt", "ext5", "fuel", "lam", "spd"}
	fields := make([]schema.FieldConfig, len(fieldNames))
	sensors := make(map[string]schema.SensorConfig, len(fieldNames))
	for i, n := range fieldNames {
		fields[i] = schema.FieldConfig{Name: n, Type: schema.U16}
		sensors[n] = schema.SensorConfig{Group: "core", Enable: true}
	}

	reg, err := schema.New(schema.Config{
		StartByte: 0x01,
		PDUs:      []schema.PDUConfig{{ID: 0, Name: "core", Fields: fields}},
		Sensors:   sensors,
	})
	require.NoError(t, err)
	return reg
}

func TestDecodeE1AllFieldsValid(t *testing.T) {
	reg := testRegistry(t)
	buf := []byte{
		0x01, 0x00, // start, pdu_id
		0xFF, 0x00, 0x00, 0x00, // valid_bitfield = 0x000000FF
		0xE8, 0x03, // rpm = 1000
		0x50, 0x00, // water = 80
		0x0A, 0x00, // tps = 10
		0x20, 0x4E, // batt = 20000
		0x14, 0x00, // ext5 = 20
		0xBC, 0x02, // fuel = 700
		0x37, 0x00, // lam = 55
		0xC8, 0x00, // spd = 200
	}

	frame, consumed, err := Decode(reg, buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, map[string]float64{
		"rpm": 1000, "water": 80, "tps": 10, "batt": 20000,
		"ext5": 20, "fuel": 700, "lam": 55, "spd": 200,
	}, frame.Fields)
}

func TestDecodeE2OnlyFirstFieldValid(t *testing.T) {
	reg := testRegistry(t)
	buf := []byte{
		0x01, 0x00,
		0x01, 0x00, 0x00, 0x00, // valid_bitfield = 1
		0xE8, 0x03, 0x50, 0x00, 0x0A, 0x00, 0x20, 0x4E, 0x14, 0x00, 0xBC, 0x02, 0x37, 0x00, 0xC8, 0x00,
	}

	frame, _, err := Decode(reg, buf)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rpm": 1000}, frame.Fields)
}

func TestDecodeE3BadStartByte(t *testing.T) {
	reg := testRegistry(t)
	_, _, err := Decode(reg, []byte{0x02, 0x00, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeStreamE4TwoPDUsBackToBack(t *testing.T) {
	reg := testRegistry(t)
	one := []byte{0x01, 0x00, 0xFF, 0x00, 0x00, 0x00,
		0xE8, 0x03, 0x50, 0x00, 0x0A, 0x00, 0x20, 0x4E, 0x14, 0x00, 0xBC, 0x02, 0x37, 0x00, 0xC8, 0x00}
	two := []byte{0x01, 0x00, 0x01, 0x00, 0x00, 0x00,
		0xE8, 0x03, 0x50, 0x00, 0x0A, 0x00, 0x20, 0x4E, 0x14, 0x00, 0xBC, 0x02, 0x37, 0x00, 0xC8, 0x00}
	buf := append(append([]byte{}, one...), two...)

	var count int
	err := DecodeStream(reg, buf, func(Frame) { count++ })
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDecodeEmptyValidBitfield(t *testing.T) {
	reg := testRegistry(t)
	buf := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xE8, 0x03, 0x50, 0x00, 0x0A, 0x00, 0x20, 0x4E, 0x14, 0x00, 0xBC, 0x02, 0x37, 0x00, 0xC8, 0x00}

	frame, consumed, err := Decode(reg, buf)
	require.NoError(t, err)
	assert.Empty(t, frame.Fields)
	assert.Equal(t, len(buf), consumed)
}

func TestDecodeShortFrame(t *testing.T) {
	reg := testRegistry(t)
	_, _, err := Decode(reg, []byte{0x01, 0x00, 0xFF, 0x00, 0x00, 0x00, 0xE8})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeUnknownPDU(t *testing.T) {
	reg := testRegistry(t)
	_, _, err := Decode(reg, []byte{0x01, 0x09, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownPDU)
}

func TestDecodeRoundTripsValidFields(t *testing.T) {
	reg := testRegistry(t)
	buf := []byte{0x01, 0x00, 0xFF, 0x00, 0x00, 0x00,
		0xE8, 0x03, 0x50, 0x00, 0x0A, 0x00, 0x20, 0x4E, 0x14, 0x00, 0xBC, 0x02, 0x37, 0x00, 0xC8, 0x00}

	frame, consumed, err := Decode(reg, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), consumed)

	remainder := buf[consumed:]
	assert.Empty(t, remainder)
	assert.Len(t, frame.Fields, 8)
}
