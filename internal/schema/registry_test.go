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

func validConfig() Config {
	return Config{
		StartByte: 0xAA,
		PDUs: []PDUConfig{
			{ID: 0, Name: "core", Fields: []FieldConfig{
				{Name: "rpm", Type: U16},
				{Name: "epoch", Type: F64},
			}},
			{ID: 1, Name: "aux", Fields: []FieldConfig{
				{Name: "fuel", Type: U8},
			}},
		},
		Sensors: map[string]SensorConfig{
			"rpm":   {Group: "core", Enable: true, Max: 14000},
			"epoch": {Group: "core", Enable: false},
			"fuel":  {Group: "aux", Enable: true},
		},
	}
}

func TestNewRejectsNoSensors(t *testing.T) {
	_, err := New(Config{PDUs: []PDUConfig{{ID: 0, Name: "core"}}})
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestNewRejectsDuplicatePDUID(t *testing.T) {
	cfg := validConfig()
	cfg.PDUs = append(cfg.PDUs, PDUConfig{ID: 0, Name: "dup"})
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestNewRejectsEmptyPDUName(t *testing.T) {
	cfg := validConfig()
	cfg.PDUs[0].Name = ""
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestNewRejectsFieldNotASensor(t *testing.T) {
	cfg := validConfig()
	cfg.PDUs[0].Fields = append(cfg.PDUs[0].Fields, FieldConfig{Name: "ghost", Type: U8})
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestNewRejectsUnknownWireType(t *testing.T) {
	cfg := validConfig()
	cfg.PDUs[0].Fields[0].Type = WireType("u128")
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestNewRejectsFixedLengthOver255(t *testing.T) {
	cfg := validConfig()
	var fields []FieldConfig
	sensors := map[string]SensorConfig{}
	for i := 0; i < 40; i++ {
		name := string(rune('a' + i))
		fields = append(fields, FieldConfig{Name: name, Type: U64})
		sensors[name] = SensorConfig{Group: "core", Enable: true}
	}
	cfg.PDUs = []PDUConfig{{ID: 0, Name: "huge", Fields: fields}}
	cfg.Sensors = sensors
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestNewSucceedsAndResolvesEpochField(t *testing.T) {
	reg, err := New(validConfig())
	require.NoError(t, err)

	pdu, err := reg.Lookup(0)
	require.NoError(t, err)
	assert.True(t, pdu.HasEpochField)
	assert.Equal(t, "core", pdu.Name)
	// valid_bitfield(4) + rpm(2) + epoch(8)
	assert.Equal(t, 14, pdu.FixedLength)
}

func TestLookupUnknownPDU(t *testing.T) {
	reg, err := New(validConfig())
	require.NoError(t, err)
	_, err = reg.Lookup(99)
	assert.ErrorIs(t, err, ErrUnknownPDU)
}

func TestIterPDUsPreservesConfigOrder(t *testing.T) {
	reg, err := New(validConfig())
	require.NoError(t, err)
	pdus := reg.IterPDUs()
	require.Len(t, pdus, 2)
	assert.Equal(t, byte(0), pdus[0].ID)
	assert.Equal(t, byte(1), pdus[1].ID)
}

func TestSensorMetaAndNames(t *testing.T) {
	reg, err := New(validConfig())
	require.NoError(t, err)

	meta, ok := reg.SensorMeta("rpm")
	require.True(t, ok)
	assert.Equal(t, float64(14000), meta.Max)

	_, ok = reg.SensorMeta("nonexistent")
	assert.False(t, ok)

	names := reg.SensorNames()
	assert.ElementsMatch(t, []string{"rpm", "epoch", "fuel"}, names)
}

func TestSensorsReturnsIndependentCopy(t *testing.T) {
	reg, err := New(validConfig())
	require.NoError(t, err)

	snap := reg.Sensors()
	snap["rpm"] = SensorConfig{Group: "mutated"}

	meta, _ := reg.SensorMeta("rpm")
	assert.Equal(t, "core", meta.Group)
}

func TestLoadRejectsUnknownJSONFields(t *testing.T) {
	raw := []byte(`{"start_byte":1,"pdus":[],"sensors":{},"extra":true}`)
	_, err := Load(raw)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestLoadValidJSON(t *testing.T) {
	raw := []byte(`{
		"start_byte": 170,
		"pdus": [{"id": 0, "name": "core", "fields": [{"name":"rpm","c_type":"u16"}]}],
		"sensors": {"rpm": {"group":"core","enable":true}}
	}`)
	reg, err := Load(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(170), reg.StartByte())
}
