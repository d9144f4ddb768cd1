// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchemaInvalid is returned (wrapped with specifics) whenever the schema
// configuration fails one of the construction-time invariants: an unknown
// wire type, a duplicate pdu_id, a fixed_length over 255 bytes, or a field
// name absent from the sensors table. It is the only error this package
// raises to a caller that should be treated as fatal at startup.
var ErrSchemaInvalid = errors.New("schema invalid")

// ErrUnknownPDU is returned by Lookup when no PDU descriptor is registered
// for the requested pdu_id.
var ErrUnknownPDU = errors.New("unknown pdu")

// FieldConfig is one (name, wire type) pair in a PDU's field list, as it
// appears in the configuration file. The leading valid_bitfield field is
// implicit and must not be listed here.
type FieldConfig struct {
	Name string   `json:"name"`
	Type WireType `json:"c_type"`
}

// PDUConfig is the on-disk description of one PDU descriptor.
type PDUConfig struct {
	ID     byte          `json:"id"`
	Name   string        `json:"name"`
	Fields []FieldConfig `json:"fields"`
}

// SensorConfig is the metadata attached to every sensor name that appears
// in any PDU's field list.
type SensorConfig struct {
	Group  string  `json:"group"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	OnDash bool    `json:"on_dash"`
	Enable bool    `json:"enable"`
}

// Config is the root of the schema configuration, as decoded from JSON.
type Config struct {
	StartByte byte                    `json:"start_byte"`
	PDUs      []PDUConfig             `json:"pdus"`
	Sensors   map[string]SensorConfig `json:"sensors"`
}

// Field is a resolved field: its wire-type width/decoder and whether it is
// the epoch field (type f64, named "epoch") that the codec should read
// instead of stamping wall-clock time.
type Field struct {
	Name    string
	Width   int
	Decode  decodeFn
	IsEpoch bool
}

// PDU is the resolved, immutable descriptor for one pdu_id.
type PDU struct {
	ID            byte
	Name          string
	Fields        []Field // excludes the leading valid_bitfield
	FixedLength   int     // sum of wire widths, including the valid_bitfield
	HasEpochField bool
}

// Registry is the process-wide, read-only Schema Registry (C1). It is safe
// for concurrent use by any number of readers once New returns successfully.
type Registry struct {
	startByte byte
	byID      map[byte]*PDU
	sensors   map[string]SensorConfig
	// order preserves configuration order for deterministic iteration
	// (used by iter_pdus() and by schema snapshots sent to subscribers).
	order []byte
}

// New validates cfg and builds an immutable Registry from it.
func New(cfg Config) (*Registry, error) {
	if len(cfg.Sensors) == 0 {
		return nil, fmt.Errorf("%w: no sensors configured", ErrSchemaInvalid)
	}

	r := &Registry{
		startByte: cfg.StartByte,
		byID:      make(map[byte]*PDU, len(cfg.PDUs)),
		sensors:   cfg.Sensors,
	}

	for _, pc := range cfg.PDUs {
		if _, dup := r.byID[pc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate pdu_id %d", ErrSchemaInvalid, pc.ID)
		}
		if pc.Name == "" {
			return nil, fmt.Errorf("%w: pdu %d has no name", ErrSchemaInvalid, pc.ID)
		}

		// valid_bitfield is always u32 and always implicit as field 0.
		fixedLength := wireTypeTable[U32].width
		fields := make([]Field, 0, len(pc.Fields))
		hasEpoch := false

		for _, fc := range pc.Fields {
			if _, ok := cfg.Sensors[fc.Name]; !ok {
				return nil, fmt.Errorf("%w: pdu %q field %q is not a configured sensor", ErrSchemaInvalid, pc.Name, fc.Name)
			}

			info, err := resolveWireType(fc.Type)
			if err != nil {
				return nil, fmt.Errorf("pdu %q field %q: %w", pc.Name, fc.Name, err)
			}

			fixedLength += info.width
			isEpoch := fc.Name == "epoch" && fc.Type == F64
			if isEpoch {
				hasEpoch = true
			}

			fields = append(fields, Field{Name: fc.Name, Width: info.width, Decode: info.decode, IsEpoch: isEpoch})
		}

		if fixedLength > 255 {
			return nil, fmt.Errorf("%w: pdu %q fixed_length %d exceeds 255", ErrSchemaInvalid, pc.Name, fixedLength)
		}

		r.byID[pc.ID] = &PDU{
			ID:            pc.ID,
			Name:          pc.Name,
			Fields:        fields,
			FixedLength:   fixedLength,
			HasEpochField: hasEpoch,
		}
		r.order = append(r.order, pc.ID)
	}

	return r, nil
}

// Load decodes and validates JSON schema configuration.
func Load(raw json.RawMessage) (*Registry, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaInvalid, err)
	}
	return New(cfg)
}

// StartByte returns the configured PDU framing byte.
func (r *Registry) StartByte() byte {
	return r.startByte
}

// Lookup returns the PDU descriptor for pdu_id, or ErrUnknownPDU.
func (r *Registry) Lookup(pduID byte) (*PDU, error) {
	pdu, ok := r.byID[pduID]
	if !ok {
		return nil, fmt.Errorf("%w: pdu_id %d", ErrUnknownPDU, pduID)
	}
	return pdu, nil
}

// IterPDUs returns every known PDU descriptor in configuration order.
func (r *Registry) IterPDUs() []*PDU {
	out := make([]*PDU, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// SensorMeta returns the metadata for a sensor name, or false if unknown.
func (r *Registry) SensorMeta(name string) (SensorConfig, bool) {
	meta, ok := r.sensors[name]
	return meta, ok
}

// SensorNames returns every configured sensor name.
func (r *Registry) SensorNames() []string {
	out := make([]string, 0, len(r.sensors))
	for name := range r.sensors {
		out = append(out, name)
	}
	return out
}

// Sensors returns a copy of the whole sensor metadata table, keyed by name.
func (r *Registry) Sensors() map[string]SensorConfig {
	out := make(map[string]SensorConfig, len(r.sensors))
	for k, v := range r.sensors {
		out[k] = v
	}
	return out
}
