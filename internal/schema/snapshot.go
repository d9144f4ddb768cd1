// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// Snapshot is the wire representation of the whole schema, sent as the
// push channel's one-shot "config" event on connect to car/emulation
// namespaces, per spec.md section 6.
type Snapshot struct {
	StartByte byte                       `json:"start_byte"`
	Sensors   map[string]SensorConfig    `json:"sensors"`
	PDUs      map[string]PDUSnapshot     `json:"pdus"`
}

// PDUSnapshot describes one PDU's field order for downstream consumers.
type PDUSnapshot struct {
	ID     byte     `json:"id"`
	Fields []string `json:"fields"`
}

// Snapshot builds the wire representation of the registry described above.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		StartByte: r.startByte,
		Sensors:   r.Sensors(),
		PDUs:      make(map[string]PDUSnapshot, len(r.byID)),
	}
	for _, pdu := range r.IterPDUs() {
		names := make([]string, len(pdu.Fields))
		for i, f := range pdu.Fields {
			names[i] = f.Name
		}
		s.PDUs[pdu.Name] = PDUSnapshot{ID: pdu.ID, Fields: names}
	}
	return s
}

// SensorsByGroup returns enabled sensors (per spec.md section 4.7's
// "/sensors" route contract) organised by their configured group.
func (r *Registry) SensorsByGroup(onlyGroup string) map[string][]string {
	out := make(map[string][]string)
	for name, meta := range r.sensors {
		if !meta.Enable {
			continue
		}
		if onlyGroup != "" && meta.Group != onlyGroup {
			continue
		}
		out[meta.Group] = append(out[meta.Group], name)
	}
	return out
}
