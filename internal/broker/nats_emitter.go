// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/sufst/intermediate-server/internal/schema"
)

// NATSEmitter publishes a Subscriber's data/meta/config events as JSON
// payloads on namespaced NATS subjects (spec section 6, "Push channel").
type NATSEmitter struct {
	conn      *nats.Conn
	namespace string
}

// NewNATSEmitter binds a subscriber's three event subjects under
// "telemetry.<namespace>.{data,meta,config}".
func NewNATSEmitter(conn *nats.Conn, namespace string) *NATSEmitter {
	return &NATSEmitter{conn: conn, namespace: namespace}
}

func (e *NATSEmitter) subject(event string) string {
	return fmt.Sprintf("telemetry.%s.%s", e.namespace, event)
}

// EmitData publishes a flushed batch on the subscriber's "data" subject.
func (e *NATSEmitter) EmitData(b Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("broker: marshal data batch: %w", err)
	}
	return e.conn.Publish(e.subject("data"), payload)
}

// EmitMeta publishes the one-shot schema/meta announcement on connect.
func (e *NATSEmitter) EmitMeta(snap schema.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("broker: marshal meta snapshot: %w", err)
	}
	return e.conn.Publish(e.subject("meta"), payload)
}

// EmitConfig publishes the full schema snapshot on connect to car/emulation
// namespaces (spec section 6: "config — full schema snapshot, sent on
// connect to car/emulation namespaces"). It reuses the same snapshot shape
// as EmitMeta; only the subject differs.
func (e *NATSEmitter) EmitConfig(snap schema.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("broker: marshal config snapshot: %w", err)
	}
	return e.conn.Publish(e.subject("config"), payload)
}
