// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the Ingestion Pipeline (C4): it pulls bytes
// from a transport, feeds the Frame Codec, timestamps samples, and pushes
// them to the Staging Store and the Fan-out Broker in that mandatory
// order (spec section 4.4).
package ingest

import (
	"time"

	"github.com/sufst/intermediate-server/internal/codec"
	"github.com/sufst/intermediate-server/internal/sample"
	"github.com/sufst/intermediate-server/internal/schema"
	"github.com/sufst/intermediate-server/internal/telelog"
	"github.com/sufst/intermediate-server/internal/transport"
)

// Store is the subset of the Staging Store (C5) the pipeline depends on.
type Store interface {
	Append(sensor string, epoch, value float64) error
}

// Broker is the subset of the Fan-out Broker (C6) the pipeline depends on.
type Broker interface {
	Enqueue(s sample.Sample)
}

// nowFunc exists so tests can control the wall clock used for samples
// whose PDU carries no epoch field.
var nowFunc = func() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Pipeline wires one Transport's decoded frames into the Store and
// Broker. Each Transport gets its own Pipeline instance (and therefore its
// own codec.Decoder, per spec section 4.3's per-endpoint buffer
// ownership).
type Pipeline struct {
	reg    *schema.Registry
	dec    *codec.Decoder
	store  Store
	broker Broker
}

// New returns a Pipeline bound to one Transport's byte stream.
func New(reg *schema.Registry, store Store, broker Broker) *Pipeline {
	return &Pipeline{
		reg:    reg,
		dec:    codec.NewDecoder(reg),
		store:  store,
		broker: broker,
	}
}

// OnConnect is the transport.Handler.OnConnect implementation.
func (p *Pipeline) OnConnect(t transport.Transport) {
	telelog.Infof("ingest: transport %s connected", t.ID())
}

// OnLost is the transport.Handler.OnLost implementation.
func (p *Pipeline) OnLost(t transport.Transport, reason error) {
	if reason == nil {
		telelog.Infof("ingest: transport %s closed", t.ID())
	} else {
		telelog.Warnf("ingest: transport %s lost: %v", t.ID(), reason)
	}
}

// OnBytes is the transport.Handler.OnBytes implementation: decode
// whatever complete PDUs buf completes, then store+enqueue every sample in
// decode order. On a codec error the remainder of buf is already dropped
// by the Decoder; this just logs and continues on the next delivery (spec
// section 4.4 step 4).
func (p *Pipeline) OnBytes(_ transport.Transport, buf []byte) {
	frames, err := p.dec.Feed(buf)
	for _, frame := range frames {
		p.emit(frame)
	}
	if err != nil {
		telelog.Warnf("ingest: codec error, dropping remainder of buffer: %v", err)
	}
}

func (p *Pipeline) emit(frame codec.Frame) {
	epoch := frame.Epoch
	if !frame.HasEpoch {
		epoch = nowFunc()
	}

	for name, value := range frame.Fields {
		if err := p.store.Append(name, epoch, value); err != nil {
			telelog.Warnf("ingest: store append %q: %v", name, err)
			continue
		}
		p.broker.Enqueue(sample.Sample{Sensor: name, Epoch: epoch, Value: value})
	}
}
