// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"sync"

	"github.com/sufst/intermediate-server/internal/schema"
	"github.com/sufst/intermediate-server/internal/transport"
)

// Dispatcher fans a single Listener's callbacks out to one Pipeline per
// Transport. TCPServer accepts many concurrent peers through a single
// Handler (each on its own goroutine), but a Pipeline's codec.Decoder is
// not safe for concurrent use and expects exactly one Transport to own
// it (spec section 4.3: "each accepted connection is an independent
// Transport... between different Transports, delivery is concurrent").
// A Listener that can deliver OnBytes for more than one Transport.ID()
// must be wired through a Dispatcher rather than a bare Pipeline.
type Dispatcher struct {
	reg    *schema.Registry
	store  Store
	broker Broker

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewDispatcher returns a Dispatcher that builds a fresh Pipeline (and
// therefore a fresh codec.Decoder) for every Transport it sees connect.
func NewDispatcher(reg *schema.Registry, store Store, broker Broker) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		store:     store,
		broker:    broker,
		pipelines: make(map[string]*Pipeline),
	}
}

// OnConnect is the transport.Handler.OnConnect implementation.
func (d *Dispatcher) OnConnect(t transport.Transport) {
	p := New(d.reg, d.store, d.broker)

	d.mu.Lock()
	d.pipelines[t.ID()] = p
	d.mu.Unlock()

	p.OnConnect(t)
}

// OnBytes is the transport.Handler.OnBytes implementation: routed to the
// Pipeline created for t in OnConnect, so concurrent peers never share a
// Decoder.
func (d *Dispatcher) OnBytes(t transport.Transport, buf []byte) {
	d.mu.Lock()
	p := d.pipelines[t.ID()]
	d.mu.Unlock()

	if p == nil {
		// OnConnect always precedes OnBytes per the transport.Handler
		// contract; nothing to route to if it hasn't fired yet.
		return
	}
	p.OnBytes(t, buf)
}

// OnLost is the transport.Handler.OnLost implementation: retires t's
// Pipeline so its Decoder can be garbage collected.
func (d *Dispatcher) OnLost(t transport.Transport, reason error) {
	d.mu.Lock()
	p, ok := d.pipelines[t.ID()]
	delete(d.pipelines, t.ID())
	d.mu.Unlock()

	if ok {
		p.OnLost(t, reason)
	}
}
