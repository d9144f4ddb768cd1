// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker implements the Fan-out Broker (C6): per-subscriber
// sample buffering with a periodic best-effort flush (spec section 4.6),
// publishing over NATS subjects via nats-io/nats.go's publish/subscribe
// primitives.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/sufst/intermediate-server/internal/sample"
	"github.com/sufst/intermediate-server/internal/schema"
	"github.com/sufst/intermediate-server/internal/telelog"
)

// Batch is what a flush hands to a Subscriber's emit primitive: every
// sensor that received at least one sample since the last flush, mapped
// to the samples enqueued in that window (spec section 6, "data" event).
type Batch map[string][]sample.Sample

// Emitter is the Controller-provided closure a Subscriber uses to push a
// batch out over its actual transport (push-channel socket, NATS subject,
// test stub...). An error is treated as a transient delivery failure.
type Emitter interface {
	EmitData(b Batch) error
	EmitMeta(snap schema.Snapshot) error
}

// Config governs one Subscriber's lifecycle.
type Config struct {
	Key           string // server_key / namespace identity, used in log lines
	FlushInterval time.Duration
	MaxRetries    int // consecutive emit failures tolerated before removal
}

type subscriber struct {
	cfg     Config
	emitter Emitter

	mu      sync.Mutex
	buffers map[string][]sample.Sample

	failures int
	removed  bool // set under mu by remove, read under mu from Enqueue
}

// Broker owns the subscriber registry and runs one flush goroutine per
// subscriber (spec section 5: "Broker flushes are serialised
// per-Subscriber; across Subscribers they may proceed in parallel").
type Broker struct {
	mu   sync.Mutex
	subs map[string]*subscriber
	reg  *schema.Registry
}

// New returns an empty Broker bound to reg, used to build the one-shot
// metadata announcement sent to every new Subscriber.
func New(reg *schema.Registry) *Broker {
	return &Broker{subs: make(map[string]*subscriber), reg: reg}
}

// Register adds a Subscriber and starts its flush loop on ctx. wg is
// incremented for the lifetime of the flush goroutine (spec section 5's
// per-task cancellation model). The one-shot metadata announcement (spec
// section 4.6, "on subscriber connect...") is attempted synchronously
// before Register returns; a failure there only logs, it does not block
// registration.
func (b *Broker) Register(ctx context.Context, wg *sync.WaitGroup, cfg Config, emitter Emitter) {
	sub := &subscriber{cfg: cfg, emitter: emitter, buffers: make(map[string][]sample.Sample)}

	b.mu.Lock()
	b.subs[cfg.Key] = sub
	b.mu.Unlock()

	if err := emitter.EmitMeta(b.reg.Snapshot()); err != nil {
		telelog.Warnf("broker: %s: meta announcement failed: %v", cfg.Key, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.runFlushLoop(ctx, cfg.Key, sub)
	}()
}

// Enqueue appends s to every live subscriber's buffer for s.Sensor (spec
// section 4.6: "enqueue(sample) appends to the sensor's buffer"). Order
// within a sensor's buffer is preserved.
func (b *Broker) Enqueue(s sample.Sample) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if !sub.removed {
			sub.buffers[s.Sensor] = append(sub.buffers[s.Sensor], s)
		}
		sub.mu.Unlock()
	}
}

func (b *Broker) runFlushLoop(ctx context.Context, key string, sub *subscriber) {
	ticker := time.NewTicker(sub.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain once on shutdown so samples buffered since the last
			// tick are still offered to the subscriber.
			b.flushOnce(key, sub)
			return
		case <-ticker.C:
			if b.flushOnce(key, sub) {
				b.remove(key)
				telelog.Infof("broker: subscriber %s removed after exceeding retry cap", key)
				return
			}
		}
	}
}

// flushOnce drains sub's buffer through its Emitter. It reports whether
// the subscriber should now be removed (spec section 4.6: "it removes
// the Subscriber if it remains unreachable beyond a configured retry
// window").
func (b *Broker) flushOnce(key string, sub *subscriber) bool {
	sub.mu.Lock()
	if len(sub.buffers) == 0 {
		sub.mu.Unlock()
		return false
	}
	batch := sub.buffers
	sub.buffers = make(map[string][]sample.Sample)
	sub.mu.Unlock()

	if err := sub.emitter.EmitData(batch); err != nil {
		sub.failures++
		telelog.Warnf("broker: %s: flush failed (%d/%d): %v", key, sub.failures, sub.cfg.MaxRetries, err)
		return sub.failures > sub.cfg.MaxRetries
	}

	sub.failures = 0
	return false
}

func (b *Broker) remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[key]; ok {
		sub.mu.Lock()
		sub.removed = true
		sub.mu.Unlock()
		delete(b.subs, key)
	}
}

// Remove unregisters a Subscriber immediately, e.g. on a clean
// disconnect. Safe to call even if key is unknown.
func (b *Broker) Remove(key string) {
	b.remove(key)
}

// SubscriberCount reports the number of live subscribers, used by tests
// and by the Controller's shutdown log line.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
