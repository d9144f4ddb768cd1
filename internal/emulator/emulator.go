// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package emulator implements the Emulator (C8): a synthetic sample
// source that replaces the Ingestion Pipeline when enabled (spec section
// 4.8). Per-sensor expressions are compiled once at startup with
// expr-lang/expr, exactly the compile-once/run-per-tick pattern the
// teacher's internal/tagger.classifyJob.go uses for job classification
// rules — here the expression environment is deliberately small and
// fixed rather than assembled from job metrics, per the restricted-
// evaluator redesign.
package emulator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sufst/intermediate-server/internal/sample"
	"github.com/sufst/intermediate-server/internal/telelog"
)

// Store is the subset of the Staging Store (C5) the Emulator writes to.
type Store interface {
	Append(sensor string, epoch, value float64) error
}

// Broker is the subset of the Fan-out Broker (C6) the Emulator pushes to.
type Broker interface {
	Enqueue(s sample.Sample)
}

// tickEnv is the only variable an expression may reference: the integer
// tick counter x (spec section 9). sin/cos/sqrt/min/max are registered as
// global functions below rather than env methods, so no Go struct's
// exported method set is reflected into the environment. expr-lang's own
// built-in functions are not disabled and remain callable alongside these
// five.
type tickEnv struct {
	X float64 `expr:"x"`
}

// exprOptions is shared by every Compile call so the registered functions
// can never drift between sensors.
var exprOptions = []expr.Option{
	expr.Env(tickEnv{}),
	expr.AsFloat64(),
	expr.Function("sin", func(params ...any) (any, error) { return math.Sin(params[0].(float64)), nil }, new(func(float64) float64)),
	expr.Function("cos", func(params ...any) (any, error) { return math.Cos(params[0].(float64)), nil }, new(func(float64) float64)),
	expr.Function("sqrt", func(params ...any) (any, error) { return math.Sqrt(params[0].(float64)), nil }, new(func(float64) float64)),
	expr.Function("min", func(params ...any) (any, error) { return math.Min(params[0].(float64), params[1].(float64)), nil }, new(func(float64, float64) float64)),
	expr.Function("max", func(params ...any) (any, error) { return math.Max(params[0].(float64), params[1].(float64)), nil }, new(func(float64, float64) float64)),
}

type compiledSensor struct {
	name    string
	program *vm.Program
}

// Emulator evaluates one compiled expression per sensor that has an
// expression configured (see the New doc note) on each tick.
type Emulator struct {
	interval time.Duration
	store    Store
	broker   Broker
	sensors  []compiledSensor
	tick     int
}

// nowFunc exists so tests can control the timestamp stamped onto emitted
// samples.
var nowFunc = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// New compiles expr for every sensor name present in exprBySensor and
// returns an Emulator ready to Run. A compile failure is fatal
// (SchemaInvalid-class: a broken emulation config cannot be silently
// skipped, spec section 7 gives this the same disposition as other
// startup-time configuration errors).
//
// Per the original source (src/emulation/__init__.py, caremulator.py): the
// Emulator evaluates every configured sensor's expression on every tick
// unconditionally. It does not consult enable/on_dash — only the Query
// Server's /sensors route filters by enable (spec section 4.7).
// Enablement therefore never gates what this component produces.
func New(interval time.Duration, exprBySensor map[string]string, store Store, broker Broker) (*Emulator, error) {
	e := &Emulator{interval: interval, store: store, broker: broker}

	for name, src := range exprBySensor {
		program, err := expr.Compile(src, exprOptions...)
		if err != nil {
			return nil, fmt.Errorf("emulator: compiling expression for %q: %w", name, err)
		}
		e.sensors = append(e.sensors, compiledSensor{name: name, program: program})
	}

	return e, nil
}

// Run ticks every interval until ctx is cancelled, evaluating every
// compiled sensor expression and pushing the result through Store then
// Broker on the same contract as the Ingestion Pipeline (spec section
// 4.8). wg is released when Run returns.
func (e *Emulator) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickOnce()
		}
	}
}

func (e *Emulator) tickOnce() {
	epoch := nowFunc()
	x := float64(e.tick)
	e.tick++

	for _, cs := range e.sensors {
		out, err := expr.Run(cs.program, tickEnv{X: x})
		if err != nil {
			telelog.Warnf("emulator: evaluating %q: %v", cs.name, err)
			continue
		}

		value, ok := out.(float64)
		if !ok {
			telelog.Warnf("emulator: %q expression did not yield a float64", cs.name)
			continue
		}

		if err := e.store.Append(cs.name, epoch, value); err != nil {
			telelog.Warnf("emulator: store append %q: %v", cs.name, err)
			continue
		}
		e.broker.Enqueue(sample.Sample{Sensor: cs.name, Epoch: epoch, Value: value})
	}
}
