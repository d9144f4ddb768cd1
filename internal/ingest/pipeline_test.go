// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufst/intermediate-server/internal/sample"
	"github.com/sufst/intermediate-server/internal/schema"
)

type fakeStore struct {
	mu       sync.Mutex
	appended []sample.Sample
	failOn   string
}

func (s *fakeStore) Append(sensor string, epoch, value float64) error {
	if sensor == s.failOn {
		return errors.New("unknown sensor")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, sample.Sample{Sensor: sensor, Epoch: epoch, Value: value})
	return nil
}

type fakeBroker struct {
	mu       sync.Mutex
	enqueued []sample.Sample
}

func (b *fakeBroker) Enqueue(s sample.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueued = append(b.enqueued, s)
}

type fakeTransport struct{ id string }

func (f fakeTransport) ID() string         { return f.id }
func (f fakeTransport) Write([]byte) error { return nil }
func (f fakeTransport) Close() error       { return nil }

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New(schema.Config{
		StartByte: 0x01,
		PDUs: []schema.PDUConfig{{
			ID:   0,
			Name: "core",
			Fields: []schema.FieldConfig{
				{Name: "epoch", Type: schema.F64},
				{Name: "rpm", Type: schema.U16},
			},
		}},
		Sensors: map[string]schema.SensorConfig{
			"epoch": {Group: "core", Enable: false},
			"rpm":   {Group: "core", Enable: true},
		},
	})
	require.NoError(t, err)
	return reg
}

// frameWithEpoch: valid_bitfield sets both epoch(bit0) and rpm(bit1).
func frameWithEpoch() []byte {
	return []byte{
		0x01, 0x00,
		0x03, 0x00, 0x00, 0x00, // valid_bitfield = 0b11
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F, // epoch f64 = 1.0
		0xE8, 0x03, // rpm = 1000
	}
}

// frameNoEpoch: only rpm(bit1) valid; epoch bit unset.
func frameNoEpoch() []byte {
	return []byte{
		0x01, 0x00,
		0x02, 0x00, 0x00, 0x00, // valid_bitfield = 0b10
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xE8, 0x03,
	}
}

func TestOnBytesStoresBeforeEnqueueing(t *testing.T) {
	reg := testRegistry(t)
	st := &fakeStore{}
	br := &fakeBroker{}
	p := New(reg, st, br)

	p.OnBytes(fakeTransport{"t1"}, frameWithEpoch())

	require.Len(t, st.appended, 1)
	require.Len(t, br.enqueued, 1)
	assert.Equal(t, "rpm", st.appended[0].Sensor)
	assert.Equal(t, float64(1000), st.appended[0].Value)
	assert.InDelta(t, 1.0, st.appended[0].Epoch, 0.0001)
}

func TestOnBytesFallsBackToWallClockWhenNoEpochField(t *testing.T) {
	reg := testRegistry(t)
	st := &fakeStore{}
	br := &fakeBroker{}
	p := New(reg, st, br)

	original := nowFunc
	defer func() { nowFunc = original }()
	nowFunc = func() float64 { return 42.5 }

	p.OnBytes(fakeTransport{"t1"}, frameNoEpoch())

	require.Len(t, st.appended, 1)
	assert.Equal(t, 42.5, st.appended[0].Epoch)
}

func TestOnBytesSkipsEnqueueOnStoreError(t *testing.T) {
	reg := testRegistry(t)
	st := &fakeStore{failOn: "rpm"}
	br := &fakeBroker{}
	p := New(reg, st, br)

	p.OnBytes(fakeTransport{"t1"}, frameWithEpoch())

	assert.Empty(t, st.appended)
	assert.Empty(t, br.enqueued)
}

func TestOnBytesDropsRemainderOnCodecError(t *testing.T) {
	reg := testRegistry(t)
	st := &fakeStore{}
	br := &fakeBroker{}
	p := New(reg, st, br)

	good := frameWithEpoch()
	bad := []byte{0x02, 0x00} // bad start byte
	buf := append(append([]byte{}, good...), bad...)

	p.OnBytes(fakeTransport{"t1"}, buf)

	require.Len(t, st.appended, 1)
	assert.Equal(t, "rpm", st.appended[0].Sensor)
}

func TestOnConnectAndOnLostDoNotPanic(t *testing.T) {
	reg := testRegistry(t)
	p := New(reg, &fakeStore{}, &fakeBroker{})

	p.OnConnect(fakeTransport{"t1"})
	p.OnLost(fakeTransport{"t1"}, nil)
	p.OnLost(fakeTransport{"t1"}, errors.New("boom"))
}
