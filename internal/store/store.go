// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the Staging Store (C5): a durable, per-sensor,
// time-keyed append store with top-N / time-range / combined queries
// (spec section 4.5). Every configured sensor gets its own table in a
// single sqlite database file (spec section 6, "Persisted state"), via
// mattn/go-sqlite3 + jmoiron/sqlx, mirroring the original
// `serverdatabase.py`'s one-table-per-sensor layout.
//
// A fast in-memory cache (one append-ordered slice per sensor, guarded by
// a single RWMutex — single-lock-many-readers, with no cluster/host
// hierarchy to shard across) serves every read; sqlite is written
// through on commit() only, so append() never blocks on disk I/O.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sufst/intermediate-server/internal/sample"
)

// ErrUnknownSensor is returned by Append when the series has never been
// created via EnsureSeries (spec section 4.5 / section 7).
var ErrUnknownSensor = errors.New("unknown sensor")

// series holds one sensor's in-memory cache plus the bookkeeping needed to
// commit only what has not yet been written to disk.
type series struct {
	samples   []sample.Sample
	committed int // samples[:committed] have already been written to sqlite
}

// Store is the Staging Store. It is safe for one writer and many
// concurrent readers (spec section 4.5).
type Store struct {
	mu     sync.RWMutex
	db     *sqlx.DB
	byName map[string]*series
}

// Open creates (if needed) and opens the sqlite database at path, then
// hydrates the in-memory cache from any tables already present so that
// "after commit(), reopening the store and querying returns all
// previously appended samples" holds across process restarts (spec
// section 8, property 5).
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db: db, byName: make(map[string]*series)}

	tables, err := s.listTables()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: listing existing tables: %w", err)
	}

	for _, name := range tables {
		if err := s.hydrate(name); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: hydrating %q: %w", name, err)
		}
	}

	return s, nil
}

func (s *Store) listTables() ([]string, error) {
	var names []string
	rows, err := s.db.Queryx(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) hydrate(name string) error {
	rows, err := s.db.Queryx(fmt.Sprintf(`SELECT time, value FROM %q ORDER BY id ASC`, name))
	if err != nil {
		return err
	}
	defer rows.Close()

	ser := &series{}
	for rows.Next() {
		var sm sample.Sample
		if err := rows.Scan(&sm.Epoch, &sm.Value); err != nil {
			return err
		}
		sm.Sensor = name
		ser.samples = append(ser.samples, sm)
	}
	ser.committed = len(ser.samples)
	s.byName[name] = ser
	return nil
}

// EnsureSeries creates the named series if it does not already exist.
// Idempotent: calling it twice has the same effect as calling it once
// (spec section 8).
func (s *Store) EnsureSeries(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSeriesLocked(name)
}

func (s *Store) ensureSeriesLocked(name string) error {
	if _, ok := s.byName[name]; ok {
		return nil
	}

	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (id INTEGER PRIMARY KEY AUTOINCREMENT, time REAL NOT NULL, value REAL NOT NULL)`, name))
	if err != nil {
		return fmt.Errorf("store: create table %q: %w", name, err)
	}

	s.byName[name] = &series{}
	return nil
}

// Append adds a sample to the named series. Fails with ErrUnknownSensor if
// the series has not been ensured.
func (s *Store) Append(name string, epoch, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}

	ser.samples = append(ser.samples, sample.Sample{Sensor: name, Epoch: epoch, Value: value})
	return nil
}

// TopN returns the n samples with the greatest epoch, newest-first. n == 0
// returns an empty slice; n greater than the series length returns the
// whole series, newest-first (spec section 8).
func (s *Store) TopN(name string, n int) ([]sample.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	if n <= 0 {
		return []sample.Sample{}, nil
	}

	sorted := sortedByEpochDesc(ser.samples)
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n], nil
}

// Range returns samples with t_lo <= epoch <= t_hi, in insertion order. A
// range where t_lo > t_hi returns an empty slice (spec section 8).
func (s *Store) Range(name string, tLo, tHi float64) ([]sample.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	if tLo > tHi {
		return []sample.Sample{}, nil
	}

	out := make([]sample.Sample, 0)
	for _, sm := range ser.samples {
		if sm.Epoch >= tLo && sm.Epoch <= tHi {
			out = append(out, sm)
		}
	}
	return out, nil
}

// TopNInRange returns the n greatest-epoch samples within [t_lo, t_hi],
// newest-first.
func (s *Store) TopNInRange(name string, n int, tLo, tHi float64) ([]sample.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	if n <= 0 || tLo > tHi {
		return []sample.Sample{}, nil
	}

	inRange := make([]sample.Sample, 0, len(ser.samples))
	for _, sm := range ser.samples {
		if sm.Epoch >= tLo && sm.Epoch <= tHi {
			inRange = append(inRange, sm)
		}
	}

	sorted := sortedByEpochDesc(inRange)
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n], nil
}

func sortedByEpochDesc(in []sample.Sample) []sample.Sample {
	out := make([]sample.Sample, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Epoch > out[j].Epoch })
	return out
}

// Commit guarantees durability of every prior Append: it flushes each
// series' uncommitted tail to sqlite in one batched transaction. Called on
// a fixed interval and on clean shutdown (spec section 4.5).
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin commit tx: %w", err)
	}

	for name, ser := range s.byName {
		pending := ser.samples[ser.committed:]
		if len(pending) == 0 {
			continue
		}

		stmt := fmt.Sprintf(`INSERT INTO %q (time, value) VALUES (:time, :value)`, name)
		for _, sm := range pending {
			if _, err := tx.NamedExec(stmt, sm); err != nil {
				tx.Rollback()
				return fmt.Errorf("store: commit %q: %w", name, err)
			}
		}
		ser.committed = len(ser.samples)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// Close closes the underlying database. Pending writes are NOT flushed
// here; callers should Commit explicitly before Close (mirrors the
// teacher's Shutdown() sequencing of a final checkpoint before teardown).
func (s *Store) Close() error {
	return s.db.Close()
}
