// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queryserver implements the Query Server (C7): an HTTP surface
// over the Staging Store (spec section 4.7), mounted on gorilla/mux with
// gorilla/handlers wrapping every request for access logging.
package queryserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sufst/intermediate-server/internal/sample"
	"github.com/sufst/intermediate-server/internal/schema"
	"github.com/sufst/intermediate-server/internal/store"
	"github.com/sufst/intermediate-server/internal/telelog"
)

// Store is the subset of the Staging Store (C5) the Query Server reads.
type Store interface {
	TopN(name string, n int) ([]sample.Sample, error)
	Range(name string, tLo, tHi float64) ([]sample.Sample, error)
	TopNInRange(name string, n int, tLo, tHi float64) ([]sample.Sample, error)
}

// nowFunc exists so tests can control what "now" means for timesince
// filters.
var nowFunc = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Server is the Query Server. It is an http.Handler and can be mounted
// directly on an *http.Server.
type Server struct {
	reg     *schema.Registry
	store   Store
	handler http.Handler
}

// New builds a Server ready to serve requests (via ServeHTTP) against reg/st.
func New(reg *schema.Registry, st Store) *Server {
	s := &Server{reg: reg, store: st}

	r := mux.NewRouter()
	r.StrictSlash(true)
	r.HandleFunc("/sensors", s.handleSensors).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{group}", s.handleSensorsByGroup).Methods(http.MethodGet)
	r.HandleFunc("/meta/sensors", s.handleMeta).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	s.handler = handlers.LoggingHandler(telelog.InfoWriter, r)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// response is the wire shape for every /sensors* reply (spec section
// 4.7).
type response struct {
	Status int                              `json:"status"`
	Epoch  float64                          `json:"epoch"`
	Result map[string]map[string][]wireItem `json:"result"`
}

type wireItem struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	s.writeSensorData(w, r, "")
}

func (s *Server) handleSensorsByGroup(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]
	s.writeSensorData(w, r, group)
}

func (s *Server) writeSensorData(w http.ResponseWriter, r *http.Request, group string) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	grouped := s.reg.SensorsByGroup(group)
	if group != "" && len(grouped) == 0 {
		writeError(w, http.StatusNotFound, errors.New("unknown group"))
		return
	}

	result := make(map[string]map[string][]wireItem)
	maxEpoch := 0.0

	for grp, names := range grouped {
		sensors := make(map[string][]wireItem)
		for _, name := range names {
			samples, newestFirst, err := s.query(name, filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			items := toWireOldestFirst(samples, newestFirst)
			sensors[name] = items
			for _, it := range items {
				if it.Time > maxEpoch {
					maxEpoch = it.Time
				}
			}
		}
		result[grp] = sensors
	}

	writeJSON(w, http.StatusOK, response{Status: http.StatusOK, Epoch: maxEpoch, Result: result})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	type metaResponse struct {
		Status int                                    `json:"status"`
		Result map[string]map[string]schema.SensorConfig `json:"result"`
	}

	out := make(map[string]map[string]schema.SensorConfig)
	for name, meta := range s.reg.Sensors() {
		grp := out[meta.Group]
		if grp == nil {
			grp = make(map[string]schema.SensorConfig)
			out[meta.Group] = grp
		}
		grp[name] = meta
	}

	writeJSON(w, http.StatusOK, metaResponse{Status: http.StatusOK, Result: out})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, errors.New("unknown route"))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, errors.New("unsupported verb"))
}

// filter is the parsed amount/timesince query pair (spec section 4.7).
type filter struct {
	hasAmount    bool
	amount       int
	hasTimesince bool
	timesince    float64
}

func parseFilter(q map[string][]string) (filter, error) {
	var f filter

	if vs, ok := q["amount"]; ok && len(vs) > 0 {
		n, err := strconv.Atoi(vs[0])
		if err != nil || n <= 0 {
			return filter{}, errors.New("amount must be a positive integer")
		}
		f.hasAmount = true
		f.amount = n
	}

	if vs, ok := q["timesince"]; ok && len(vs) > 0 {
		t, err := strconv.ParseFloat(vs[0], 64)
		if err != nil {
			return filter{}, errors.New("timesince must be a float")
		}
		f.hasTimesince = true
		f.timesince = t
	}

	return f, nil
}

// query dispatches to the right Store primitive per spec section 4.7's
// filter table. The returned bool reports whether the result came back
// newest-first (top_n / top_n_in_range) and therefore needs reversing;
// range() is already insertion order and is passed through unreversed.
func (s *Server) query(name string, f filter) ([]sample.Sample, bool, error) {
	switch {
	case f.hasAmount && f.hasTimesince:
		samples, err := s.store.TopNInRange(name, f.amount, f.timesince, nowFunc())
		return samples, true, unwrapUnknownSensor(err)
	case f.hasAmount:
		samples, err := s.store.TopN(name, f.amount)
		return samples, true, unwrapUnknownSensor(err)
	case f.hasTimesince:
		samples, err := s.store.Range(name, f.timesince, nowFunc())
		return samples, false, unwrapUnknownSensor(err)
	default:
		return nil, false, nil
	}
}

// unwrapUnknownSensor treats a sensor whose series the Store has never
// created (EnsureSeries was not called for it) as "no data yet" rather
// than a server error: the sensor is still a valid, configured one, it
// just has no series to read.
func unwrapUnknownSensor(err error) error {
	if errors.Is(err, store.ErrUnknownSensor) {
		return nil
	}
	return err
}

// toWireOldestFirst converts samples to wire items, reversing when they
// arrived newest-first so every reply is oldest-first regardless of which
// Store primitive produced it (spec section 4.7).
func toWireOldestFirst(samples []sample.Sample, newestFirst bool) []wireItem {
	items := make([]wireItem, len(samples))
	for i, sm := range samples {
		idx := i
		if newestFirst {
			idx = len(samples) - 1 - i
		}
		items[idx] = wireItem{Time: sm.Epoch, Value: sm.Value}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telelog.Errorf("queryserver: encode response: %v", err)
	}
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Status: status, Message: err.Error()})
	telelog.Warnf("queryserver: %d: %v", status, err)
}
