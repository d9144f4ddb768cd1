// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package controller implements the Controller (C9): reads
// configuration, constructs every other component, owns the top-level
// context/cancel and WaitGroup, and drives graceful shutdown (spec
// section 4.9) following an Init/Shutdown pairing with an explicit
// instance rather than process-wide globals.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sufst/intermediate-server/internal/broker"
	"github.com/sufst/intermediate-server/internal/config"
	"github.com/sufst/intermediate-server/internal/emulator"
	"github.com/sufst/intermediate-server/internal/ingest"
	"github.com/sufst/intermediate-server/internal/queryserver"
	"github.com/sufst/intermediate-server/internal/schema"
	"github.com/sufst/intermediate-server/internal/store"
	"github.com/sufst/intermediate-server/internal/telelog"
	"github.com/sufst/intermediate-server/internal/transport"
)

// carEmulationNamespaces receive the full schema snapshot as a one-shot
// "config" event on connect, in addition to the "meta" event every
// subscriber gets (spec section 6: "config — ... sent on connect to
// car/emulation namespaces").
var carEmulationNamespaces = map[string]bool{"car": true, "emulation": true}

// ExitConfigInvalid and ExitTransportInit are the process exit codes for
// the two startup failure classes (spec section 6).
const (
	ExitConfigInvalid = 1
	ExitTransportInit = 2
)

// Controller wires and owns every component for the life of the process.
type Controller struct {
	cfg   config.Config
	reg   *schema.Registry
	store *store.Store
	bus   *broker.Broker

	query      *queryserver.Server
	httpServer *http.Server

	emu        *emulator.Emulator
	transports []transport.Listener
	natsConns  []*nats.Conn

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs every component from cfg but starts nothing yet. A
// non-nil error is transport-init class (IsTransportInitError,
// ExitTransportInit) when a transport could not be opened, and
// ExitConfigInvalid class otherwise.
func New(cfg config.Config) (*Controller, error) {
	reg, err := schema.New(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	st, err := store.Open(cfg.Server.Database)
	if err != nil {
		return nil, fmt.Errorf("controller: opening store: %w", err)
	}

	for _, name := range reg.SensorNames() {
		if err := st.EnsureSeries(name); err != nil {
			return nil, fmt.Errorf("controller: ensuring series %q: %w", name, err)
		}
	}

	bus := broker.New(reg)

	c := &Controller{
		cfg:   cfg,
		reg:   reg,
		store: st,
		bus:   bus,
	}

	c.query = queryserver.New(reg, st)

	if cfg.Emulation.Enable {
		emu, err := emulator.New(cfg.EmulationInterval(), cfg.Emulation.Sensors, st, bus)
		if err != nil {
			return nil, fmt.Errorf("controller: %w", err)
		}
		c.emu = emu
	} else {
		listeners, err := buildTransports(cfg)
		if err != nil {
			return nil, transportInitError{err}
		}
		c.transports = listeners
	}

	return c, nil
}

// transportInitError marks an error as ExitTransportInit-class so main can
// distinguish it from ExitConfigInvalid without string matching.
type transportInitError struct{ err error }

func (e transportInitError) Error() string { return e.err.Error() }
func (e transportInitError) Unwrap() error { return e.err }

// IsTransportInitError reports whether err came from transport
// construction (spec section 6, exit code 2).
func IsTransportInitError(err error) bool {
	var t transportInitError
	return errors.As(err, &t)
}

func buildTransports(cfg config.Config) ([]transport.Listener, error) {
	var listeners []transport.Listener

	if cfg.Client.Socket.Port != 0 {
		addr := fmt.Sprintf("%s:%d", cfg.Client.Socket.Host, cfg.Client.Socket.Port)
		srv, err := transport.NewTCPServer(addr)
		if err != nil {
			return nil, fmt.Errorf("tcp server %s: %w", addr, err)
		}
		listeners = append(listeners, srv)
	}

	if cfg.Client.XBee.Com != "" {
		radio, err := transport.NewXBeeRadio(transport.XBeeConfig{
			ComPort:   cfg.Client.XBee.Com,
			Baud:      cfg.Client.XBee.Baud,
			RemoteMAC: cfg.Client.XBee.MAC,
		})
		if err != nil {
			return nil, fmt.Errorf("xbee %s: %w", cfg.Client.XBee.Com, err)
		}
		listeners = append(listeners, radio)
	}

	if len(listeners) == 0 {
		return nil, errors.New("no transport configured (client.socket or client.xbee required when emulation is disabled)")
	}

	return listeners, nil
}

// Run starts every background task and blocks until ctx is cancelled,
// then performs the graceful shutdown sequence: stop accepting, drain
// Broker flushes once, commit the Store, close transports (spec section
// 4.9).
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	c.startHTTP(runCtx)
	c.startCommitTicker(runCtx)
	c.startSubscribers(runCtx)

	if c.emu != nil {
		c.wg.Add(1)
		go c.emu.Run(runCtx, &c.wg)
	} else {
		c.startTransports(runCtx)
	}

	<-runCtx.Done()
	return c.shutdown()
}

func (c *Controller) startHTTP(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Restful.URL, c.cfg.Restful.Port)
	c.httpServer = &http.Server{Addr: addr, Handler: c.query}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telelog.Errorf("controller: query server: %v", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.httpServer.Shutdown(shutdownCtx)
	}()
}

func (c *Controller) startCommitTicker(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CommitInterval())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.store.Commit(ctx); err != nil {
					telelog.Errorf("controller: store commit: %v", err)
				}
			}
		}
	}()
}

// startSubscribers dials the NATS server named by each cfg.SocketsIO
// entry and registers it on the Broker (spec section 4.9: "starts the
// Broker's flush tasks"). A subscriber whose NATS connection cannot be
// opened is logged and skipped rather than failing the Controller —
// push subscribers are optional dashboards, not required transports.
func (c *Controller) startSubscribers(ctx context.Context) {
	for name, sub := range c.cfg.SocketsIO {
		conn, err := nats.Connect(sub.URL)
		if err != nil {
			telelog.Warnf("controller: subscriber %s: nats connect %s failed: %v", name, sub.URL, err)
			continue
		}
		c.natsConns = append(c.natsConns, conn)

		emitter := broker.NewNATSEmitter(conn, sub.Namespace)
		if carEmulationNamespaces[sub.Namespace] {
			if err := emitter.EmitConfig(c.reg.Snapshot()); err != nil {
				telelog.Warnf("controller: subscriber %s: config announce failed: %v", name, err)
			}
		}

		c.bus.Register(ctx, &c.wg, broker.Config{
			Key:           name,
			FlushInterval: sub.FlushInterval(),
			MaxRetries:    sub.Retries,
		}, emitter)
	}
}

func (c *Controller) startTransports(ctx context.Context) {
	for _, l := range c.transports {
		dispatcher := ingest.NewDispatcher(c.reg, c.store, c.bus)

		c.wg.Add(1)
		go func(l transport.Listener) {
			defer c.wg.Done()
			if err := l.Serve(ctx, dispatcher); err != nil {
				telelog.Warnf("controller: transport serve: %v", err)
			}
		}(l)
	}
}

func (c *Controller) shutdown() error {
	c.cancel()
	c.wg.Wait()

	if err := c.store.Commit(context.Background()); err != nil {
		telelog.Errorf("controller: final store commit failed: %v", err)
		return err
	}

	for _, l := range c.transports {
		if closer, ok := l.(interface{ Close() error }); ok {
			closer.Close()
		}
	}

	for _, conn := range c.natsConns {
		conn.Close()
	}

	if err := c.store.Close(); err != nil {
		telelog.Warnf("controller: closing store: %v", err)
	}

	telelog.Infof("controller: clean shutdown, %d subscribers were connected", c.bus.SubscriberCount())
	return nil
}
