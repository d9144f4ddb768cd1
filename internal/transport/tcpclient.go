// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPClient is an outbound connection to a single remote endpoint: exactly
// one Transport per instance. Reconnection scheduling is the Controller's
// responsibility (spec section 4.3) — Serve attempts one connection and
// returns once it is lost or fails to open, so the Controller can re-invoke
// it on its own retry schedule.
type TCPClient struct {
	addr string
}

// NewTCPClient returns a client that will dial addr each time Serve is
// called.
func NewTCPClient(addr string) *TCPClient {
	return &TCPClient{addr: addr}
}

// Serve dials addr once. On success it blocks, delivering OnBytes until the
// connection is lost or ctx is cancelled, then returns nil. On dial failure
// it returns a TransportOpen-class error without ever calling any Handler
// method.
func (c *TCPClient) Serve(ctx context.Context, h Handler) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("tcp client dial %s: %w", c.addr, err)
	}

	peer := &tcpPeer{conn: conn, id: c.addr}
	peer.run(ctx, h)
	return nil
}
