// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the Transport Factory (C3): a single
// Transport contract over three concrete byte-stream sources — a TCP
// server, a TCP client, and an XBee serial radio — per spec section 4.3.
package transport

import "context"

// Handler receives the lifecycle and data callbacks of one Transport
// endpoint. The factory serialises delivery of OnBytes for a single
// Transport; across different Transports, delivery proceeds concurrently.
type Handler interface {
	// OnConnect fires once per successful session open.
	OnConnect(t Transport)
	// OnBytes fires once per inbound delivery, in order. Buffers may
	// coalesce or split across network writes.
	OnBytes(t Transport, buf []byte)
	// OnLost fires once per session close. reason is nil on a clean close.
	OnLost(t Transport, reason error)
}

// Transport is an open, addressable byte-stream connection to a peer —
// an accepted TCP socket, an outbound TCP connection, or an XBee radio
// session. Implementations are created on "connection made" and become
// unusable after OnLost has fired.
type Transport interface {
	// ID identifies this endpoint ("peer_ip:peer_port" for TCP, the radio
	// tuple for XBee).
	ID() string
	// Write pushes bytes to the peer.
	Write(buf []byte) error
	// Close tears down the session, triggering OnLost if not already
	// fired.
	Close() error
}

// Listener is implemented by transport variants that accept a connection
// and then run their own read loop until ctx is cancelled or the
// connection is lost.
type Listener interface {
	Serve(ctx context.Context, h Handler) error
}
